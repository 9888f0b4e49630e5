package http

import (
	"errors"
	"net/http"

	"stablewatch/internal/auth"
	"stablewatch/internal/core"
	"stablewatch/internal/log"
)

// maxListLimit caps /api/transactions page size.
const maxListLimit = 5000

// DashboardData is the payload of /api/dashboard-data.
type DashboardData struct {
	TotalVolume       float64 `json:"total_volume"`
	TotalTransactions int     `json:"total_transactions"`
	AnomalyCount      int     `json:"anomaly_count"`
	AvgTransaction    float64 `json:"avg_transaction"`
}

func newDashboardData(sum core.Summary) DashboardData {
	d := DashboardData{
		TotalVolume:       sum.TotalVolume,
		TotalTransactions: sum.TotalTransactions,
		AnomalyCount:      sum.AnomalyCount,
	}
	if sum.TotalTransactions > 0 {
		d.AvgTransaction = sum.TotalVolume / float64(sum.TotalTransactions)
	}
	return d
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

func (s *Server) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentAuth)

	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid login payload").Write(w, r)
		return
	}

	token, err := s.auth.Login(p.Get("username"), p.Get("password"))
	if err != nil {
		logger.WarnContext(r.Context(), "Login rejected",
			log.FieldOperation, log.OpLogin,
			log.FieldClientIP, s.detector.ExtractClientIP(r))
		UnauthorizedError(auth.ErrInvalidCredentials.Error()).Write(w, r)
		return
	}

	logger.InfoContext(r.Context(), "Login succeeded", log.FieldOperation, log.OpLogin)
	NewJSONResponse(loginResponse{Token: token, ExpiresIn: int64(s.auth.TTL().Seconds())}).
		Cookie(sessionCookie(r, token, s.auth.TTL())).
		Write(w, r)
}

func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	since := s.now().Add(-s.cfg.DashboardWindow)
	sum, err := s.store.ReadSummary(r.Context(), since)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Summary read failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpList)
		InternalServerError("failed to read summary").Write(w, r)
		return
	}
	NewJSONResponse(newDashboardData(sum)).Write(w, r)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query(), s.cfg.TransactionsLimit, maxListLimit)
	txs, err := s.store.ListTransactions(r.Context(), limit)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Transaction list failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpList)
		InternalServerError("failed to list transactions").Write(w, r)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	NewJSONResponse(txs).Write(w, r)
}

func (s *Server) handleIngestTransactions(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, err.Error()).Write(w, r)
			return
		}
		BadRequestError("failed to read body").Write(w, r)
		return
	}

	txs := core.DecodeTransactions(raw)
	if txs == nil {
		BadRequestError("expected a JSON array of transactions").Write(w, r)
		return
	}

	res, err := s.ingester.Ingest(r.Context(), txs)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Manual ingest failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpStore)
		InternalServerError("failed to store transactions").Write(w, r)
		return
	}

	status := http.StatusOK
	if res.Inserted > 0 {
		status = http.StatusCreated
	}
	NewJSONResponse(res).Status(status).Write(w, r)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	res, err := s.analytics(r.Context())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Analytics failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpList)
		InternalServerError("failed to compute analytics").Write(w, r)
		return
	}
	NewJSONResponse(res).Write(w, r)
}
