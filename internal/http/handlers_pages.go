package http

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"stablewatch/internal/analytics"
	"stablewatch/internal/auth"
	"stablewatch/internal/core"
	"stablewatch/internal/log"
)

type (
	statsView struct {
		TotalVolume       string
		TotalTransactions int
		AnomalyCount      int
		AvgTransaction    string
	}

	barRow struct {
		Label string
		Value float64
		Max   float64
	}

	seriesRow struct {
		Label     string
		Volume    float64
		Count     int
		Anomalies int
	}

	counterpartyRow struct {
		Address string
		Volume  float64
		Count   int
		Fill    string
	}

	anomalyRow struct {
		Amount float64
		When   string
		Score  string
	}

	txRow struct {
		Hash    string
		When    string
		Amount  string
		From    string
		To      string
		Anomaly bool
	}

	dashboardView struct {
		Username    string
		Window      string
		GeneratedAt string
		Stats       statsView
		Series      []seriesRow
		HourOfDay   []barRow
		DayOfWeek   []barRow
		Top         []counterpartyRow
		Anomalies   []anomalyRow
		Recent      []txRow
	}

	loginView struct {
		Error    string
		Username string
	}
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentTemplate)

	now := s.now()
	sum, err := s.store.ReadSummary(ctx, now.Add(-s.cfg.DashboardWindow))
	if err != nil {
		logger.ErrorContext(ctx, "Summary read failed", log.FieldError, err.Error())
		http.Error(w, "failed to load dashboard", http.StatusInternalServerError)
		return
	}
	res, err := s.analytics(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Analytics failed", log.FieldError, err.Error())
		http.Error(w, "failed to load dashboard", http.StatusInternalServerError)
		return
	}
	recent, err := s.store.ListTransactions(ctx, recentRows)
	if err != nil {
		logger.ErrorContext(ctx, "Transaction list failed", log.FieldError, err.Error())
		http.Error(w, "failed to load dashboard", http.StatusInternalServerError)
		return
	}

	user, _ := auth.UsernameFromContext(ctx)
	view := s.buildDashboard(sum, res, recent, now)
	view.Username = user
	s.render(w, r, http.StatusOK, "index.html", view)
}

func (s *Server) buildDashboard(sum core.Summary, res analytics.Result, recent []core.Transaction, now time.Time) dashboardView {
	data := newDashboardData(sum)
	view := dashboardView{
		Window:      s.cfg.DashboardWindow.String(),
		GeneratedAt: core.FormatTime(now.In(s.cfg.Location)),
		Stats: statsView{
			TotalVolume:       core.FormatCurrency(data.TotalVolume),
			TotalTransactions: data.TotalTransactions,
			AnomalyCount:      data.AnomalyCount,
			AvgTransaction:    core.FormatCurrency(data.AvgTransaction),
		},
		HourOfDay: bars(res.HourOfDay),
		DayOfWeek: bars(res.DayOfWeek),
	}

	for _, b := range res.TimeSeries {
		view.Series = append(view.Series, seriesRow{
			Label:     b.Hour,
			Volume:    b.Volume,
			Count:     b.Count,
			Anomalies: b.AnomalyCount,
		})
	}
	for _, c := range res.TopCounterparties {
		view.Top = append(view.Top, counterpartyRow{
			Address: c.Address,
			Volume:  c.Volume,
			Count:   c.Count,
			Fill:    c.Fill,
		})
	}
	for _, a := range res.Anomalies {
		row := anomalyRow{
			Amount: a.Amount,
			When:   "unknown",
			Score:  strconv.FormatFloat(a.Score, 'f', 3, 64),
		}
		if a.Timestamp != nil {
			row.When = core.FormatTime(a.Timestamp.In(s.cfg.Location))
		}
		view.Anomalies = append(view.Anomalies, row)
	}
	for _, tx := range recent {
		row := txRow{
			Hash:    core.ShortenAddress(tx.Hash),
			When:    "unknown",
			Amount:  core.FormatCurrency(tx.AmountOrZero()),
			From:    core.ShortenAddress(tx.FromAddress),
			To:      core.ShortenAddress(tx.ToAddress),
			Anomaly: tx.Anomalous(),
		}
		if t, ok := tx.Time(s.cfg.Location); ok {
			row.When = core.FormatTime(t)
		}
		view.Recent = append(view.Recent, row)
	}
	return view
}

// bars attaches the series maximum to each bucket so templates can draw
// proportional meters.
func bars(buckets []analytics.DistributionBucket) []barRow {
	var top float64
	for _, b := range buckets {
		if b.Value > top {
			top = b.Value
		}
	}
	if top == 0 {
		top = 1
	}
	rows := make([]barRow, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, barRow{Label: b.Label, Value: b.Value, Max: top})
	}
	return rows
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if tok := auth.TokenFromRequest(r); tok != "" {
		if _, err := s.auth.Verify(tok); err == nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}
	s.render(w, r, http.StatusOK, "login.html", loginView{})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.render(w, r, http.StatusBadRequest, "login.html", loginView{Error: "Invalid request"})
		return
	}

	username := p.Get("username")
	token, err := s.auth.Login(username, p.Get("password"))
	if err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentAuth).WarnContext(r.Context(), "Login rejected",
			log.FieldOperation, log.OpLogin,
			log.FieldClientIP, s.detector.ExtractClientIP(r))
		s.render(w, r, http.StatusUnauthorized, "login.html", loginView{Error: "Invalid username or password", Username: username})
		return
	}

	http.SetCookie(w, sessionCookie(r, token, s.auth.TTL()))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, clearedSessionCookie(r))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// render executes a template into a buffer first so a failing template
// never leaves a half-written page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentTemplate).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpRender,
			"template", name)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
