// Package chain reads ERC-20 token transfers from an Alchemy-compatible
// JSON-RPC endpoint.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stablewatch/internal/core"
	"stablewatch/internal/retry"
)

const methodGetAssetTransfers = "alchemy_getAssetTransfers"

// StatusError reports a non-2xx HTTP response from the RPC endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc status=%d", e.Code)
}

// RPCError is a JSON-RPC error object returned in the response body.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type Config struct {
	URL       string
	Contract  string
	Decimals  int
	BatchSize int
	Timeout   time.Duration
	Retry     retry.Policy
}

type Client struct {
	cfg    Config
	hc     *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type transferParams struct {
	FromBlock         string   `json:"fromBlock"`
	ToBlock           string   `json:"toBlock"`
	ContractAddresses []string `json:"contractAddresses"`
	Category          []string `json:"category"`
	WithMetadata      bool     `json:"withMetadata"`
	ExcludeZeroValue  bool     `json:"excludeZeroValue"`
	MaxCount          string   `json:"maxCount"`
	Order             string   `json:"order"`
}

type transfersResult struct {
	Transfers []Transfer `json:"transfers"`
	PageKey   string     `json:"pageKey"`
}

// Transfer is one entry of an alchemy_getAssetTransfers result.
type Transfer struct {
	Hash        string   `json:"hash"`
	BlockNum    string   `json:"blockNum"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       *float64 `json:"value"`
	RawContract struct {
		Value   string `json:"value"`
		Address string `json:"address"`
		Decimal string `json:"decimal"`
	} `json:"rawContract"`
	Metadata struct {
		BlockTimestamp string `json:"blockTimestamp"`
	} `json:"metadata"`
}

// FetchTransfers returns the most recent token transfers, newest first,
// at most BatchSize of them.
func (c *Client) FetchTransfers(ctx context.Context) ([]core.Transaction, error) {
	params := transferParams{
		FromBlock:         "0x0",
		ToBlock:           "latest",
		ContractAddresses: []string{c.cfg.Contract},
		Category:          []string{"erc20"},
		WithMetadata:      true,
		ExcludeZeroValue:  true,
		MaxCount:          "0x" + strconv.FormatInt(int64(c.cfg.BatchSize), 16),
		Order:             "desc",
	}

	var result transfersResult
	policy := c.cfg.Retry
	policy.Classify = classify
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.logger.WarnContext(ctx, "RPC call failed, retrying",
			"method", methodGetAssetTransfers,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var attempt transfersResult
		if err := c.call(ctx, methodGetAssetTransfers, []any{params}, &attempt); err != nil {
			return err
		}
		result = attempt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch transfers: %w", err)
	}

	out := make([]core.Transaction, 0, len(result.Transfers))
	for _, t := range result.Transfers {
		out = append(out, t.toTransaction(c.cfg.Decimals))
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	return json.Unmarshal(rr.Result, out)
}

// classify retries transport failures, 5xx and 429; everything else is fatal.
func classify(err error) retry.Class {
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusTooManyRequests || se.Code >= 500 {
			return retry.Retryable
		}
		return retry.Fatal
	}
	var re *RPCError
	if errors.As(err, &re) {
		if re.Code == 429 {
			return retry.Retryable
		}
		return retry.Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Fatal
	}
	return retry.Retryable
}

func (t Transfer) toTransaction(fallbackDecimals int) core.Transaction {
	tx := core.Transaction{
		Hash:        t.Hash,
		Timestamp:   t.Metadata.BlockTimestamp,
		FromAddress: t.From,
		ToAddress:   t.To,
	}
	decimals := fallbackDecimals
	if d, ok := parseHexInt(t.RawContract.Decimal); ok {
		decimals = int(d.Int64())
	}
	if amount, ok := TokenAmount(t.RawContract.Value, decimals); ok {
		tx.Amount = core.Float64(amount)
	} else if t.Value != nil {
		tx.Amount = core.Float64(*t.Value)
	}
	return tx
}

// TokenAmount converts a 0x-prefixed raw token quantity into whole units.
func TokenAmount(rawHex string, decimals int) (float64, bool) {
	n, ok := parseHexInt(rawHex)
	if !ok {
		return 0, false
	}
	return decimal.NewFromBigInt(n, int32(-decimals)).InexactFloat64(), true
}

func parseHexInt(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}
