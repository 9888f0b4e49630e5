package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stablewatch/internal/retry"
)

const transfersBody = `{
  "jsonrpc": "2.0",
  "id": 1,
  "result": {
    "transfers": [
      {
        "hash": "0xaaa",
        "from": "0x1111111111111111111111111111111111111111",
        "to": "0x2222222222222222222222222222222222222222",
        "value": 1.5,
        "rawContract": {"value": "0x16e360", "address": "0x1c7d", "decimal": "0x6"},
        "metadata": {"blockTimestamp": "2024-01-15T10:30:00.000Z"}
      },
      {
        "hash": "0xbbb",
        "from": "0x3333333333333333333333333333333333333333",
        "to": "0x4444444444444444444444444444444444444444",
        "value": 42,
        "rawContract": {"value": null, "address": "0x1c7d", "decimal": null},
        "metadata": {"blockTimestamp": "2024-01-15T10:29:00.000Z"}
      }
    ]
  }
}`

func testClient(url string) *Client {
	return NewClient(Config{
		URL:       url,
		Contract:  "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Decimals:  6,
		BatchSize: 100,
		Retry:     retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil)
}

func TestFetchTransfers(t *testing.T) {
	var gotReq rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, transfersBody)
	}))
	defer srv.Close()

	txs, err := testClient(srv.URL).FetchTransfers(context.Background())
	if err != nil {
		t.Fatalf("FetchTransfers: %v", err)
	}

	if gotReq.Method != methodGetAssetTransfers {
		t.Errorf("method = %q", gotReq.Method)
	}
	params, _ := json.Marshal(gotReq.Params[0])
	var p transferParams
	_ = json.Unmarshal(params, &p)
	if p.MaxCount != "0x64" || p.Order != "desc" || len(p.ContractAddresses) != 1 {
		t.Errorf("unexpected params: %+v", p)
	}

	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	first := txs[0]
	if first.Hash != "0xaaa" || first.Timestamp != "2024-01-15T10:30:00.000Z" {
		t.Errorf("first = %+v", first)
	}
	if first.Amount == nil || *first.Amount != 1.5 {
		t.Errorf("first amount = %v, want 1.5 from raw value", first.Amount)
	}
	if txs[1].Amount == nil || *txs[1].Amount != 42 {
		t.Errorf("second amount = %v, want fallback value 42", txs[1].Amount)
	}
	if first.IsAnomaly != nil || first.AnomalyScore != nil {
		t.Error("chain records must not carry anomaly fields")
	}
}

func TestFetchTransfersRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, transfersBody)
	}))
	defer srv.Close()

	txs, err := testClient(srv.URL).FetchTransfers(context.Background())
	if err != nil {
		t.Fatalf("FetchTransfers: %v", err)
	}
	if calls.Load() != 3 || len(txs) != 2 {
		t.Errorf("calls=%d txs=%d, want 3 calls and 2 txs", calls.Load(), len(txs))
	}
}

func TestFetchTransfersDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchTransfers(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want StatusError 401", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetchTransfersDiscardsFailedAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// transfers decode, then pageKey has the wrong type
			io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"transfers":[{"hash":"0xstale","value":9}],"pageKey":7}}`)
			return
		}
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	txs, err := testClient(srv.URL).FetchTransfers(context.Background())
	if err != nil {
		t.Fatalf("FetchTransfers: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if len(txs) != 0 {
		t.Errorf("got %d transactions from a failed attempt: %+v", len(txs), txs)
	}
}

func TestFetchTransfersRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchTransfers(context.Background())
	var re *RPCError
	if !errors.As(err, &re) || re.Code != -32602 {
		t.Fatalf("err = %v, want RPCError -32602", err)
	}
}

func TestTokenAmount(t *testing.T) {
	tests := []struct {
		raw      string
		decimals int
		want     float64
		ok       bool
	}{
		{"0xf4240", 6, 1, true},
		{"0x16e360", 6, 1.5, true},
		{"0x0", 6, 0, true},
		{"0xde0b6b3a7640000", 18, 1, true},
		{"0x3e8", 0, 1000, true},
		{"", 6, 0, false},
		{"0xzz", 6, 0, false},
	}
	for _, tt := range tests {
		got, ok := TokenAmount(tt.raw, tt.decimals)
		if ok != tt.ok || got != tt.want {
			t.Errorf("TokenAmount(%q, %d) = %v, %v; want %v, %v", tt.raw, tt.decimals, got, ok, tt.want, tt.ok)
		}
	}
}
