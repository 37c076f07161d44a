package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/executor/venue"
)

// fakeBridge is an in-process terminal bridge speaking the rpc dialect.
type fakeBridge struct {
	mu        sync.Mutex
	authed    map[string]bool // account -> live session
	placeWait time.Duration
	orders    int
}

func (b *fakeBridge) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var account string
		defer func() {
			if account != "" {
				b.mu.Lock()
				delete(b.authed, account)
				b.mu.Unlock()
			}
		}()

		for {
			var req rpcRequest
			var params map[string]string
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env struct {
				ID     uint64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(raw, &env); err != nil {
				return
			}
			req.ID, req.Method = env.ID, env.Method
			if len(env.Params) > 0 {
				if err := json.Unmarshal(env.Params, &params); err != nil {
					return
				}
			}

			var resp rpcResponse
			resp.ID = req.ID
			switch req.Method {
			case "auth":
				acct := params["account"]
				b.mu.Lock()
				if b.authed == nil {
					b.authed = make(map[string]bool)
				}
				if b.authed[acct] {
					b.mu.Unlock()
					resp.Error = &rpcError{Code: 409, Message: "session already active"}
					break
				}
				b.authed[acct] = true
				b.mu.Unlock()
				account = acct
				resp.Result = json.RawMessage(`{}`)
			case "ping":
				resp.Result = json.RawMessage(`{}`)
			case "order.place":
				b.mu.Lock()
				wait := b.placeWait
				b.orders++
				b.mu.Unlock()
				if wait > 0 {
					time.Sleep(wait)
				}
				if params["volume"] == "100" {
					resp.Error = &rpcError{Code: 1001, Message: "not enough money"}
					break
				}
				result, _ := json.Marshal(placeResult{
					OrderID:      "t-1",
					Status:       "filled",
					FilledPrice:  1.1,
					FilledVolume: 0.1,
				})
				resp.Result = result
			case "tick":
				if params["symbol"] != "EURUSD" {
					resp.Error = &rpcError{Code: 404, Message: "unknown symbol"}
					break
				}
				resp.Result = json.RawMessage(`{"bid": 1.0901, "ask": 1.0903}`)
			case "account.summary":
				resp.Result = json.RawMessage(`{
					"balance": 5000, "equity": 5100, "margin_used": 50,
					"free_margin": 5050, "margin_level": 10200, "currency": "USD",
					"positions": [{"symbol": "EURUSD", "volume": 0.1, "avg_price": 1.09, "profit": 10}]
				}`)
			default:
				resp.Error = &rpcError{Code: 500, Message: "unknown method"}
			}

			out, _ := json.Marshal(resp)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}
}

func startBridge(t *testing.T) (*fakeBridge, string) {
	t.Helper()
	b := &fakeBridge{}
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func bridgeCreds() venue.Credentials {
	return venue.Credentials{Account: "12345", Token: "tok"}
}

func TestBridgeConnectAndPing(t *testing.T) {
	t.Parallel()

	_, url := startBridge(t)
	s := NewSession("bridge", url, map[string]string{"EUR_USD": "EURUSD"})
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Connect(context.Background(), bridgeCreds()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestBridgeDuplicateSessionIsCritical(t *testing.T) {
	t.Parallel()

	_, url := startBridge(t)
	first := NewSession("bridge", url, nil)
	t.Cleanup(func() { first.Close() })
	require.NoError(t, first.Connect(context.Background(), bridgeCreds()))

	second := NewSession("bridge", url, nil)
	t.Cleanup(func() { second.Close() })
	err := second.Connect(context.Background(), bridgeCreds())
	require.Error(t, err)
	assert.Equal(t, venue.KindSessionDuplicated, venue.KindOf(err))
	assert.Equal(t, venue.ClassCritical, venue.ClassOf(err))
}

func TestBridgePlaceOrderFills(t *testing.T) {
	t.Parallel()

	_, url := startBridge(t)
	s := NewSession("bridge", url, map[string]string{"EUR_USD": "EURUSD"})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connect(context.Background(), bridgeCreds()))

	resp, err := s.PlaceOrder(context.Background(), venue.Request{
		Venue:    "bridge",
		Symbol:   "EURUSD",
		Side:     "BUY",
		Type:     "MARKET",
		Units:    "0.1",
		ClientID: "01ABCDEF",
	})
	require.NoError(t, err)
	assert.Equal(t, "t-1", resp.OrderID)
	assert.True(t, resp.Filled)
	assert.Equal(t, "1.1", resp.FilledPrice)
	assert.Equal(t, "0.1", resp.FilledUnits)
}

func TestBridgeInsufficientFundsIsPermanent(t *testing.T) {
	t.Parallel()

	_, url := startBridge(t)
	s := NewSession("bridge", url, nil)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connect(context.Background(), bridgeCreds()))

	_, err := s.PlaceOrder(context.Background(), venue.Request{
		Symbol: "EURUSD", Side: "BUY", Type: "MARKET", Units: "100",
	})
	require.Error(t, err)
	assert.Equal(t, venue.KindInsufficientFunds, venue.KindOf(err))
	assert.False(t, venue.Retryable(err))
}

func TestBridgeCallTimeout(t *testing.T) {
	t.Parallel()

	b, url := startBridge(t)
	b.mu.Lock()
	b.placeWait = 300 * time.Millisecond
	b.mu.Unlock()

	s := NewSession("bridge", url, nil, WithCallTimeout(50*time.Millisecond))
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connect(context.Background(), bridgeCreds()))

	_, err := s.PlaceOrder(context.Background(), venue.Request{
		Symbol: "EURUSD", Side: "BUY", Type: "MARKET", Units: "0.1",
	})
	require.Error(t, err)
	assert.Equal(t, venue.KindTimeout, venue.KindOf(err))
}

func TestBridgeMarketTick(t *testing.T) {
	t.Parallel()

	_, url := startBridge(t)
	s := NewSession("bridge", url, map[string]string{"EUR_USD": "EURUSD"})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connect(context.Background(), bridgeCreds()))

	bid, ask, err := s.MarketTick(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, 1.0901, bid)
	assert.Equal(t, 1.0903, ask)

	_, _, err = s.MarketTick(context.Background(), "GBP_USD")
	require.Error(t, err)
	assert.Equal(t, venue.KindInvalidInstrument, venue.KindOf(err))
}

func TestBridgeAccountSnapshotMapsSymbols(t *testing.T) {
	t.Parallel()

	_, url := startBridge(t)
	s := NewSession("bridge", url, map[string]string{"EUR_USD": "EURUSD"})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connect(context.Background(), bridgeCreds()))

	snap, err := s.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000.0, snap.Balance)
	assert.Equal(t, 5100.0, snap.Equity)
	assert.Equal(t, "USD", snap.Currency)

	pos, ok := snap.Positions["EUR_USD"]
	require.True(t, ok)
	assert.Equal(t, 0.1, pos.Units)
	assert.Equal(t, 1.09, pos.AveragePrice)
}
