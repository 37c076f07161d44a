// Package bridge is the websocket terminal-bridge venue adapter. The
// bridge speaks a small JSON-RPC dialect: every request carries an id,
// every response echoes it, and a read loop correlates them so calls can
// run concurrently over the one connection.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/executor/venue"
)

type rpcRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// mapBridgeCode translates a bridge error code onto the taxonomy. 409 is
// the terminal refusing a second session for the same account, which is
// critical: the manager halts the venue until an operator reset.
func mapBridgeCode(code int) venue.Kind {
	switch code {
	case 401, 403:
		return venue.KindAuth
	case 404:
		return venue.KindInvalidInstrument
	case 409:
		return venue.KindSessionDuplicated
	case 422:
		return venue.KindUnitMismatch
	case 429:
		return venue.KindRateLimited
	case 1001:
		return venue.KindInsufficientFunds
	case 1002:
		return venue.KindOrderNotFound
	default:
		return venue.KindUnknownVenue
	}
}

// Session is one websocket connection to the terminal bridge.
type Session struct {
	venue       venue.ID
	url         string
	dialer      *websocket.Dialer
	log         *slog.Logger
	callTimeout time.Duration

	// symbols maps universal symbols to bridge symbols; inverse goes the
	// other way for position reports.
	symbols map[string]string
	inverse map[string]string

	// writeMu serializes frame writes; gorilla allows one writer at a
	// time.
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan rpcResponse
}

// SessionOption adjusts a Session at construction.
type SessionOption func(*Session)

// WithCallTimeout bounds each bridge round trip.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.callTimeout = d }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) SessionOption {
	return func(s *Session) { s.dialer = d }
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession builds a session that will dial the given ws:// url over
// the given symbol table (universal symbol -> bridge symbol).
func NewSession(v venue.ID, url string, symbols map[string]string, opts ...SessionOption) *Session {
	s := &Session{
		venue:       v,
		url:         url,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:         slog.Default(),
		callTimeout: 10 * time.Second,
		symbols:     make(map[string]string, len(symbols)),
		inverse:     make(map[string]string, len(symbols)),
		pending:     make(map[uint64]chan rpcResponse),
	}
	for sym, bs := range symbols {
		s.symbols[sym] = bs
		s.inverse[bs] = sym
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("venue", string(v)))
	return s
}

// Connect dials the bridge and authenticates with the account and token.
// A second session for the same account is refused with code 409, which
// surfaces as SESSION_DUPLICATED.
func (s *Session) Connect(ctx context.Context, creds venue.Credentials) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return venue.WrapErr(s.venue, venue.KindOf(err), err)
	}

	s.mu.Lock()
	if s.conn != nil {
		old := s.conn
		s.conn = nil
		old.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)

	params := map[string]string{"account": creds.Account, "token": creds.Token}
	if err := s.call(ctx, "auth", params, nil); err != nil {
		s.Close()
		return err
	}
	s.log.Info("bridge session authenticated")
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.failPending(conn)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			s.log.Warn("undecodable bridge frame", slog.Any("error", err))
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		delete(s.pending, resp.ID)
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// failPending closes every waiter's channel after the connection drops,
// provided the connection is still the current one.
func (s *Session) failPending(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.conn = nil
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// call runs one correlated round trip. Deadline overruns surface as
// TIMEOUT; the coordinator decides whether that means ambiguous.
func (s *Session) call(ctx context.Context, method string, params, out any) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return venue.Errf(s.venue, venue.KindUnavailable, "bridge not connected")
	}
	s.nextID++
	id := s.nextID
	ch := make(chan rpcResponse, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	drop := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	raw, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		drop()
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(s.callTimeout))
	err = conn.WriteMessage(websocket.TextMessage, raw)
	s.writeMu.Unlock()
	if err != nil {
		drop()
		return venue.WrapErr(s.venue, venue.KindNetwork, err)
	}

	timer := time.NewTimer(s.callTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		drop()
		return venue.WrapErr(s.venue, venue.KindOf(ctx.Err()), ctx.Err())
	case <-timer.C:
		drop()
		return venue.Errf(s.venue, venue.KindTimeout, "%s timed out after %s", method, s.callTimeout)
	case resp, ok := <-ch:
		if !ok {
			return venue.Errf(s.venue, venue.KindNetwork, "connection lost during %s", method)
		}
		if resp.Error != nil {
			return venue.Errf(s.venue, mapBridgeCode(resp.Error.Code), "%s (code %d)", resp.Error.Message, resp.Error.Code)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return venue.WrapErr(s.venue, venue.KindUnknownVenue, fmt.Errorf("decode %s result: %w", method, err))
			}
		}
		return nil
	}
}

type placeResult struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"` // accepted, filled, partial
	FilledPrice  float64 `json:"filled_price"`
	FilledVolume float64 `json:"filled_volume"`
}

// PlaceOrder sends one translated order over the bridge.
func (s *Session) PlaceOrder(ctx context.Context, req venue.Request) (venue.Response, error) {
	params := map[string]string{
		"symbol":      req.Symbol,
		"side":        req.Side,
		"type":        req.Type,
		"volume":      req.Units,
		"price":       req.Price,
		"stop_loss":   req.StopLoss,
		"take_profit": req.TakeProfit,
		"client_id":   req.ClientID,
		"comment":     req.Comment,
	}
	var res placeResult
	if err := s.call(ctx, "order.place", params, &res); err != nil {
		return venue.Response{}, err
	}
	return venue.Response{
		Venue:        s.venue,
		OrderID:      res.OrderID,
		Code:         "0",
		FilledPrice:  formatFloat(res.FilledPrice),
		FilledUnits:  formatFloat(res.FilledVolume),
		Filled:       res.Status == "filled",
		PartialFill:  res.Status == "partial",
		ReceivedTime: time.Now().UTC(),
	}, nil
}

type accountSummary struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	MarginUsed  float64 `json:"margin_used"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Currency    string  `json:"currency"`
	Positions   []struct {
		Symbol   string  `json:"symbol"`
		Volume   float64 `json:"volume"`
		AvgPrice float64 `json:"avg_price"`
		Profit   float64 `json:"profit"`
	} `json:"positions"`
}

// AccountSnapshot queries the terminal's account summary.
func (s *Session) AccountSnapshot(ctx context.Context) (venue.AccountSnapshot, error) {
	var sum accountSummary
	if err := s.call(ctx, "account.summary", nil, &sum); err != nil {
		return venue.AccountSnapshot{}, err
	}
	snap := venue.AccountSnapshot{
		Balance:     sum.Balance,
		Equity:      sum.Equity,
		MarginUsed:  sum.MarginUsed,
		FreeMargin:  sum.FreeMargin,
		MarginLevel: sum.MarginLevel,
		Currency:    sum.Currency,
		Positions:   make(map[string]venue.Position, len(sum.Positions)),
		Taken:       time.Now().UTC(),
	}
	for _, p := range sum.Positions {
		sym := p.Symbol
		if u, ok := s.inverse[sym]; ok {
			sym = u
		}
		snap.Positions[sym] = venue.Position{
			Symbol:       sym,
			Units:        p.Volume,
			AveragePrice: p.AvgPrice,
			UnrealizedPL: p.Profit,
		}
	}
	return snap, nil
}

// MarketTick asks the terminal for the current bid/ask on a universal
// symbol.
func (s *Session) MarketTick(ctx context.Context, symbol string) (bid, ask float64, err error) {
	bs, ok := s.symbols[symbol]
	if !ok {
		return 0, 0, venue.Errf(s.venue, venue.KindInvalidInstrument, "unknown symbol %s", symbol)
	}
	var res struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	}
	if err := s.call(ctx, "tick", map[string]string{"symbol": bs}, &res); err != nil {
		return 0, 0, err
	}
	return res.Bid, res.Ask, nil
}

// Ping runs the bridge's ping method.
func (s *Session) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", nil, nil)
}

// Close drops the connection and fails every in-flight call.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
