// Package okx is the OKX v5 REST venue adapter: a rate-limited signed
// HTTP session plus the translator between the universal order model and
// the OKX wire format.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustyeddy/executor/venue"
)

const (
	// DefaultBaseURL is the production REST endpoint.
	DefaultBaseURL = "https://www.okx.com"

	tsLayout = "2006-01-02T15:04:05.000Z"

	pathBalance   = "/api/v5/account/balance"
	pathPositions = "/api/v5/account/positions"
	pathOrder     = "/api/v5/trade/order"
	pathAlgoOrder = "/api/v5/trade/order-algo"
	pathTime      = "/api/v5/public/time"
	pathTicker    = "/api/v5/market/ticker"
)

// Session is an authenticated OKX REST session. One per process; the
// connection manager owns it.
type Session struct {
	venue     venue.ID
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	log       *slog.Logger
	simulated bool
	tdMode    string

	// symbols maps universal symbols to OKX instrument ids, inverse the
	// other way for position reports.
	symbols map[string]string
	inverse map[string]string

	mu        sync.Mutex
	creds     venue.Credentials
	connected bool
}

// Option adjusts a Session at construction.
type Option func(*Session)

// WithBaseURL points the session at a non-production endpoint.
func WithBaseURL(u string) Option {
	return func(s *Session) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithSimulated routes every request to OKX's demo-trading environment.
func WithSimulated(on bool) Option {
	return func(s *Session) { s.simulated = on }
}

// WithRateLimit replaces the default request budget.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Session) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.http = c }
}

// WithTradeMode sets the OKX tdMode for orders, "cash" by default.
func WithTradeMode(mode string) Option {
	return func(s *Session) { s.tdMode = mode }
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession builds a session for one venue id over the given symbol
// table (universal symbol -> OKX instId).
func NewSession(v venue.ID, symbols map[string]string, opts ...Option) *Session {
	s := &Session{
		venue:   v,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		log:     slog.Default(),
		tdMode:  "cash",
		symbols: symbols,
		inverse: make(map[string]string, len(symbols)),
	}
	for sym, inst := range symbols {
		s.inverse[inst] = sym
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("venue", string(v)))
	return s
}

// apiResp is the OKX envelope shared by every endpoint.
type apiResp struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	AlgoID  string `json:"algoId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AvgPx     string `json:"avgPx"`
	AccFillSz string `json:"accFillSz"`
}

type balanceData struct {
	TotalEq string `json:"totalEq"`
	Imr     string `json:"imr"`
	Details []struct {
		Ccy      string `json:"ccy"`
		CashBal  string `json:"cashBal"`
		AvailBal string `json:"availBal"`
	} `json:"details"`
}

type positionData struct {
	InstID string `json:"instId"`
	Pos    string `json:"pos"`
	AvgPx  string `json:"avgPx"`
	Upl    string `json:"upl"`
}

type placeOrderArg struct {
	InstID      string `json:"instId"`
	TdMode      string `json:"tdMode"`
	Side        string `json:"side"`
	OrdType     string `json:"ordType"`
	Sz          string `json:"sz"`
	Px          string `json:"px,omitempty"`
	ClOrdID     string `json:"clOrdId,omitempty"`
	Tag         string `json:"tag,omitempty"`
	TriggerPx   string `json:"triggerPx,omitempty"`
	OrderPx     string `json:"orderPx,omitempty"`
	SlTriggerPx string `json:"slTriggerPx,omitempty"`
	TpTriggerPx string `json:"tpTriggerPx,omitempty"`
}

func (s *Session) credentials() venue.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *Session) sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// do runs one signed request. The returned error covers transport and
// HTTP-level failures only; OKX status codes come back in the envelope
// for the caller to interpret.
func (s *Session) do(ctx context.Context, method, path string, query url.Values, body any) (apiResp, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return apiResp{}, venue.WrapErr(s.venue, venue.KindOf(err), err)
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var buf []byte
	if body != nil {
		var err error
		if buf, err = json.Marshal(body); err != nil {
			return apiResp{}, fmt.Errorf("encode %s request: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+requestPath, bytes.NewReader(buf))
	if err != nil {
		return apiResp{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if creds := s.credentials(); creds.APIKey != "" {
		ts := time.Now().UTC().Format(tsLayout)
		req.Header.Set("OK-ACCESS-KEY", creds.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", s.sign(creds.APISecret, ts+method+requestPath+string(buf)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", creds.Passphrase)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return apiResp{}, venue.WrapErr(s.venue, venue.KindOf(err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResp{}, venue.WrapErr(s.venue, venue.KindNetwork, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apiResp{}, venue.Errf(s.venue, venue.KindRateLimited, "http 429 on %s", path)
	case resp.StatusCode >= 500:
		return apiResp{}, venue.Errf(s.venue, venue.KindNetwork, "http %d on %s", resp.StatusCode, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apiResp{}, venue.Errf(s.venue, venue.KindAuth, "http %d on %s", resp.StatusCode, path)
	}

	var env apiResp
	if err := json.Unmarshal(raw, &env); err != nil {
		return apiResp{}, venue.WrapErr(s.venue, venue.KindUnknownVenue, fmt.Errorf("decode %s response: %w", path, err))
	}
	return env, nil
}

// checkCode turns a non-zero envelope code into a classified error.
func (s *Session) checkCode(env apiResp) error {
	if env.Code == "" || env.Code == "0" {
		return nil
	}
	return venue.Errf(s.venue, mapCode(env.Code), "%s (code %s)", env.Msg, env.Code)
}

// Connect stores the credentials and verifies them with a balance query.
func (s *Session) Connect(ctx context.Context, creds venue.Credentials) error {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()

	if _, err := s.fetchBalance(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.log.Info("session authenticated")
	return nil
}

// Ping hits the public time endpoint; cheap and unauthenticated.
func (s *Session) Ping(ctx context.Context) error {
	env, err := s.do(ctx, http.MethodGet, pathTime, nil, nil)
	if err != nil {
		return err
	}
	return s.checkCode(env)
}

// PlaceOrder dispatches one translated order. Connection-level failures
// (auth, rate limit, transport) surface as errors; order-level rejections
// come back in the Response for the translator to map.
func (s *Session) PlaceOrder(ctx context.Context, req venue.Request) (venue.Response, error) {
	if req.Type == "trigger" {
		return s.placeAlgo(ctx, req)
	}

	arg := placeOrderArg{
		InstID:      req.Symbol,
		TdMode:      s.tdMode,
		Side:        strings.ToLower(req.Side),
		OrdType:     req.Type,
		Sz:          req.Units,
		Px:          req.Price,
		ClOrdID:     req.ClientID,
		Tag:         sanitizeTag(req.Comment),
		SlTriggerPx: req.StopLoss,
		TpTriggerPx: req.TakeProfit,
	}
	env, err := s.do(ctx, http.MethodPost, pathOrder, nil, arg)
	if err != nil {
		return venue.Response{}, err
	}

	ack := firstAck(env.Data)
	code, msg := env.Code, env.Msg
	if ack.SCode != "" && ack.SCode != "0" {
		code, msg = ack.SCode, ack.SMsg
	}
	if code != "" && code != "0" {
		// Session-level problems are errors so the caller can retry or
		// halt; order-level rejections ride in the response.
		if k := mapCode(code); k == venue.KindAuth || k == venue.KindRateLimited {
			return venue.Response{}, venue.Errf(s.venue, k, "%s (code %s)", msg, code)
		}
		return venue.Response{
			Venue:        s.venue,
			OrderID:      ack.OrdID,
			Code:         code,
			Message:      msg,
			ReceivedTime: time.Now().UTC(),
		}, nil
	}

	out := venue.Response{
		Venue:        s.venue,
		OrderID:      ack.OrdID,
		Code:         "0",
		ReceivedTime: time.Now().UTC(),
	}
	if det, err := s.fetchOrder(ctx, req.Symbol, ack.OrdID); err == nil {
		out.FilledPrice = det.AvgPx
		out.FilledUnits = det.AccFillSz
		out.Filled = det.State == "filled"
		out.PartialFill = det.State == "partially_filled"
	} else {
		s.log.Warn("order detail fetch failed, returning accepted",
			slog.String("order", ack.OrdID), slog.Any("error", err))
	}
	return out, nil
}

// placeAlgo places a trigger order through the algo endpoint.
func (s *Session) placeAlgo(ctx context.Context, req venue.Request) (venue.Response, error) {
	arg := placeOrderArg{
		InstID:    req.Symbol,
		TdMode:    s.tdMode,
		Side:      strings.ToLower(req.Side),
		OrdType:   "trigger",
		Sz:        req.Units,
		TriggerPx: req.Price,
		OrderPx:   "-1", // execute at market once triggered
	}
	env, err := s.do(ctx, http.MethodPost, pathAlgoOrder, nil, arg)
	if err != nil {
		return venue.Response{}, err
	}

	ack := firstAck(env.Data)
	code, msg := env.Code, env.Msg
	if ack.SCode != "" && ack.SCode != "0" {
		code, msg = ack.SCode, ack.SMsg
	}
	if code != "" && code != "0" {
		if k := mapCode(code); k == venue.KindAuth || k == venue.KindRateLimited {
			return venue.Response{}, venue.Errf(s.venue, k, "%s (code %s)", msg, code)
		}
		return venue.Response{Venue: s.venue, Code: code, Message: msg, ReceivedTime: time.Now().UTC()}, nil
	}
	return venue.Response{
		Venue:        s.venue,
		OrderID:      ack.AlgoID,
		Code:         "0",
		ReceivedTime: time.Now().UTC(),
	}, nil
}

func (s *Session) fetchOrder(ctx context.Context, instID, ordID string) (orderDetail, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("ordId", ordID)
	env, err := s.do(ctx, http.MethodGet, pathOrder, q, nil)
	if err != nil {
		return orderDetail{}, err
	}
	if err := s.checkCode(env); err != nil {
		return orderDetail{}, err
	}
	var details []orderDetail
	if err := json.Unmarshal(env.Data, &details); err != nil || len(details) == 0 {
		return orderDetail{}, venue.Errf(s.venue, venue.KindUnknownVenue, "empty order detail for %s", ordID)
	}
	return details[0], nil
}

func (s *Session) fetchBalance(ctx context.Context) (balanceData, error) {
	env, err := s.do(ctx, http.MethodGet, pathBalance, nil, nil)
	if err != nil {
		return balanceData{}, err
	}
	if err := s.checkCode(env); err != nil {
		return balanceData{}, err
	}
	var data []balanceData
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
		return balanceData{}, venue.Errf(s.venue, venue.KindUnknownVenue, "empty balance response")
	}
	return data[0], nil
}

// AccountSnapshot assembles balances and open positions into the
// universal snapshot, mapping instrument ids back to universal symbols.
func (s *Session) AccountSnapshot(ctx context.Context) (venue.AccountSnapshot, error) {
	bal, err := s.fetchBalance(ctx)
	if err != nil {
		return venue.AccountSnapshot{}, err
	}

	snap := venue.AccountSnapshot{
		Equity:     parseFloat(bal.TotalEq),
		MarginUsed: parseFloat(bal.Imr),
		Positions:  make(map[string]venue.Position),
		Taken:      time.Now().UTC(),
	}
	if len(bal.Details) > 0 {
		snap.Currency = bal.Details[0].Ccy
		snap.Balance = parseFloat(bal.Details[0].CashBal)
		snap.FreeMargin = parseFloat(bal.Details[0].AvailBal)
	}
	if snap.Balance == 0 {
		snap.Balance = snap.Equity
	}

	env, err := s.do(ctx, http.MethodGet, pathPositions, nil, nil)
	if err != nil {
		return venue.AccountSnapshot{}, err
	}
	if err := s.checkCode(env); err != nil {
		return venue.AccountSnapshot{}, err
	}
	var positions []positionData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &positions); err != nil {
			return venue.AccountSnapshot{}, venue.WrapErr(s.venue, venue.KindUnknownVenue, err)
		}
	}
	for _, p := range positions {
		units := parseFloat(p.Pos)
		if units == 0 {
			continue
		}
		snap.Positions[s.symbolFor(p.InstID)] = venue.Position{
			Symbol:       s.symbolFor(p.InstID),
			Units:        units,
			AveragePrice: parseFloat(p.AvgPx),
			UnrealizedPL: parseFloat(p.Upl),
		}
	}
	return snap, nil
}

// MarketTick returns the current best bid/ask for a universal symbol
// from the public ticker endpoint.
func (s *Session) MarketTick(ctx context.Context, symbol string) (bid, ask float64, err error) {
	inst, ok := s.symbols[symbol]
	if !ok {
		return 0, 0, venue.Errf(s.venue, venue.KindInvalidInstrument, "unknown symbol %s", symbol)
	}
	q := url.Values{}
	q.Set("instId", inst)
	env, err := s.do(ctx, http.MethodGet, pathTicker, q, nil)
	if err != nil {
		return 0, 0, err
	}
	if err := s.checkCode(env); err != nil {
		return 0, 0, err
	}
	var ticks []struct {
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
	}
	if err := json.Unmarshal(env.Data, &ticks); err != nil || len(ticks) == 0 {
		return 0, 0, venue.Errf(s.venue, venue.KindUnknownVenue, "empty ticker for %s", inst)
	}
	return parseFloat(ticks[0].BidPx), parseFloat(ticks[0].AskPx), nil
}

// Close drops idle connections; the REST session holds no server state.
func (s *Session) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.http.CloseIdleConnections()
	return nil
}

func (s *Session) symbolFor(instID string) string {
	if sym, ok := s.inverse[instID]; ok {
		return sym
	}
	return instID
}

func firstAck(data json.RawMessage) orderAck {
	var acks []orderAck
	if len(data) > 0 {
		_ = json.Unmarshal(data, &acks)
	}
	if len(acks) == 0 {
		return orderAck{}
	}
	return acks[0]
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

// sanitizeTag trims a comment to OKX's tag constraints: alphanumeric,
// 16 characters max.
func sanitizeTag(comment string) string {
	var b strings.Builder
	for _, r := range comment {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 16 {
			break
		}
	}
	return b.String()
}
