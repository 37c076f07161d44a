// Package exec orchestrates order flow: risk validation, venue routing,
// dispatch with bounded retries, and post-trade side effects. The
// Coordinator is the only component permitted to send an order to a venue.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/executor/journal"
	"github.com/rustyeddy/executor/notify"
	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/retry"
	"github.com/rustyeddy/executor/risk"
	"github.com/rustyeddy/executor/venue"
)

// Route binds one venue's connection manager and translator. Adding a
// venue means registering one more route; the coordinator does not change.
type Route struct {
	Manager    *venue.Manager
	Translator venue.Translator
}

// pending is one idempotency key's slot in the dedup set. The first
// submitter owns the dispatch; everyone else waits on done and reads res.
type pending struct {
	done chan struct{}
	res  order.Result
}

// Coordinator guarantees at most one venue-side order per idempotency
// key. Duplicate submissions, concurrent or later, receive the first
// submission's result.
type Coordinator struct {
	gate     *risk.Gate
	journal  journal.Journal
	notifier notify.Notifier
	policy   retry.Policy
	log      *slog.Logger

	// placeTimeout bounds a single order-placement attempt. Exceeding
	// it means the order may have reached the venue: the result is
	// Ambiguous and is never retried.
	placeTimeout time.Duration

	routeMu sync.RWMutex
	routes  map[venue.ID]*Route
	symbols map[string]venue.ID

	// mu serializes the dedup set and the validate-then-reserve step,
	// so two concurrent intents cannot both pass an aggregate exposure
	// check only one can satisfy.
	mu      sync.Mutex
	results map[string]*pending

	ambMu     sync.Mutex
	ambiguous []order.Result
}

// Option adjusts a Coordinator at construction.
type Option func(*Coordinator)

// WithJournal sets the audit sink.
func WithJournal(j journal.Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithNotifier routes order lifecycle events to a notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithRetryPolicy replaces the default dispatch retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithPlaceTimeout sets the per-attempt order placement deadline.
func WithPlaceTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.placeTimeout = d }
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func NewCoordinator(gate *risk.Gate, opts ...Option) *Coordinator {
	c := &Coordinator{
		gate:         gate,
		journal:      journal.Nop{},
		policy:       retry.Default(),
		placeTimeout: 10 * time.Second,
		log:          slog.Default(),
		routes:       make(map[venue.ID]*Route),
		symbols:      make(map[string]venue.ID),
		results:      make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a venue route and claims the given symbols for it. Later
// registrations win a symbol collision; call once per venue at startup.
func (c *Coordinator) Register(mgr *venue.Manager, tr venue.Translator, symbols ...string) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()
	c.routes[mgr.Venue()] = &Route{Manager: mgr, Translator: tr}
	for _, s := range symbols {
		c.symbols[s] = mgr.Venue()
	}
}

func (c *Coordinator) routeFor(symbol string) (*Route, bool) {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	v, ok := c.symbols[symbol]
	if !ok {
		return nil, false
	}
	r, ok := c.routes[v]
	return r, ok
}

// ConnectionHealth reports the connection state of one venue,
// Disconnected for an unknown venue.
func (c *Coordinator) ConnectionHealth(v venue.ID) venue.ConnectionState {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	if r, ok := c.routes[v]; ok {
		return r.Manager.State()
	}
	return venue.Disconnected
}

// Reconcile lists the ambiguous results accumulated this session. They
// are terminal from the coordinator's point of view; resolving them
// against venue statements is an operator task.
func (c *Coordinator) Reconcile() []order.Result {
	c.ambMu.Lock()
	defer c.ambMu.Unlock()
	out := make([]order.Result, len(c.ambiguous))
	copy(out, c.ambiguous)
	return out
}

// Submit runs one intent through the full pipeline: dedup, risk check,
// translate, dispatch, translate back, side effects. Safe for concurrent
// use; N submissions of the same idempotency key produce one venue
// dispatch and N identical results.
//
// The returned error covers caller-side failures only (missing key,
// context canceled while waiting on a duplicate). Venue and risk
// outcomes, including rejections and errors, arrive in the Result.
func (c *Coordinator) Submit(ctx context.Context, intent order.Intent) (order.Result, error) {
	key := intent.IdempotencyKey
	if key == "" {
		return order.Result{}, fmt.Errorf("intent for %s has no idempotency key", intent.Symbol)
	}

	c.mu.Lock()
	if p, ok := c.results[key]; ok {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.res, nil
		case <-ctx.Done():
			return order.Result{}, ctx.Err()
		}
	}
	p := &pending{done: make(chan struct{})}
	c.results[key] = p
	c.mu.Unlock()

	res := c.dispatch(ctx, intent)
	p.res = res
	close(p.done)
	return res, nil
}

func (c *Coordinator) dispatch(ctx context.Context, intent order.Intent) order.Result {
	route, ok := c.routeFor(intent.Symbol)
	if !ok {
		res := failure(intent, order.StatusError, string(venue.KindInvalidInstrument),
			fmt.Sprintf("no venue routes symbol %s", intent.Symbol))
		c.afterTrade(ctx, nil, "", intent, res, venue.AccountSnapshot{})
		return res
	}
	v := route.Manager.Venue()

	// Snapshot-independent checks come first: an intent that can never
	// pass must not trigger a reconnect or a snapshot fetch.
	if d := c.gate.Screen(intent); !d.Allowed {
		return c.rejected(ctx, intent, d)
	}

	if err := route.Manager.EnsureConnected(ctx); err != nil {
		res := failure(intent, order.StatusError, string(venue.KindOf(err)), err.Error())
		if route.Manager.State() == venue.Degraded {
			c.notifyEvent(ctx, notify.VenueDegraded, map[string]any{
				"venue": string(v),
				"error": err.Error(),
			})
		}
		c.afterTrade(ctx, route, v, intent, res, venue.AccountSnapshot{})
		return res
	}

	snap, err := route.Manager.Snapshot(ctx, false)
	if err != nil {
		res := failure(intent, order.StatusError, string(venue.KindOf(err)), err.Error())
		c.afterTrade(ctx, route, v, intent, res, venue.AccountSnapshot{})
		return res
	}

	// Validate and reserve under the same lock that guards the dedup
	// set; the reservation holds until this intent reaches a terminal
	// result.
	c.mu.Lock()
	decision := c.gate.Validate(intent, snap)
	if decision.Allowed {
		c.gate.Reserve(intent.IdempotencyKey, intent)
	}
	c.mu.Unlock()

	if !decision.Allowed {
		return c.rejected(ctx, intent, decision)
	}
	defer c.gate.Release(intent.IdempotencyKey)

	req, err := route.Translator.ToVenueRequest(intent)
	if err != nil {
		res := failure(intent, order.StatusRejected, string(venue.KindOf(err)), err.Error())
		c.afterTrade(ctx, route, v, intent, res, snap)
		return res
	}

	resp, err := c.place(ctx, route, req)

	var res order.Result
	switch {
	case err == nil:
		res, err = route.Translator.FromVenueResponse(resp)
		if err != nil {
			res = failure(intent, order.StatusError, string(venue.KindOf(err)), err.Error())
		}
		res.IdempotencyKey = intent.IdempotencyKey
	case venue.ClassOf(err) == venue.ClassAmbiguous:
		res = failure(intent, order.StatusAmbiguous, string(venue.KindAmbiguous), err.Error())
	default:
		res = failure(intent, order.StatusError, string(venue.KindOf(err)), err.Error())
	}

	c.afterTrade(ctx, route, v, intent, res, snap)
	return res
}

// rejected records and reports one risk rejection.
func (c *Coordinator) rejected(ctx context.Context, intent order.Intent, decision risk.Decision) order.Result {
	res := failure(intent, order.StatusRejected, string(decision.Reason), decision.Detail)
	if err := c.journal.RecordRejection(journal.NewRejectionRecord(intent, decision)); err != nil {
		c.log.Warn("rejection audit failed",
			slog.String("key", intent.IdempotencyKey),
			slog.Any("error", err))
	}
	c.notifyEvent(ctx, notify.OrderRejected, map[string]any{
		"key":    intent.IdempotencyKey,
		"symbol": intent.Symbol,
		"reason": string(decision.Reason),
		"detail": decision.Detail,
	})
	return res
}

// place dispatches one translated request. Transient venue errors retry
// through the policy; a deadline on the placement call itself is escalated
// as Ambiguous because the order may already be live venue-side.
func (c *Coordinator) place(ctx context.Context, route *Route, req venue.Request) (venue.Response, error) {
	v := route.Manager.Venue()
	var resp venue.Response
	err := c.policy.Do(ctx, venue.Retryable, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.placeTimeout)
		defer cancel()

		r, err := route.Manager.PlaceOrder(callCtx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || venue.KindOf(err) == venue.KindTimeout {
				return venue.WrapErr(v, venue.KindAmbiguous, err)
			}
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// afterTrade applies the best-effort side effects: audit append,
// notification, position refresh and realized P/L accounting. Failures
// here are logged and never unwind the trade.
func (c *Coordinator) afterTrade(ctx context.Context, route *Route, v venue.ID, intent order.Intent, res order.Result, snap venue.AccountSnapshot) {
	if err := c.journal.RecordOrder(journal.NewOrderRecord(string(v), intent, res)); err != nil {
		c.log.Warn("order audit failed",
			slog.String("key", intent.IdempotencyKey),
			slog.Any("error", err))
	}

	payload := map[string]any{
		"key":    intent.IdempotencyKey,
		"symbol": intent.Symbol,
		"venue":  string(v),
		"status": string(res.Status),
	}
	switch {
	case res.Status == order.StatusAmbiguous:
		c.ambMu.Lock()
		c.ambiguous = append(c.ambiguous, res)
		c.ambMu.Unlock()
		c.notifyEvent(ctx, notify.OrderAmbiguous, payload)
	case res.Ok():
		c.recordRealized(intent, res, snap)
		c.notifyEvent(ctx, notify.OrderPlaced, payload)
		if route != nil {
			// Pull fresh positions so the next risk check sees this
			// fill instead of relying on the reservation alone.
			if _, err := route.Manager.Snapshot(ctx, true); err != nil {
				c.log.Warn("post-trade snapshot refresh failed",
					slog.String("venue", string(v)),
					slog.Any("error", err))
			}
		}
	default:
		payload["reason"] = res.Reason
		c.notifyEvent(ctx, notify.OrderFailed, payload)
	}
}

// recordRealized books the P/L realized by a fill that reduces an open
// position, estimated against the pre-trade snapshot's average price.
func (c *Coordinator) recordRealized(intent order.Intent, res order.Result, snap venue.AccountSnapshot) {
	if res.Status != order.StatusFilled && res.Status != order.StatusPartiallyFilled {
		return
	}
	pos, ok := snap.Positions[intent.Symbol]
	if !ok || pos.Units == 0 || pos.AveragePrice == 0 || res.FilledPrice == 0 {
		return
	}

	delta := res.FilledUnits
	if intent.Side == order.Sell {
		delta = -delta
	}
	at := res.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch {
	case pos.Units > 0 && delta < 0:
		closed := min(-delta, pos.Units)
		c.gate.RecordRealized((res.FilledPrice-pos.AveragePrice)*closed, at)
	case pos.Units < 0 && delta > 0:
		closed := min(delta, -pos.Units)
		c.gate.RecordRealized((pos.AveragePrice-res.FilledPrice)*closed, at)
	}
}

func (c *Coordinator) notifyEvent(ctx context.Context, kind notify.EventKind, payload map[string]any) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, kind, payload); err != nil {
		c.log.Warn("notify failed", slog.String("event", string(kind)), slog.Any("error", err))
	}
}

func failure(intent order.Intent, status order.Status, kind, reason string) order.Result {
	return order.Result{
		IdempotencyKey: intent.IdempotencyKey,
		Status:         status,
		ErrorKind:      kind,
		Reason:         reason,
		Time:           time.Now().UTC(),
	}
}
