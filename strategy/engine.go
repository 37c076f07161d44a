package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/executor/notify"
	"github.com/rustyeddy/executor/order"
	"github.com/rustyeddy/executor/signal"
)

// Submitter is the coordinator's intake as the engine sees it.
type Submitter interface {
	Submit(ctx context.Context, intent order.Intent) (order.Result, error)
}

// instanceMsg is the union of inputs an instance loop consumes. Routing
// everything through one inbox keeps Evaluate, OnResult and OnSignal
// serialized without a per-instance lock.
type instanceMsg struct {
	tick *MarketView
	sig  *signal.Signal
}

// Instance is one supervised strategy. Its strategy state is touched only
// by its own goroutine.
type Instance struct {
	ID    string
	strat Strategy

	inbox  chan instanceMsg
	cancel context.CancelFunc

	mu         sync.Mutex
	halted     bool
	haltReason string
	lastState  RunState
}

func (in *Instance) setState(st RunState) {
	in.mu.Lock()
	in.lastState = st
	in.mu.Unlock()
}

func (in *Instance) state() RunState {
	in.mu.Lock()
	defer in.mu.Unlock()
	st := in.lastState
	if st.ID == "" {
		st.ID = in.ID
	}
	if in.halted {
		st.Halted = true
		st.HaltReason = in.haltReason
	}
	return st
}

func (in *Instance) haltedState() (bool, string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.halted, in.haltReason
}

func (in *Instance) halt(reason string) {
	in.mu.Lock()
	in.halted = true
	in.haltReason = reason
	in.mu.Unlock()
}

// Engine supervises N independent strategy instances. Instances share
// nothing; intents flow to the Submitter, results flow back to the
// instance that produced them.
type Engine struct {
	submit   Submitter
	notifier notify.Notifier
	log      *slog.Logger

	// onCount reports the active instance total, feeding the risk
	// gate's concurrency limit.
	onCount func(int)

	source signal.Source // optional

	// sigRetryDelay spaces Next calls after a source error so a broken
	// source does not spin the pump.
	sigRetryDelay time.Duration

	mu        sync.Mutex
	instances []*Instance
	running   bool
	wg        sync.WaitGroup
}

// EngineOption adjusts an Engine at construction.
type EngineOption func(*Engine)

// WithNotifier routes strategy lifecycle events to a notifier.
func WithNotifier(n notify.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithSignalSource attaches the external signal feed consumed by
// signal-driven instances.
func WithSignalSource(src signal.Source) EngineOption {
	return func(e *Engine) { e.source = src }
}

// WithActiveCount registers a callback invoked whenever the number of
// running instances changes.
func WithActiveCount(fn func(int)) EngineOption {
	return func(e *Engine) { e.onCount = fn }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func NewEngine(submit Submitter, opts ...EngineOption) *Engine {
	e := &Engine{
		submit:        submit,
		log:           slog.Default(),
		sigRetryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add builds and registers a strategy instance. Must be called before
// Run.
func (e *Engine) Add(cfg Config) (string, error) {
	instanceID := cfg.Name
	if instanceID == "" {
		instanceID = cfg.Type
	}
	instanceID = fmt.Sprintf("%s-%s", instanceID, uuid.NewString()[:8])

	strat, err := New(instanceID, cfg)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return "", fmt.Errorf("engine already running")
	}
	e.instances = append(e.instances, &Instance{
		ID:        instanceID,
		strat:     strat,
		inbox:     make(chan instanceMsg, 64),
		lastState: strat.State(),
	})
	return instanceID, nil
}

// Run starts one goroutine per instance plus the signal pump, then blocks
// until ctx is done and every instance loop has drained.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	instances := make([]*Instance, len(e.instances))
	copy(instances, e.instances)
	e.mu.Unlock()

	e.reportCount()

	for _, in := range instances {
		instCtx, cancel := context.WithCancel(ctx)
		in.cancel = cancel
		e.wg.Add(1)
		go e.runInstance(ctx, instCtx, in)
	}

	if e.source != nil {
		e.wg.Add(1)
		go e.pumpSignals(ctx, instances)
	}

	<-ctx.Done()
	e.wg.Wait()
}

// Dispatch broadcasts a market tick to every instance. A full inbox drops
// the tick for that instance rather than blocking the feed.
func (e *Engine) Dispatch(view MarketView) {
	e.mu.Lock()
	instances := make([]*Instance, len(e.instances))
	copy(instances, e.instances)
	e.mu.Unlock()

	for _, in := range instances {
		if halted, _ := in.haltedState(); halted {
			continue
		}
		select {
		case in.inbox <- instanceMsg{tick: &view}:
		default:
			e.log.Warn("instance inbox full, tick dropped", slog.String("instance", in.ID))
		}
	}
}

// Stop cancels one instance. It stops producing intents immediately;
// submissions already accepted by the coordinator run to completion.
func (e *Engine) Stop(instanceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, in := range e.instances {
		if in.ID == instanceID && in.cancel != nil {
			in.cancel()
			return true
		}
	}
	return false
}

// ListActive returns the run-state summary of every instance.
func (e *Engine) ListActive() []RunState {
	e.mu.Lock()
	instances := make([]*Instance, len(e.instances))
	copy(instances, e.instances)
	e.mu.Unlock()

	out := make([]RunState, 0, len(instances))
	for _, in := range instances {
		out = append(out, in.state())
	}
	return out
}

func (e *Engine) reportCount() {
	if e.onCount == nil {
		return
	}
	e.mu.Lock()
	n := 0
	for _, in := range e.instances {
		if halted, _ := in.haltedState(); !halted {
			n++
		}
	}
	e.mu.Unlock()
	e.onCount(n)
}

// runInstance is the supervised loop for one instance. A panic halts this
// instance only; everything else keeps trading.
func (e *Engine) runInstance(engineCtx, instCtx context.Context, in *Instance) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			in.halt(reason)
			e.log.Error("strategy instance panicked",
				slog.String("instance", in.ID),
				slog.Any("panic", r))
			e.notifyEvent(engineCtx, notify.StrategyHalted, map[string]any{
				"instance": in.ID,
				"reason":   reason,
			})
			e.reportCount()
		}
	}()

	for {
		select {
		case <-instCtx.Done():
			return
		case msg := <-in.inbox:
			var intents []order.Intent
			switch {
			case msg.sig != nil:
				if sink, ok := in.strat.(SignalSink); ok {
					sink.OnSignal(*msg.sig)
				}
			case msg.tick != nil:
				intents = in.strat.Evaluate(instCtx, *msg.tick)
			}

			for _, intent := range intents {
				// Cancellation stops new submissions between
				// intents; the submission itself runs on the
				// engine context so a dispatched order is never
				// abandoned mid-flight.
				if instCtx.Err() != nil {
					return
				}
				res, err := e.submit.Submit(engineCtx, intent)
				if err != nil {
					e.log.Error("submit failed",
						slog.String("instance", in.ID),
						slog.String("key", intent.IdempotencyKey),
						slog.Any("error", err))
				}
				in.strat.OnResult(res)
			}

			st := in.strat.State()
			in.setState(st)
			if st.Halted {
				if halted, _ := in.haltedState(); !halted {
					in.halt(st.HaltReason)
					e.notifyEvent(engineCtx, notify.StrategyHalted, map[string]any{
						"instance": in.ID,
						"reason":   st.HaltReason,
					})
					e.reportCount()
				}
				return
			}
		}
	}
}

// pumpSignals fans the external signal stream out to every instance that
// consumes signals.
func (e *Engine) pumpSignals(ctx context.Context, instances []*Instance) {
	defer e.wg.Done()

	for {
		sig, ok, err := e.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn("signal source error", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.sigRetryDelay):
			}
			continue
		}
		if !ok {
			return
		}
		for _, in := range instances {
			if _, isSink := in.strat.(SignalSink); !isSink {
				continue
			}
			s := sig
			select {
			case in.inbox <- instanceMsg{sig: &s}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) notifyEvent(ctx context.Context, kind notify.EventKind, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, kind, payload); err != nil {
		e.log.Warn("notify failed", slog.String("event", string(kind)), slog.Any("error", err))
	}
}
