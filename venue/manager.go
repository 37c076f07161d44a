package venue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/executor/retry"
)

// Manager owns the single live session to one venue for the process
// lifetime. All callers go through it; nobody else holds the raw Session.
//
// State machine:
//
//	Disconnected -> Connecting -> Connected
//	Connected    -> Degraded (failures) -> Connecting (retry) | Disconnected (shutdown)
//
// Degraded is entered when the retry budget is exhausted. From there every
// dependent call fails fast with CONNECTION_UNAVAILABLE until a health
// check or an operator Reset brings the session back.
type Manager struct {
	venue   ID
	session Session
	creds   Credentials
	policy  retry.Policy
	log     *slog.Logger

	// snapshotTTL is how old a cached account snapshot may be before
	// Snapshot refreshes it from the venue.
	snapshotTTL time.Duration

	// connectMu single-flights reconnection; stateMu guards everything
	// below and is never held across venue I/O.
	connectMu sync.Mutex
	stateMu   sync.Mutex
	state     ConnectionState
	halted    bool // critical failure, cleared only by Reset
	lastErr   error
	snapshot  AccountSnapshot
	hasSnap   bool
}

// ManagerOption adjusts a Manager at construction.
type ManagerOption func(*Manager)

// WithRetryPolicy replaces the default reconnect policy.
func WithRetryPolicy(p retry.Policy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithSnapshotTTL sets how long a cached account snapshot stays fresh.
func WithSnapshotTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.snapshotTTL = ttl }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager wires a manager around a venue session. Construct exactly one
// per venue at process start and hand it to every consumer.
func NewManager(v ID, s Session, creds Credentials, opts ...ManagerOption) *Manager {
	m := &Manager{
		venue:       v,
		session:     s,
		creds:       creds,
		policy:      retry.Default(),
		snapshotTTL: 10 * time.Second,
		state:       Disconnected,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(slog.String("venue", string(v)))
	return m
}

// Venue returns the venue this manager owns.
func (m *Manager) Venue() ID { return m.venue }

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// LastError returns the error behind the current Degraded state, nil when
// healthy.
func (m *Manager) LastError() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.lastErr
}

func (m *Manager) setState(s ConnectionState, err error) {
	m.stateMu.Lock()
	prev := m.state
	m.state = s
	m.lastErr = err
	m.stateMu.Unlock()

	if prev != s {
		m.log.Info("connection state changed",
			slog.String("from", prev.String()),
			slog.String("to", s.String()))
	}
}

// Connect establishes the session. Idempotent: a no-op when already
// Connected. A single failed attempt surfaces directly; use
// EnsureConnected for the retrying variant.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if err := m.checkHalted(); err != nil {
		return err
	}
	if m.State() == Connected {
		return nil
	}

	return m.connectOnce(ctx)
}

// connectOnce runs one connect attempt. Caller holds connectMu.
func (m *Manager) connectOnce(ctx context.Context) error {
	m.setState(Connecting, nil)
	if err := m.session.Connect(ctx, m.creds); err != nil {
		if ClassOf(err) == ClassCritical {
			m.halt(err)
			return err
		}
		m.setState(Disconnected, err)
		return err
	}
	m.setState(Connected, nil)
	return nil
}

// EnsureConnected returns immediately when Connected. Otherwise it drives
// reconnection through the retry policy; when the budget is exhausted the
// manager enters Degraded and this and every later call fail fast with
// CONNECTION_UNAVAILABLE until a health check or Reset recovers the
// session. Permanent connect errors (bad credentials) are not retried.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.State() == Connected {
		return nil
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if err := m.checkHalted(); err != nil {
		return err
	}
	// Someone else reconnected while we waited.
	switch m.State() {
	case Connected:
		return nil
	case Degraded:
		return WrapErr(m.venue, KindUnavailable, m.lastError())
	}

	// EnsureConnected only runs after a failure, so every attempt backs
	// off first: 1,2,4,8,16s under the default policy.
	err := m.policy.DoDelayed(ctx, Retryable, func(ctx context.Context) error {
		return m.connectOnce(ctx)
	})
	if err == nil {
		return nil
	}
	if ClassOf(err) == ClassCritical {
		// halt already recorded by connectOnce
		return err
	}
	if ClassOf(err) == ClassPermanent {
		m.setState(Disconnected, err)
		return err
	}

	m.setState(Degraded, err)
	m.log.Error("reconnect attempts exhausted, entering degraded state",
		slog.Any("error", err))
	return WrapErr(m.venue, KindUnavailable, err)
}

func (m *Manager) lastError() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.lastErr
}

func (m *Manager) checkHalted() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.halted {
		return Errf(m.venue, KindUnavailable, "venue halted after critical failure, operator reset required")
	}
	return nil
}

// HealthCheck runs a lightweight round trip and updates the connection
// state. It is the sanctioned path out of Degraded short of an operator
// Reset: a successful ping from Degraded reconnects.
func (m *Manager) HealthCheck(ctx context.Context) ConnectionState {
	if err := m.checkHalted(); err != nil {
		return m.State()
	}

	switch m.State() {
	case Connected:
		if err := m.session.Ping(ctx); err != nil {
			m.log.Warn("health check failed", slog.Any("error", err))
			if ClassOf(err) == ClassCritical {
				m.halt(err)
			} else {
				m.setState(Degraded, err)
			}
		}
	case Degraded, Disconnected:
		m.connectMu.Lock()
		if m.State() != Connected {
			if err := m.connectOnce(ctx); err != nil {
				m.setState(Degraded, err)
			}
		}
		m.connectMu.Unlock()
	}
	return m.State()
}

// PlaceOrder dispatches a translated order through the owned session.
// Fails fast when the session is not Connected; the coordinator decides
// whether to EnsureConnected first.
func (m *Manager) PlaceOrder(ctx context.Context, req Request) (Response, error) {
	if st := m.State(); st != Connected {
		return Response{}, Errf(m.venue, KindUnavailable, "connection state %s", st)
	}
	resp, err := m.session.PlaceOrder(ctx, req)
	if err != nil && ClassOf(err) == ClassCritical {
		m.halt(err)
	}
	return resp, err
}

// Snapshot returns the account snapshot, refreshing from the venue when
// the cached copy is older than the TTL or force is set. Risk checks that
// require freshness pass force=true.
func (m *Manager) Snapshot(ctx context.Context, force bool) (AccountSnapshot, error) {
	m.stateMu.Lock()
	if m.hasSnap && !force && time.Since(m.snapshot.Taken) < m.snapshotTTL {
		snap := m.snapshot
		m.stateMu.Unlock()
		return snap, nil
	}
	m.stateMu.Unlock()

	if st := m.State(); st != Connected {
		return AccountSnapshot{}, Errf(m.venue, KindUnavailable, "connection state %s", st)
	}

	snap, err := m.session.AccountSnapshot(ctx)
	if err != nil {
		if ClassOf(err) == ClassCritical {
			m.halt(err)
		}
		return AccountSnapshot{}, err
	}
	if snap.Taken.IsZero() {
		snap.Taken = time.Now().UTC()
	}

	m.stateMu.Lock()
	m.snapshot = snap
	m.hasSnap = true
	m.stateMu.Unlock()
	return snap, nil
}

// Disconnect releases the session. Safe from Connected or Degraded.
func (m *Manager) Disconnect() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	err := m.session.Close()
	m.setState(Disconnected, nil)
	return err
}

// halt forces the venue down after a critical failure. Only Reset clears
// it.
func (m *Manager) halt(cause error) {
	m.stateMu.Lock()
	m.halted = true
	m.stateMu.Unlock()
	m.setState(Disconnected, cause)
	m.log.Error("critical venue failure, trading halted", slog.Any("error", cause))
	_ = m.session.Close()
}

// Reset is the explicit operator action that clears a critical halt and
// attempts a fresh connection.
func (m *Manager) Reset(ctx context.Context) error {
	m.stateMu.Lock()
	m.halted = false
	m.lastErr = nil
	m.stateMu.Unlock()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	return m.connectOnce(ctx)
}

// Run drives periodic health checks and snapshot refreshes until ctx is
// done, then disconnects. Meant to run as the venue's own goroutine.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = m.Disconnect()
			return
		case <-ticker.C:
			if st := m.HealthCheck(ctx); st == Connected {
				_, _ = m.Snapshot(ctx, true)
			}
		}
	}
}
