package conn

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Socket is one live transport connection.
type Socket interface {
	// ReadMessage blocks until the next inbound frame or a transport error.
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport opens sockets. Injected so tests can drive frames directly.
type Transport interface {
	Dial(ctx context.Context, rawURL string) (Socket, error)
}

// Config holds the Manager's connection parameters.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/api/v1/ws.
	URL string
	// BaseDelay is the backoff floor between reconnect attempts.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// MaxAttempts caps reconnect attempts before giving up for good.
	MaxAttempts int
}

// Manager owns at most one live connection to the server. It decodes
// inbound frames into typed events and recovers from drops with
// exponential backoff, without caller involvement. All side effects reach
// the consumer through the Events channel, in arrival order.
type Manager struct {
	cfg       Config
	transport Transport
	logger    *zap.Logger
	events    chan Event

	// stateMu serializes state flips with their emissions, so observers
	// never see state-change events out of flip order.
	stateMu sync.Mutex

	mu       sync.Mutex
	state    State
	sock     Socket
	token    string
	terminal bool
	gen      uint64
	timer    *time.Timer
	bo       backoff
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config, transport Transport, logger *zap.Logger) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Manager{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		events:    make(chan Event, 256),
		state:     StateDisconnected,
		bo: backoff{
			base:        cfg.BaseDelay,
			ceiling:     cfg.MaxDelay,
			maxAttempts: cfg.MaxAttempts,
		},
	}
}

// Events returns the channel carrying decoded events and state changes.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts connecting with the given credential token. No-op while
// a connection is already being established or open.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.terminal = false
	m.token = token
	// Each Connect starts a new connection generation; attempts from an
	// older generation refuse to touch shared state once they resume.
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.bo.reset()
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect closes the transport and suppresses all further reconnects.
// Terminal: a new Connect call is required to come back.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.terminal = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	sock := m.sock
	m.sock = nil
	m.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
	m.transition(0, StateDisconnected)
}

func (m *Manager) dial(gen uint64) {
	// A Disconnect or a newer Connect that landed before this goroutine
	// ran wins: the connecting flip is refused and the attempt dies with
	// the state left at disconnected.
	if !m.transition(gen, StateConnecting) {
		return
	}

	sock, err := m.transport.Dial(context.Background(), m.dialURL())
	if err != nil {
		m.logger.Warn("dial failed", zap.Error(err))
		m.onDrop(gen, err.Error())
		return
	}

	m.mu.Lock()
	if m.terminal || gen != m.gen {
		m.mu.Unlock()
		_ = sock.Close()
		return
	}
	m.sock = sock
	// Successful handshake resets the attempt counter and backoff floor.
	m.bo.reset()
	m.mu.Unlock()

	// A concurrent Disconnect has already flipped to disconnected and
	// closed the socket; the refused flip ends the attempt.
	if !m.transition(gen, StateConnected) {
		return
	}
	m.readLoop(gen, sock)
}

func (m *Manager) readLoop(gen uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := m.terminal || gen != m.gen
			if m.sock == sock {
				m.sock = nil
			}
			m.mu.Unlock()
			if stale {
				return
			}
			m.onDrop(gen, err.Error())
			return
		}

		for _, evt := range decodeFrame(data, m.logger) {
			m.emit(evt)
		}
	}
}

// onDrop handles a transport close or dial failure: flips state, signals
// the consumer, and schedules the next attempt unless the budget ran out.
func (m *Manager) onDrop(gen uint64, reason string) {
	if !m.transition(gen, StateDisconnected) {
		// Terminal or superseded; a newer attempt owns the state now.
		return
	}

	m.mu.Lock()
	if m.terminal || gen != m.gen {
		m.mu.Unlock()
		return
	}
	delay, ok := m.bo.next()
	attempt := m.bo.attempt
	if ok {
		m.timer = time.AfterFunc(delay, func() {
			m.mu.Lock()
			if m.terminal {
				m.mu.Unlock()
				return
			}
			m.timer = nil
			m.mu.Unlock()
			m.dial(gen)
		})
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Error("reconnect attempts exhausted", zap.Int("max_attempts", m.cfg.MaxAttempts))
		m.emit(Event{Kind: KindConnectivity, Fault: &Fault{
			Message:   "unable to reconnect to server",
			Code:      "WS_MAX_RECONNECT_ATTEMPTS",
			Retryable: false,
		}})
		return
	}

	m.logger.Warn("connection dropped, scheduling reconnect",
		zap.String("reason", reason),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	m.emit(Event{Kind: KindConnectivity, Fault: &Fault{
		Message:   reason,
		Code:      "WS_CONNECTION_DROPPED",
		Retryable: true,
	}})
}

// transition flips the state and emits the change. A non-zero gen ties
// the flip to one connection attempt: it is refused once the manager is
// terminal or a newer Connect superseded that attempt, with the flag and
// the flip checked in one critical section so a teardown racing a dial
// can never leave the state stuck off disconnected. Returns false when
// the move is refused.
func (m *Manager) transition(gen uint64, to State) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	m.mu.Lock()
	if gen != 0 && (m.terminal || gen != m.gen) {
		m.mu.Unlock()
		return false
	}
	if m.state == to || !canTransition(m.state, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	m.emit(Event{Kind: KindStateChanged, State: to})
	return true
}

func (m *Manager) emit(evt Event) {
	m.events <- evt
}

func (m *Manager) dialURL() string {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	return m.cfg.URL + "?token=" + url.QueryEscape(token)
}
