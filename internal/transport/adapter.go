// Package transport keeps a websocket connection to the relay backend
// alive. Outbound envelopes are written in submission order and inbound
// ones are dispatched in arrival order; health changes are published on a
// channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"gamecore/internal/auth"
	"gamecore/internal/gameerr"
	"gamecore/internal/protocol"
)

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Event is a health notification.
type Event struct {
	State   State
	Err     error // cause of a disconnect, if any
	Attempt int   // dial attempt number while reconnecting
	At      time.Time
}

// Handler receives inbound envelopes. Handlers run on the reader goroutine,
// must not block for long and must not call Close.
type Handler = func(protocol.Envelope)

// Config configures an Adapter.
type Config struct {
	URL              string
	Tokens           auth.TokenProvider
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	DialTimeout      time.Duration
	QueueSize        int
	EventBuffer      int
	ReadLimit        int64
}

func (c Config) withDefaults() Config {
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = 250 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 15 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 16
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	return c
}

// outgoing is a queued envelope. The writer and a sender that gives up race
// to move state off pending; the winner decides whether it is written.
type outgoing struct {
	env    protocol.Envelope
	data   []byte
	result chan error
	state  atomic.Int32
}

const (
	outPending int32 = iota
	outWriting
	outAbandoned
)

// claim reserves o for writing. It fails once the sender gave up.
func (o *outgoing) claim() bool {
	return o.state.CompareAndSwap(outPending, outWriting)
}

// abandon withdraws o. It fails once the writer has taken it.
func (o *outgoing) abandon() bool {
	return o.state.CompareAndSwap(outPending, outAbandoned)
}

type subscriber struct {
	id int
	h  Handler
}

// Adapter is a reconnecting duplex client. Create it with New, then call
// Start once.
type Adapter struct {
	cfg Config
	log *zap.Logger

	queue  chan *outgoing
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	state   State
	started bool
	subs    []subscriber
	nextSub int

	eventsMu     sync.Mutex
	eventsClosed bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a disconnected adapter.
func New(cfg Config, log *zap.Logger) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		cfg:    cfg,
		log:    log,
		queue:  make(chan *outgoing, cfg.QueueSize),
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		state:  StateDisconnected,
	}
}

// Start begins connecting in the background. Reconnection continues until
// ctx is cancelled or Close is called.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("transport already started")
	}
	select {
	case <-a.done:
		return gameerr.New(gameerr.ErrConnectionLost, "start", "", errors.New("transport closed"))
	default:
	}
	a.started = true
	a.wg.Add(1)
	go a.run(ctx)
	return nil
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Events returns the health channel. When the buffer is full the oldest
// event is dropped. The channel is closed after Close.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Subscribe registers h for inbound envelopes and returns a function that
// removes it.
func (a *Adapter) Subscribe(h Handler) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs = append(a.subs, subscriber{id: id, h: h})
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, s := range a.subs {
			if s.id == id {
				a.subs = append(a.subs[:i:i], a.subs[i+1:]...)
				return
			}
		}
	}
}

// Send queues env and waits until it has been written to a connection.
// Messages queued while disconnected are written after the next connect.
// If ctx ends first, env is withdrawn and never written.
func (a *Adapter) Send(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	o := &outgoing{env: env, data: data, result: make(chan error, 1)}

	select {
	case <-a.done:
		return a.lost(env, errors.New("transport closed"))
	default:
	}
	select {
	case a.queue <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return a.lost(env, errors.New("transport closed"))
	}

	select {
	case err := <-o.result:
		return err
	case <-ctx.Done():
		if o.abandon() {
			return ctx.Err()
		}
		// already being written
		return <-o.result
	case <-a.done:
		if o.abandon() {
			return a.lost(env, errors.New("transport closed"))
		}
		return <-o.result
	}
}

func (a *Adapter) lost(env protocol.Envelope, cause error) error {
	return gameerr.New(gameerr.ErrConnectionLost, "send "+env.Type, env.RoomID, cause)
}

// Close stops reconnecting, fails pending sends with ErrConnectionLost and
// publishes a final disconnected event.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		for {
			select {
			case o := <-a.queue:
				if o.claim() {
					o.result <- a.lost(o.env, errors.New("transport closed"))
				}
				continue
			default:
			}
			break
		}
		a.setState(StateDisconnected, gameerr.New(gameerr.ErrConnectionLost, "close", "", nil), 0)

		a.eventsMu.Lock()
		a.eventsClosed = true
		close(a.events)
		a.eventsMu.Unlock()
	})
	return nil
}

func (a *Adapter) closing() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func (a *Adapter) setState(s State, err error, attempt int) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.emit(Event{State: s, Err: err, Attempt: attempt, At: time.Now()})
}

// emit publishes ev, dropping the oldest buffered event if needed.
func (a *Adapter) emit(ev Event) {
	a.eventsMu.Lock()
	defer a.eventsMu.Unlock()
	if a.eventsClosed {
		return
	}
	for {
		select {
		case a.events <- ev:
			return
		default:
		}
		select {
		case old := <-a.events:
			a.log.Debug("dropping health event", zap.String("state", string(old.State)))
		default:
		}
	}
}

func (a *Adapter) run(ctx context.Context) {
	defer a.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.ReconnectInitial
	b.MaxInterval = a.cfg.ReconnectMax

	attempt := 0
	for {
		if ctx.Err() != nil || a.closing() {
			return
		}
		attempt++
		a.setState(StateConnecting, nil, attempt)
		conn, err := a.dial(ctx)
		if err != nil {
			wait := b.NextBackOff()
			a.log.Warn("transport dial failed",
				zap.String("url", a.cfg.URL),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", wait),
				zap.Error(err))
			a.setState(StateDisconnected, gameerr.New(gameerr.ErrConnectionLost, "dial", "", err), attempt)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
				continue
			case <-ctx.Done():
				timer.Stop()
				return
			case <-a.done:
				timer.Stop()
				return
			}
		}

		b.Reset()
		attempt = 0
		a.log.Info("transport connected", zap.String("url", a.cfg.URL))
		a.setState(StateConnected, nil, 0)

		err = a.serve(ctx, conn)
		if a.closing() {
			return
		}
		a.log.Warn("transport disconnected", zap.Error(err))
		a.setState(StateDisconnected, gameerr.New(gameerr.ErrConnectionLost, "read", "", err), 0)
	}
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if a.cfg.Tokens != nil {
		token, err := a.cfg.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, a.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(a.cfg.ReadLimit)
	return conn, nil
}

// serve runs one connection until it fails or the adapter closes. The
// reader has exited by the time serve returns.
func (a *Adapter) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		readErr <- a.read(connCtx, conn)
	}()

	for {
		select {
		case o := <-a.queue:
			if !o.claim() {
				a.log.Debug("skipping withdrawn message", zap.String("type", o.env.Type), zap.String("room", o.env.RoomID))
				continue
			}
			if err := conn.Write(connCtx, websocket.MessageText, o.data); err != nil {
				o.result <- a.lost(o.env, err)
				cancel()
				<-readErr
				conn.Close(websocket.StatusInternalError, "write failed")
				return err
			}
			o.result <- nil
		case err := <-readErr:
			conn.Close(websocket.StatusGoingAway, "")
			return err
		case <-a.done:
			conn.Close(websocket.StatusNormalClosure, "closing")
			cancel()
			<-readErr
			return gameerr.ErrConnectionLost
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "")
			<-readErr
			return ctx.Err()
		}
	}
}

func (a *Adapter) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		env, err := protocol.Decode(data)
		if err != nil {
			a.log.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		a.dispatch(env)
	}
}

func (a *Adapter) dispatch(env protocol.Envelope) {
	a.mu.Lock()
	subs := make([]subscriber, len(a.subs))
	copy(subs, a.subs)
	a.mu.Unlock()
	for _, s := range subs {
		s.h(env)
	}
}
