package redial

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uniwire/uniwire-go/pkg/transport"
)

// Redialer errors.
var (
	ErrClosed  = errors.New("redialer closed")
	ErrStarted = errors.New("redialer already started")
)

const defaultDialTimeout = 30 * time.Second

// State is the redialer's lifecycle state.
type State uint8

const (
	// StateIdle means no session is held and no dial is running. The
	// redialer starts here and returns here after giving up.
	StateIdle State = iota

	// StateDialing means the initial dial is in progress.
	StateDialing

	// StateConnected means the current session is live.
	StateConnected

	// StateRedialing means the session was lost and attempts to
	// replace it are running.
	StateRedialing

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDialing:
		return "DIALING"
	case StateConnected:
		return "CONNECTED"
	case StateRedialing:
		return "REDIALING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc establishes one session. The redialer calls it for the
// initial dial and again for every redial attempt.
type DialFunc func(ctx context.Context) (transport.Session, error)

// Config adjusts redial behavior. The zero value redials forever on
// the default backoff schedule.
type Config struct {
	// Backoff overrides the delay schedule between attempts.
	Backoff BackoffConfig

	// DialTimeout bounds each redial attempt. Zero means 30 seconds.
	DialTimeout time.Duration

	// MaxAttempts gives up after this many consecutive failed redials,
	// returning the redialer to StateIdle. Zero means never give up.
	MaxAttempts int

	// OnState is invoked after every state transition. It runs on the
	// redialer's goroutine and must not block.
	OnState func(old, next State)

	// OnSession is invoked with each established session, the initial
	// one included.
	OnSession func(s transport.Session)

	// OnRedial is invoked before each redial attempt with the attempt
	// number (starting at 1) and the delay preceding it.
	OnRedial func(attempt int, delay time.Duration)
}

// Redialer keeps a session alive by dialing again whenever the current
// one reaches its terminal state. It holds a non-owning reference:
// closing the redialer stops the watch loop and leaves the session
// untouched, and a session the caller closes is replaced like any
// other loss.
type Redialer struct {
	dial    DialFunc
	cfg     Config
	backoff *Backoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	state State
	sess  transport.Session
}

// New returns a redialer around dial. Nothing happens until Start.
func New(dial DialFunc, cfg Config) *Redialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Redialer{
		dial:    dial,
		cfg:     cfg,
		backoff: NewBackoffWithConfig(cfg.Backoff),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
}

// Start performs the initial dial and begins watching the session. On
// failure the error is returned and the redialer stays idle; backoff
// only applies to redials, the caller owns initial-dial retry policy.
func (r *Redialer) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateClosed:
		r.mu.Unlock()
		return ErrClosed
	case StateIdle:
	default:
		r.mu.Unlock()
		return ErrStarted
	}
	r.state = StateDialing
	r.mu.Unlock()
	r.notify(StateIdle, StateDialing)

	sess, err := r.dial(ctx)
	if err != nil {
		r.mu.Lock()
		moved := r.state == StateDialing
		if moved {
			r.state = StateIdle
		}
		r.mu.Unlock()
		if moved {
			r.notify(StateDialing, StateIdle)
		}
		return err
	}
	if !r.adopt(sess) {
		// Closed while dialing. The session would be invisible to the
		// caller, so shut it down.
		_ = sess.Close()
		return ErrClosed
	}
	return nil
}

// Session returns the most recently established session, or nil before
// the first successful dial. After a loss it keeps returning the dead
// session until a redial replaces it, so its close reason stays
// inspectable.
func (r *Redialer) Session() transport.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sess
}

// State returns the current redialer state.
func (r *Redialer) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Attempts returns the number of redial attempts since the last
// successful dial.
func (r *Redialer) Attempts() int {
	return r.backoff.Attempts()
}

// Close stops watching and redialing. The current session, if any,
// stays open. Safe to call more than once.
func (r *Redialer) Close() error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return nil
	}
	old := r.state
	r.state = StateClosed
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.notify(old, StateClosed)
	return nil
}

// adopt stores a fresh session, resets the backoff, and spawns its
// watcher. Reports false if the redialer closed in the meantime.
func (r *Redialer) adopt(sess transport.Session) bool {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return false
	}
	old := r.state
	r.state = StateConnected
	r.sess = sess
	r.wg.Add(1)
	r.mu.Unlock()

	r.backoff.Reset()
	r.notify(old, StateConnected)
	if r.cfg.OnSession != nil {
		r.cfg.OnSession(sess)
	}
	go r.watch(sess)
	return true
}

// watch blocks until the session dies, then runs the redial loop.
func (r *Redialer) watch(sess transport.Session) {
	defer r.wg.Done()

	select {
	case <-sess.Done():
	case <-r.ctx.Done():
		return
	}

	r.mu.Lock()
	if r.state != StateConnected || r.sess != sess {
		r.mu.Unlock()
		return
	}
	r.state = StateRedialing
	r.mu.Unlock()
	r.notify(StateConnected, StateRedialing)

	for {
		if r.cfg.MaxAttempts > 0 && r.backoff.Attempts() >= r.cfg.MaxAttempts {
			r.giveUp()
			return
		}

		delay := r.backoff.Next()
		if r.cfg.OnRedial != nil {
			r.cfg.OnRedial(r.backoff.Attempts(), delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.DialTimeout)
		next, err := r.dial(ctx)
		cancel()
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			continue
		}
		if !r.adopt(next) {
			_ = next.Close()
		}
		return
	}
}

// giveUp returns the redialer to idle after exhausting MaxAttempts.
func (r *Redialer) giveUp() {
	r.mu.Lock()
	if r.state != StateRedialing {
		r.mu.Unlock()
		return
	}
	r.state = StateIdle
	r.mu.Unlock()
	r.notify(StateRedialing, StateIdle)
}

func (r *Redialer) notify(old, next State) {
	if old == next || r.cfg.OnState == nil {
		return
	}
	r.cfg.OnState(old, next)
}
