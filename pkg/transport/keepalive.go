package transport

import (
	"context"
	"sync"
	"time"
)

// Keep-alive constants.
const (
	// DefaultKeepAliveInterval is the default interval between probes.
	DefaultKeepAliveInterval = 15 * time.Second

	// DefaultKeepAliveTimeout is the longest peer silence tolerated
	// before the session is declared dead.
	DefaultKeepAliveTimeout = 45 * time.Second
)

// KeepAliveConfig configures liveness probing.
type KeepAliveConfig struct {
	// Interval is the time between probes. QUIC and WebTransport feed
	// it to the native QUIC keepalive; the WebSocket adapter sends
	// ping frames on this cadence.
	Interval time.Duration

	// Timeout is the longest silence tolerated from the peer. Any
	// inbound traffic resets it.
	Timeout time.Duration

	// Disabled turns probing off entirely.
	Disabled bool
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultKeepAliveInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultKeepAliveTimeout
	}
	return c
}

// KeepAlive probes peer liveness for transports without a native
// mechanism. It sends a probe every Interval and watches for inbound
// activity of any kind; a peer silent for longer than Timeout is
// declared dead.
//
// Probe replies are not matched to probes. WebSocket intermediaries
// answer pings below the application layer, so the watchdog counts any
// read activity instead of tracking pong sequences.
type KeepAlive struct {
	config    KeepAliveConfig
	sendProbe func() error
	onDead    func()

	mu           sync.Mutex
	lastActivity time.Time
	running      bool
	stopCh       chan struct{}
}

// NewKeepAlive creates a keep-alive watchdog. sendProbe transmits one
// probe; onDead fires once when the peer exceeds the silence timeout.
func NewKeepAlive(config KeepAliveConfig, sendProbe func() error, onDead func()) *KeepAlive {
	return &KeepAlive{
		config:    config.withDefaults(),
		sendProbe: sendProbe,
		onDead:    onDead,
		stopCh:    make(chan struct{}),
	}
}

// Start begins probing. It is a no-op when already running or when the
// configuration disables keep-alive.
func (ka *KeepAlive) Start(ctx context.Context) {
	if ka.config.Disabled {
		return
	}

	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.lastActivity = time.Now()
	ka.stopCh = make(chan struct{})
	stopCh := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stopCh)
}

// Stop halts probing.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}

	ka.running = false
	close(ka.stopCh)
}

// Touch records peer activity. Call it for every inbound message or
// control frame.
func (ka *KeepAlive) Touch() {
	ka.mu.Lock()
	ka.lastActivity = time.Now()
	ka.mu.Unlock()
}

// LastActivity returns the time of the most recent peer activity.
func (ka *KeepAlive) LastActivity() time.Time {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.lastActivity
}

// IsRunning reports whether the watchdog loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

func (ka *KeepAlive) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(ka.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if time.Since(ka.LastActivity()) >= ka.config.Timeout {
				ka.Stop()
				if ka.onDead != nil {
					ka.onDead()
				}
				return
			}
			// A failed probe is not fatal by itself; the silence
			// timeout catches a dead peer.
			_ = ka.sendProbe()
		}
	}
}
