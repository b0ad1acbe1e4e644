// Package notify keeps a live push channel open per signed-in user and turns
// message-created events into an unseen signal and topic invalidations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

type ReconnectConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval" split_words:"true"`
	MaxInterval     time.Duration `mapstructure:"max_interval" split_words:"true"`
	Multiplier      float64       `mapstructure:"multiplier"`
	// MaxRetries of zero retries until the channel is closed.
	MaxRetries int `mapstructure:"max_retries" split_words:"true"`
}

type Config struct {
	BaseURL          string          `mapstructure:"base_url" split_words:"true"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout" split_words:"true"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		Reconnect: ReconnectConfig{
			Enabled:         true,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
		},
	}
}

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// Channel is one user's live connection. All methods are safe for concurrent
// use; frames are handled by a single reader goroutine in arrival order.
type Channel struct {
	userID  string
	cfg     Config
	dialer  Dialer
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	state  State
	tokens apiclient.TokenSource
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	unseen atomic.Bool

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

func NewChannel(userID string, tokens apiclient.TokenSource, cfg Config, opts ...Option) *Channel {
	c := &Channel{
		userID: userID,
		cfg:    cfg,
		tokens: tokens,
		logger: log.Logger,
		subs:   make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	c.logger = c.logger.With().Str("component", "notify").Str("user_id", userID).Logger()
	return c
}

func (c *Channel) UserID() string { return c.userID }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasUnseen reports whether a message addressed to the user arrived since the
// last Clear.
func (c *Channel) HasUnseen() bool { return c.unseen.Load() }

// Clear resets the unseen signal. The connection is left alone.
func (c *Channel) Clear() { c.unseen.Store(false) }

// SetTokens swaps the credential used for subsequent dials.
func (c *Channel) SetTokens(tokens apiclient.TokenSource) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

// Open connects the channel. It is a no-op while the channel is open or
// opening. The connection outlives ctx, which only bounds the dial.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setState(StateOpening)
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if runCtx.Err() == nil {
			cancel()
			c.cancel = nil
			c.setState(StateClosed)
		}
		c.logger.Error().Err(err).Msg("failed to open notification channel")
		return err
	}
	if runCtx.Err() != nil {
		// Closed while dialing.
		conn.Close()
		return nil
	}

	c.conn = conn
	c.setState(StateOpen)
	done := make(chan struct{})
	c.done = done
	go c.run(runCtx, conn, done)

	c.logger.Info().Msg("notification channel opened")
	return nil
}

// Close tears the connection down and abandons any pending read. Reconnect
// attempts stop and every subscription's C is closed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	wasOpen := c.state != StateClosed
	c.setState(StateClosed)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("closing notification connection")
		}
	}
	if done != nil {
		<-done
	}
	c.dropSubscribers()
	if wasOpen {
		c.logger.Info().Msg("notification channel closed")
	}
	return nil
}

// setState must be called with mu held.
func (c *Channel) setState(s State) {
	if c.metrics != nil && c.state != s {
		if s == StateOpen {
			c.metrics.NotifyChannels.Inc()
		} else if c.state == StateOpen {
			c.metrics.NotifyChannels.Dec()
		}
	}
	c.state = s
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	tokens := c.tokens
	c.mu.Unlock()

	if tokens == nil {
		return nil, apiclient.ErrNotAuthenticated
	}
	token, err := tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apiclient.ErrNotAuthenticated, err)
	}
	if token == "" {
		return nil, apiclient.ErrNotAuthenticated
	}

	conn, err := c.dialer.Dial(ctx, c.endpoint(token))
	if err != nil {
		return nil, fmt.Errorf("dial notification endpoint: %w", err)
	}
	return conn, nil
}

func (c *Channel) endpoint(token string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + url.PathEscape(c.userID) +
		"?access_token=" + url.QueryEscape(token)
}

func (c *Channel) run(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)

	for {
		err := c.read(conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("notification connection lost")

		if !c.cfg.Reconnect.Enabled {
			c.drop(ctx)
			return
		}

		c.mu.Lock()
		if ctx.Err() == nil {
			c.conn = nil
			c.setState(StateOpening)
		}
		c.mu.Unlock()

		conn = c.reconnect(ctx)
		if conn == nil {
			c.drop(ctx)
			return
		}
	}
}

func (c *Channel) read(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(data)
	}
}

// drop returns an abandoned channel to the closed state so a later Open can
// start over.
func (c *Channel) drop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.conn = nil
	c.setState(StateClosed)
}

func (c *Channel) reconnect(ctx context.Context) Conn {
	rc := c.cfg.Reconnect
	exp := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		exp.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		exp.MaxInterval = rc.MaxInterval
	}
	if rc.Multiplier > 0 {
		exp.Multiplier = rc.Multiplier
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	var policy backoff.BackOff = exp
	if rc.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(rc.MaxRetries))
	}
	policy = backoff.WithContext(policy, ctx)

	operation := func() (Conn, error) {
		if c.metrics != nil {
			c.metrics.NotifyReconnects.Inc()
		}
		conn, err := c.dial(ctx)
		if errors.Is(err, apiclient.ErrNotAuthenticated) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("notification reconnect failed")
	}

	conn, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("giving up on notification channel")
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		conn.Close()
		return nil
	}
	c.conn = conn
	c.setState(StateOpen)
	c.logger.Info().Msg("notification channel reconnected")
	return conn
}

func (c *Channel) handle(data []byte) {
	ev, err := ParseMessageCreated(data)
	if err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping notification frame")
		c.count("malformed")
		return
	}
	if ev.ReceiverID != c.userID {
		c.count("ignored")
		return
	}
	c.count("matched")

	now := time.Now()
	if c.unseen.CompareAndSwap(false, true) {
		c.publish(Invalidation{Topic: TopicUnseen, At: now})
	}
	c.publish(Invalidation{Topic: TopicMessages, At: now})
}

func (c *Channel) count(result string) {
	if c.metrics != nil {
		c.metrics.NotifyEvents.WithLabelValues(result).Inc()
	}
}
