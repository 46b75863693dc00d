// Package stream maintains the live websocket price feed: subscribe by
// mint, validate inbound updates, and hand accepted prices to the cache
// and the liquidation trigger.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/liquidation"
	"memecoin-lending-oracle/internal/observability"
	"memecoin-lending-oracle/internal/pricing"
	"memecoin-lending-oracle/internal/retry"
	"memecoin-lending-oracle/internal/storage"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// Config configures the stream client.
type Config struct {
	// URL is the websocket feed endpoint.
	URL string
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the doubling reconnect delay.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed attempts before the
	// client gives up permanently.
	MaxReconnectAttempts int
	// PingInterval is the keepalive ping period.
	PingInterval time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// WriteTimeout is the per-message write deadline.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default stream configuration for the given URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

// maxSanePriceUSD rejects updates beyond any plausible token price.
const maxSanePriceUSD = 1e9

// anomalyRatio is the relative move versus the cached price that raises a
// price anomaly signal. Anomalous updates are still accepted.
const anomalyRatio = 0.5

// Client is the live price feed client. Updates that pass validation are
// written to the cache and checked against liquidation thresholds before
// the next message is read.
type Client struct {
	config  Config
	cache   *pricing.Cache
	trigger *liquidation.Trigger
	audit   storage.AuditStore
	logger  *zap.Logger
	now     func() time.Time

	conn   *websocket.Conn
	connMu sync.Mutex

	state atomic.Int32

	mintsMu sync.Mutex
	mints   map[string]bool
}

// NewClient creates a stream client. Trigger and audit store may be nil.
func NewClient(config Config, cache *pricing.Cache, trigger *liquidation.Trigger, audit storage.AuditStore, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 1 * time.Second
	}
	if config.MaxReconnectDelay <= 0 {
		config.MaxReconnectDelay = 30 * time.Second
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = 10
	}
	return &Client{
		config:  config,
		cache:   cache,
		trigger: trigger,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
		mints:   make(map[string]bool),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Track adds mints to the tracked set. The set only grows; tracked mints
// are resubscribed in full after every reconnect. When connected, the new
// subscription is pushed immediately.
func (c *Client) Track(mints ...string) error {
	c.mintsMu.Lock()
	added := false
	for _, mint := range mints {
		if mint == "" || c.mints[mint] {
			continue
		}
		c.mints[mint] = true
		added = true
	}
	c.mintsMu.Unlock()

	if !added || c.State() != StateSubscribed {
		return nil
	}
	return c.subscribe()
}

// TrackedMints returns a snapshot of the tracked set.
func (c *Client) TrackedMints() []string {
	c.mintsMu.Lock()
	defer c.mintsMu.Unlock()
	out := make([]string, 0, len(c.mints))
	for mint := range c.mints {
		out = append(out, mint)
	}
	return out
}

// Run connects and processes the feed until the context is cancelled or
// the reconnect budget is exhausted. On give-up a critical audit event is
// written and Run returns; the polling aggregator remains the price path.
func (c *Client) Run(ctx context.Context) error {
	backoff := retry.Policy{
		MaxAttempts:  c.config.MaxReconnectAttempts,
		InitialDelay: c.config.ReconnectDelay,
		MaxDelay:     c.config.MaxReconnectDelay,
		Multiplier:   2.0,
	}
	attempts := 0

	for {
		if ctx.Err() != nil {
			c.state.Store(int32(StateDisconnected))
			return ctx.Err()
		}

		c.state.Store(int32(StateConnecting))
		start := c.now()
		err := c.runOnce(ctx)
		c.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that held longer than the delay cap was healthy;
		// its loss starts a fresh backoff cycle.
		if c.now().Sub(start) > c.config.MaxReconnectDelay {
			attempts = 0
		}

		attempts++
		observability.RecordStreamReconnect()
		if attempts >= c.config.MaxReconnectAttempts {
			c.state.Store(int32(StateGaveUp))
			c.logger.Error("stream gave up after repeated failures",
				zap.Int("attempts", attempts),
				zap.Error(err))
			c.recordEvent(domain.EventStreamGaveUp, domain.SeverityCritical, "",
				fmt.Sprintf("gave up after %d reconnect attempts: %v", attempts, err))
			return fmt.Errorf("stream gave up after %d attempts: %w", attempts, err)
		}

		delay := backoff.NextDelay(attempts - 1)
		c.logger.Warn("stream disconnected, reconnecting",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempts),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce dials, subscribes and reads until the connection fails. A
// connection that subscribed successfully resets the caller's backoff by
// returning only after at least one message cycle.
func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	c.state.Store(int32(StateSubscribed))
	if err := c.subscribe(); err != nil {
		return err
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(c.now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		c.handleMessage(ctx, message)
	}
}

// subscribeRequest is the outbound subscription message.
type subscribeRequest struct {
	Op    string   `json:"op"`
	Mints []string `json:"mints"`
}

// priceUpdate is the inbound price push.
type priceUpdate struct {
	Op     string  `json:"op"`
	Mint   string  `json:"mint"`
	USD    float64 `json:"usd"`
	Native float64 `json:"native"`
	Ts     int64   `json:"ts"`
}

// subscribe sends the full tracked set on the current connection.
func (c *Client) subscribe() error {
	mints := c.TrackedMints()
	if len(mints) == 0 {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(c.now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(subscribeRequest{Op: "subscribe", Mints: mints}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// handleMessage validates one inbound update and, if accepted, writes it
// to the cache and runs the liquidation check before returning.
func (c *Client) handleMessage(ctx context.Context, message []byte) {
	var update priceUpdate
	if err := json.Unmarshal(message, &update); err != nil || update.Op != "price" {
		return
	}

	if reason, ok := c.validate(&update); !ok {
		observability.RecordStreamUpdate(false)
		c.logger.Warn("stream update rejected",
			zap.String("mint", update.Mint),
			zap.String("reason", reason))
		c.recordEvent(domain.EventPriceRejected, domain.SeverityWarning, update.Mint, reason)
		return
	}

	if cached, ok := c.cache.Get(update.Mint); ok && cached.USDPrice > 0 {
		move := math.Abs(update.USD-cached.USDPrice) / cached.USDPrice
		if move > anomalyRatio {
			observability.RecordAnomaly()
			c.logger.Warn("price anomaly on live update",
				zap.String("mint", update.Mint),
				zap.Float64("cached", cached.USDPrice),
				zap.Float64("update", update.USD))
			c.recordEvent(domain.EventPriceAnomaly, domain.SeverityCritical, update.Mint,
				fmt.Sprintf("%.1f%% move in one update (%g -> %g)", move*100, cached.USDPrice, update.USD))
		}
	}

	observedAt := update.Ts
	if observedAt <= 0 {
		observedAt = c.now().UnixMilli()
	}
	rec := &domain.PriceRecord{
		Mint:         update.Mint,
		USDPrice:     update.USD,
		NativePrice:  update.Native,
		Source:       domain.SourceStream,
		ObservedAtMs: observedAt,
	}

	c.cache.Put(rec)
	observability.RecordStreamUpdate(true)

	if c.trigger != nil {
		if err := c.trigger.CheckMint(ctx, rec); err != nil {
			c.logger.Error("liquidation check failed",
				zap.String("mint", update.Mint),
				zap.Error(err))
		}
	}
}

// validate applies the numeric sanity checks. It returns a rejection
// reason when the update must be discarded.
func (c *Client) validate(update *priceUpdate) (string, bool) {
	switch {
	case update.Mint == "":
		return "missing mint", false
	case math.IsNaN(update.USD) || math.IsInf(update.USD, 0):
		return "usd price not finite", false
	case update.USD <= 0:
		return "usd price not positive", false
	case update.USD > maxSanePriceUSD:
		return "usd price above sanity cap", false
	case math.IsNaN(update.Native) || math.IsInf(update.Native, 0) || update.Native < 0:
		return "native price invalid", false
	default:
		return "", true
	}
}

// pingLoop keeps the connection alive while it lasts.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(c.now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) recordEvent(eventType string, severity domain.Severity, mint, detail string) {
	if c.audit == nil {
		return
	}
	event := &domain.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		Mint:        mint,
		Detail:      detail,
		CreatedAtMs: c.now().UnixMilli(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.audit.Append(ctx, event); err != nil {
		c.logger.Warn("audit append failed", zap.String("type", eventType), zap.Error(err))
	}
}
