// Package feed streams payment notifications over WebSocket and credits
// them to the fund split ledger.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"databurn/internal/ledger"
	"databurn/internal/observability"
	"databurn/internal/treasury"
)

// Message kinds carried on the feed.
const (
	// KindPayment credits the fund split ledger. An empty kind means the
	// same; older upstreams do not send the field.
	KindPayment = "payment"
	// KindTreasuryDeposit credits an entity's treasury USDC balance,
	// funding later proportional distributions.
	KindTreasuryDeposit = "treasury_deposit"
)

// Payment is one incoming payment notification. Amounts are decimal strings
// in the asset's smallest unit.
type Payment struct {
	TxID     string `json:"tx_id"`
	Kind     string `json:"kind,omitempty"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	EntityID int64  `json:"entity_id"`
}

// Config configures client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// DedupeWindow is how many recent tx ids to remember.
	DedupeWindow int
}

// DefaultConfig returns default feed configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		DedupeWindow:      4096,
	}
}

// Client consumes the payments feed. Each valid, unseen payment is credited
// to the ledger; malformed messages are logged and skipped so one bad
// payment cannot stall the stream.
type Client struct {
	endpoint string
	config   Config
	ledger   *ledger.FundSplitLedger
	treasury *treasury.Treasury
	metrics  *observability.Metrics

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// seen tracks recent tx ids; order is the eviction queue.
	seen   map[string]struct{}
	order  []string
	seenMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a feed client and connects to the endpoint. A nil
// treasury rejects deposit messages.
func NewClient(ctx context.Context, endpoint string, l *ledger.FundSplitLedger, tr *treasury.Treasury, metrics *observability.Metrics, config *Config) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		ledger:   l,
		treasury: tr,
		metrics:  metrics,
		seen:     make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the WebSocket connection.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads payments and credits the ledger, reconnecting with
// exponential backoff on connection errors.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.waitOrDone(reconnectDelay) {
				return
			}
			reconnectDelay = c.nextDelay(reconnectDelay)
			c.reconnect()
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.connMu.Lock()
			c.conn.Close()
			c.conn = nil
			c.connMu.Unlock()
			continue
		}

		reconnectDelay = c.config.ReconnectDelay
		if c.metrics != nil {
			c.metrics.FeedMessages.Inc()
		}
		c.handleMessage(message)
	}
}

func (c *Client) waitOrDone(d time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > c.config.MaxReconnectDelay {
		d = c.config.MaxReconnectDelay
	}
	return d
}

// reconnect attempts one reconnection.
func (c *Client) reconnect() {
	if c.closed.Load() {
		return
	}
	if c.metrics != nil {
		c.metrics.FeedReconnects.Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		log.Printf("[WARN] feed reconnect: %v", err)
	}
}

// handleMessage parses and applies one payment.
func (c *Client) handleMessage(message []byte) {
	var p Payment
	if err := json.Unmarshal(message, &p); err != nil {
		log.Printf("[WARN] feed: malformed payment: %v", err)
		return
	}
	if p.TxID == "" || p.Asset == "" {
		log.Printf("[WARN] feed: payment missing tx_id or asset")
		return
	}
	if c.alreadySeen(p.TxID) {
		return
	}

	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		log.Printf("[WARN] feed: unparseable amount %q in tx %s", p.Amount, p.TxID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch p.Kind {
	case "", KindPayment:
		if _, _, err := c.ledger.ReceiveFunds(ctx, p.Asset, amount, p.EntityID); err != nil {
			log.Printf("[WARN] feed: receive funds for tx %s: %v", p.TxID, err)
			return
		}
	case KindTreasuryDeposit:
		if c.treasury == nil {
			log.Printf("[WARN] feed: treasury deposit %s with no treasury configured", p.TxID)
			return
		}
		if err := c.treasury.DepositUSDC(p.EntityID, amount); err != nil {
			log.Printf("[WARN] feed: treasury deposit for tx %s: %v", p.TxID, err)
			return
		}
	default:
		log.Printf("[WARN] feed: unknown message kind %q in tx %s", p.Kind, p.TxID)
		return
	}

	if c.metrics != nil {
		c.metrics.FundsReceived.Inc()
	}
}

// alreadySeen records the tx id and reports whether it was a duplicate.
// The window is bounded; the oldest id is evicted first.
func (c *Client) alreadySeen(txID string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()

	if _, ok := c.seen[txID]; ok {
		return true
	}
	c.seen[txID] = struct{}{}
	c.order = append(c.order, txID)
	if len(c.order) > c.config.DedupeWindow {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	return false
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// Reader handles reconnect if the connection is dead.
				c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
