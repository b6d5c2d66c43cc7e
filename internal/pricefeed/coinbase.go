package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/market"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/Ithil-protocol/liquidation-bot/internal/supervise"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const DefaultURL = "wss://ws-feed.exchange.coinbase.com"

// DefaultProducts are the pairs subscribed when none are configured.
var DefaultProducts = []string{"ETH-USD", "BTC-USD", "DAI-USD"}

// ErrHandshake means the subscribe exchange failed. It is never retried.
var ErrHandshake = errors.New("price feed handshake failed")

type channel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

type subscribeRequest struct {
	Type     string    `json:"type"`
	Channels []channel `json:"channels"`
}

// frame holds the fields read from any inbound message.
type frame struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

// Coinbase streams ticker prices from the Coinbase exchange feed.
type Coinbase struct {
	URL      string
	Products []string

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration

	metrics *observability.Metrics
	logger  zerolog.Logger

	writeMu sync.Mutex
}

func NewCoinbase(url string, products []string, metrics *observability.Metrics) *Coinbase {
	if url == "" {
		url = DefaultURL
	}
	if len(products) == 0 {
		products = DefaultProducts
	}
	return &Coinbase{
		URL:              url,
		Products:         products,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		metrics:          metrics,
		logger:           observability.NewLogger("coinbase-feed"),
	}
}

// Run dials, subscribes and forwards ticks until ctx ends or the session
// fails. Handshake failures are wrapped with ErrHandshake and marked
// permanent for the supervisor. Sends block when out is full.
func (c *Coinbase) Run(ctx context.Context, out chan<- event.Event) error {
	conn, err := c.subscribe(ctx)
	if err != nil {
		return supervise.Permanent(err)
	}
	defer conn.Close()

	c.logger.Info().Strs("products", c.Products).Msg("subscribed")

	// Unblock the read loop when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if c.PingInterval > 0 {
		go c.pingLoop(conn, stop)
	}

	for {
		if c.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read price frame: %w", err)
		}

		tick, ok := c.parse(msg)
		if !ok {
			continue
		}
		select {
		case out <- tick:
			if c.metrics != nil {
				c.metrics.EventsIngested.WithLabelValues("coinbase", tick.EventType().String()).Inc()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coinbase) subscribe(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrHandshake, c.URL, err)
	}

	req := subscribeRequest{
		Type: "subscribe",
		Channels: []channel{
			{Name: "heartbeat", ProductIDs: c.Products},
			{Name: "ticker", ProductIDs: c.Products},
		},
	}
	if err := c.writeJSON(conn, req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: send subscribe: %v", ErrHandshake, err)
	}

	if c.HandshakeTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.HandshakeTimeout))
	}
	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: read ack: %v", ErrHandshake, err)
	}
	if ack.Type == "error" {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrHandshake, ack.Message, ack.Reason)
	}
	if ack.Type != "subscriptions" {
		c.logger.Warn().Str("type", ack.Type).Msg("unexpected subscribe acknowledgment")
	}
	return conn, nil
}

// parse turns one frame into a tick. Heartbeats, unknown frame types and
// malformed tickers return false.
func (c *Coinbase) parse(msg []byte) (*event.PriceTick, bool) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		c.drop("bad_json", err, "")
		return nil, false
	}

	switch f.Type {
	case "heartbeat":
		c.logger.Debug().Str("product", f.ProductID).Msg("heartbeat")
		return nil, false

	case "ticker":
		pair, err := market.ParsePair(f.ProductID)
		if err != nil {
			c.drop("unknown_currency", err, f.ProductID)
			return nil, false
		}
		price, err := strconv.ParseFloat(f.Price, 64)
		if err != nil || price <= 0 {
			c.drop("bad_price", fmt.Errorf("price %q: %v", f.Price, err), f.ProductID)
			return nil, false
		}
		return &event.PriceTick{Exchange: market.ExchangeCoinbase, Pair: pair, Price: price}, true

	default:
		return nil, false
	}
}

func (c *Coinbase) drop(reason string, err error, product string) {
	if c.metrics != nil {
		c.metrics.TicksDropped.WithLabelValues(reason).Inc()
	}
	c.logger.Warn().Err(err).Str("product", product).Str("reason", reason).Msg("ticker dropped")
}

func (c *Coinbase) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Msg("ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (c *Coinbase) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}
