// stream.go implements the C3 push surface: a websocket multiplexer over
// nhooyr.io/websocket that fans a handful of upstream channels out to many
// subscribers, reconnects with backoff, re-fetches the user-data listen key
// after a reconnect when one is already held (the Hub never obtains a first
// key itself), and enforces per-(stream,symbol) monotone delivery plus event dedup.
//
// Grounded on the teacher's MarketStatusWebSocket
// (internal/clients/tradernet/websocket_client.go): the HTTP/1.1-forced
// dialer (Cloudflare negotiates h2 via ALPN, which breaks the websocket
// upgrade handshake), the context-scoped read loop, and the exponential
// backoff reconnect loop are carried over near verbatim and generalized
// from a single "markets" channel to the kline/ticker/miniTicker/depth/
// user-data channel set §4.3 names.
package marketdata

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/events"
	"github.com/aristath/tradecore/internal/reliability"
)

// StreamEventType identifies which of §4.3's channel kinds an event belongs to.
type StreamEventType string

const (
	EventKline       StreamEventType = "kline"
	EventTicker      StreamEventType = "ticker"
	EventMiniTicker  StreamEventType = "miniTicker"
	EventDepth       StreamEventType = "depth"
	EventUserData    StreamEventType = "user_data"
	EventHeartbeat   StreamEventType = "heartbeat"
	EventReconnected StreamEventType = "reconnected"
)

// StreamEvent is a single typed push event delivered to subscribers.
type StreamEvent struct {
	Type           StreamEventType
	Symbol         string
	Interval       string // populated for EventKline
	EventID        string
	EventTime      int64
	BucketOpenTime int64 // populated for EventKline; the monotone key, §4.3
	Payload        json.RawMessage
}

// wireEnvelope is the upstream frame shape: {"channel": "<channel>", "data": <payload>}.
type wireEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type subscriber struct {
	key string
	ch  chan StreamEvent
}

// Hub is the C3 stream surface: one multiplexed connection serving many
// logical subscriptions.
type Hub struct {
	wsURL      string
	httpClient *http.Client
	rest       *tradernet.Client
	log        zerolog.Logger
	notifier   *events.Manager

	mu         sync.Mutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopCh     chan struct{}
	listenKey  string

	subMu    sync.Mutex
	subs     map[string][]*subscriber // key: "<type>:<symbol>:<interval>"
	monotone map[string]int64         // same key, last observed bucket_open_time

	dedup *dedupWindow
}

// NewHub constructs a stream Hub. rest supplies the listen-key lifecycle
// calls the user_data_stream channel needs.
func NewHub(wsURL string, rest *tradernet.Client, notifier *events.Manager, log zerolog.Logger) *Hub {
	return &Hub{
		wsURL:      wsURL,
		httpClient: http1Client(),
		rest:       rest,
		notifier:   notifier,
		log:        log.With().Str("module", "marketdata_hub").Logger(),
		subs:       make(map[string][]*subscriber),
		monotone:   make(map[string]int64),
		dedup:      newDedupWindow(5 * time.Minute),
		stopCh:     make(chan struct{}),
	}
}

// http1Client forces HTTP/1.1, required because the websocket upgrade
// handshake breaks if ALPN negotiates h2 — same rationale as the teacher's
// createHTTP1Client.
func http1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

func subKey(eventType StreamEventType, symbol, interval string) string {
	return fmt.Sprintf("%s:%s:%s", eventType, symbol, interval)
}

// Subscribe registers interest in a stream channel for a symbol. Cancelling
// the returned function is immediate on the consumer's side (the channel is
// closed and removed); the Hub unsubscribes on the wire in the background.
func (h *Hub) Subscribe(ctx context.Context, eventType StreamEventType, symbol, interval string) (<-chan StreamEvent, func(), error) {
	key := subKey(eventType, symbol, interval)
	sub := &subscriber{key: key, ch: make(chan StreamEvent, 64)}

	h.subMu.Lock()
	firstForKey := len(h.subs[key]) == 0
	h.subs[key] = append(h.subs[key], sub)
	h.subMu.Unlock()

	if firstForKey {
		if err := h.ensureConnected(ctx); err != nil {
			h.removeSub(key, sub)
			return nil, nil, err
		}
		if err := h.sendSubscribe(ctx, eventType, symbol, interval); err != nil {
			h.removeSub(key, sub)
			return nil, nil, err
		}
	}

	cancel := func() {
		h.removeSub(key, sub)
		go h.maybeUnsubscribe(key, eventType, symbol, interval)
	}
	return sub.ch, cancel, nil
}

func (h *Hub) removeSub(key string, target *subscriber) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	list := h.subs[key]
	for i, s := range list {
		if s == target {
			close(s.ch)
			h.subs[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.subs[key]) == 0 {
		delete(h.subs, key)
	}
}

func (h *Hub) maybeUnsubscribe(key string, eventType StreamEventType, symbol, interval string) {
	h.subMu.Lock()
	remaining := len(h.subs[key])
	h.subMu.Unlock()
	if remaining > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.sendUnsubscribe(ctx, eventType, symbol, interval); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("background unsubscribe failed")
	}
}

func (h *Hub) ensureConnected(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected {
		return nil
	}
	return h.connectLocked(ctx)
}

func (h *Hub) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, h.wsURL, &websocket.DialOptions{HTTPClient: h.httpClient})
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	h.conn = conn
	h.connCtx = connCtx
	h.cancelFunc = connCancel
	h.connected = true

	go h.readLoop(connCtx)
	h.log.Info().Msg("stream connected")
	return nil
}

// readLoop mirrors the teacher's readMessages: read until the connection
// context is cancelled or the socket errors, then kick off reconnection.
func (h *Hub) readLoop(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		stopped := h.stopped
		h.connected = false
		h.mu.Unlock()
		if !stopped {
			go h.reconnectLoop()
		}
	}()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		h.mu.Lock()
		conn := h.conn
		h.mu.Unlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Warn().Err(err).Msg("stream read error")
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := h.handleFrame(data); err != nil {
			h.log.Error().Err(err).Msg("failed to handle stream frame")
		}
	}
}

func (h *Hub) handleFrame(data []byte) error {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parse envelope: %w", err)
	}

	var ev StreamEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return fmt.Errorf("parse event: %w", err)
	}
	ev.Type = StreamEventType(env.Channel)
	ev.Payload = env.Data

	if h.dedup.SeenBefore(ev.EventID, ev.Symbol, ev.EventTime) {
		return nil
	}

	key := subKey(ev.Type, ev.Symbol, ev.Interval)
	if ev.Type == EventKline {
		h.subMu.Lock()
		last := h.monotone[key]
		if ev.BucketOpenTime < last {
			h.subMu.Unlock()
			return nil // stale bucket, violates monotone guarantee if delivered
		}
		h.monotone[key] = ev.BucketOpenTime
		h.subMu.Unlock()
	}

	h.deliver(key, ev)
	return nil
}

func (h *Hub) deliver(key string, ev StreamEvent) {
	h.subMu.Lock()
	recipients := append([]*subscriber(nil), h.subs[key]...)
	h.subMu.Unlock()
	for _, s := range recipients {
		select {
		case s.ch <- ev:
		default:
			h.log.Warn().Str("key", key).Msg("subscriber channel full, dropping event")
		}
	}
}

// broadcast delivers ev to every active subscriber regardless of key, used
// for the reconnected marker that every stateful consumer needs to observe.
func (h *Hub) broadcast(ev StreamEvent) {
	h.subMu.Lock()
	var all []*subscriber
	for _, list := range h.subs {
		all = append(all, list...)
	}
	h.subMu.Unlock()
	for _, s := range all {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (h *Hub) sendSubscribe(ctx context.Context, eventType StreamEventType, symbol, interval string) error {
	return h.sendControl(ctx, "subscribe", eventType, symbol, interval)
}

func (h *Hub) sendUnsubscribe(ctx context.Context, eventType StreamEventType, symbol, interval string) error {
	return h.sendControl(ctx, "unsubscribe", eventType, symbol, interval)
}

func (h *Hub) sendControl(ctx context.Context, action string, eventType StreamEventType, symbol, interval string) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := map[string]string{"action": action, "channel": string(eventType), "symbol": symbol}
	if interval != "" {
		msg["interval"] = interval
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

// reconnectLoop re-dials with exponential backoff, re-establishes the
// user-data listen-key, re-subscribes every still-live subscription, and
// emits an EventReconnected marker so stateful consumers (e.g. a kline
// bucket watcher) know to re-synchronize, §4.3 / §8 scenario 6.
func (h *Hub) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-h.stopCh:
			return
		default:
		}
		attempt++
		ctx := context.Background()
		if err := reliability.DefaultStreamBackoff.Wait(ctx, attempt); err != nil {
			return
		}

		h.mu.Lock()
		err := h.connectLocked(ctx)
		h.mu.Unlock()
		if err != nil {
			h.log.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		if h.rest != nil && h.listenKey != "" {
			if key, err := h.rest.ListenKey(); err == nil {
				h.listenKey = key
			} else {
				h.log.Warn().Err(err).Msg("failed to refresh listen key after reconnect")
			}
		}

		h.resubscribeAll(ctx)
		h.broadcast(StreamEvent{Type: EventReconnected})
		if h.notifier != nil {
			h.notifier.Emit(events.StreamReconnected, "marketdata_hub", map[string]interface{}{"attempt": attempt})
		}
		h.log.Info().Int("attempt", attempt).Msg("stream reconnected")
		return
	}
}

func (h *Hub) resubscribeAll(ctx context.Context) {
	h.subMu.Lock()
	keys := make([]string, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	h.subMu.Unlock()

	for _, key := range keys {
		parts := splitKey(key)
		eventType, symbol, interval := parts[0], parts[1], parts[2]
		if err := h.sendSubscribe(ctx, StreamEventType(eventType), symbol, interval); err != nil {
			h.log.Error().Err(err).Str("key", key).Msg("resubscribe failed")
		}
	}
}

func splitKey(key string) [3]string {
	var out [3]string
	idx := 0
	start := 0
	for i := 0; i < len(key) && idx < 2; i++ {
		if key[i] == ':' {
			out[idx] = key[start:i]
			idx++
			start = i + 1
		}
	}
	out[idx] = key[start:]
	return out
}

// Stop tears down the connection and every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	conn := h.conn
	cancel := h.cancelFunc
	h.mu.Unlock()

	close(h.stopCh)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutdown")
	}

	h.subMu.Lock()
	for _, list := range h.subs {
		for _, s := range list {
			close(s.ch)
		}
	}
	h.subs = make(map[string][]*subscriber)
	h.subMu.Unlock()
}

// IsConnected reports the current connection state.
func (h *Hub) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// ListenKey returns the user-data stream's current listen key, if any, for
// the scheduler's keepalive job. Nothing in the Hub obtains an initial key,
// and reconnectLoop refreshes the key only when one is already held, so
// ListenKey returns "" and the keepalive job has no key to extend.
func (h *Hub) ListenKey() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listenKey
}
