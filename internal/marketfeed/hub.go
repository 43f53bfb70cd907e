package marketfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"curveledger/internal/engine"
	"curveledger/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans engine notifications out to websocket clients. Clients
// subscribe per token; a client that cannot drain its send buffer is
// dropped rather than allowed to stall the broadcast loop.
type Hub struct {
	log     zerolog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	clients map[*Client]struct{}

	inputChan  <-chan engine.Notification
	register   chan *Client
	unregister chan *Client

	// Closed when Run exits so client goroutines never block on the
	// register/unregister channels after shutdown.
	done chan struct{}
}

func NewHub(inputChan <-chan engine.Notification, log zerolog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		log:        log,
		metrics:    metrics,
		clients:    make(map[*Client]struct{}),
		inputChan:  inputChan,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the broadcast loop. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.FeedClients.Set(float64(n))
			}

		case c := <-h.unregister:
			h.drop(c)

		case n, ok := <-h.inputChan:
			if !ok {
				h.closeAll()
				return nil
			}
			h.broadcast(n)
		}
	}
}

// ServeWS upgrades an HTTP request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	h.log.Debug().Str("client_id", c.id).Str("remote", conn.RemoteAddr().String()).Msg("feed client connected")

	go c.writeLoop()
	go c.readLoop()
}

// feedMessage is the wire envelope sent to clients.
type feedMessage struct {
	Kind    string              `json:"kind"`
	TokenID string              `json:"token_id"`
	UserID  string              `json:"user_id,omitempty"`
	Seq     int64               `json:"seq"`
	Payload engine.Notification `json:"payload"`
}

func (h *Hub) broadcast(n engine.Notification) {
	data, err := json.Marshal(feedMessage{
		Kind:    n.Kind.String(),
		TokenID: n.TokenID,
		UserID:  n.UserID,
		Seq:     n.Seq,
		Payload: n,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal feed message")
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if !c.wants(n.TokenID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("client_id", c.id).Str("remote", c.conn.RemoteAddr().String()).Msg("dropping slow feed client")
		if h.metrics != nil {
			h.metrics.FeedSlowDrops.Inc()
		}
		h.drop(c)
	}

	if h.metrics != nil {
		h.metrics.FeedBroadcasts.WithLabelValues(n.Kind.String()).Inc()
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.FeedClients.Set(float64(n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.FeedClients.Set(0)
	}
}
