package push

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"pair-trader/internal/infrastructure"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const clientSnapshotBuffer = 16

// JetStreamSubscriber is the part of nats.JetStreamContext the gateway needs.
type JetStreamSubscriber interface {
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu sync.Mutex
	// strategy id -> broadcaster subscription
	strategies map[string]*Subscription
}

// outbound is the envelope of every message written to a client.
type outbound struct {
	Type       string          `json:"type"` // "snapshot", "pruned" or "event"
	StrategyID string          `json:"strategy_id,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Gateway relays broadcaster snapshots and NATS events to websocket clients.
// Clients send {"action":"subscribe","strategy_id":"..."} for live snapshots
// or {"action":"subscribe","topic":"pairtrader.trade.*"} for stream events.
type Gateway struct {
	logger        *zap.Logger
	bc            *Broadcaster
	js            JetStreamSubscriber
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool
	natsSubs      map[string]*nats.Subscription
	mu            sync.RWMutex
}

// NewGateway accepts a nil js, in which case NATS topics are refused.
func NewGateway(bc *Broadcaster, js JetStreamSubscriber, logger *zap.Logger) *Gateway {
	return &Gateway{
		logger:        logger,
		bc:            bc,
		js:            js,
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		natsSubs:      make(map[string]*nats.Subscription),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	client := &Client{
		conn:       conn,
		send:       make(chan []byte, 256),
		done:       make(chan struct{}),
		strategies: make(map[string]*Subscription),
	}

	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
	infrastructure.WSConnections.Inc()

	go g.writePump(client)
	g.readPump(client)
}

type inbound struct {
	Action     string `json:"action"` // "subscribe", "unsubscribe"
	StrategyID string `json:"strategy_id"`
	Topic      string `json:"topic"`
}

func (g *Gateway) readPump(c *Client) {
	defer func() {
		c.mu.Lock()
		subs := c.strategies
		c.strategies = make(map[string]*Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			g.bc.Unsubscribe(sub)
		}
		g.mu.Lock()
		delete(g.clients, c)
		for topic := range g.subscriptions {
			g.dropTopicLocked(topic, c)
		}
		g.mu.Unlock()
		infrastructure.WSConnections.Dec()
		close(c.done)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req inbound
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}

		switch {
		case req.StrategyID != "":
			g.handleStrategy(c, req)
		case req.Topic != "":
			g.handleTopic(c, req)
		}
	}
}

func (g *Gateway) handleStrategy(c *Client, req inbound) {
	switch req.Action {
	case "subscribe":
		c.mu.Lock()
		if _, ok := c.strategies[req.StrategyID]; ok {
			c.mu.Unlock()
			return
		}
		sub := g.bc.Subscribe(req.StrategyID, clientSnapshotBuffer)
		c.strategies[req.StrategyID] = sub
		c.mu.Unlock()
		go g.forward(c, sub)
		g.logger.Info("client subscribed to strategy", zap.String("strategy_id", req.StrategyID))
	case "unsubscribe":
		c.mu.Lock()
		sub, ok := c.strategies[req.StrategyID]
		delete(c.strategies, req.StrategyID)
		c.mu.Unlock()
		if ok {
			g.bc.Unsubscribe(sub)
		}
	}
}

// forward drains one broadcaster subscription into the client queue until it
// closes. A close the client did not ask for is a prune: the entry is cleared
// so the client can subscribe again, and the client is told.
func (g *Gateway) forward(c *Client, sub *Subscription) {
	for snap := range sub.C {
		data, err := json.Marshal(snap)
		if err != nil {
			g.logger.Error("failed to marshal snapshot", zap.Error(err))
			continue
		}
		g.deliver(c, outbound{Type: "snapshot", StrategyID: sub.StrategyID, Data: data})
	}

	c.mu.Lock()
	pruned := c.strategies[sub.StrategyID] == sub
	if pruned {
		delete(c.strategies, sub.StrategyID)
	}
	c.mu.Unlock()
	if pruned {
		g.logger.Info("client subscription pruned", zap.String("strategy_id", sub.StrategyID))
		g.deliver(c, outbound{Type: "pruned", StrategyID: sub.StrategyID, Data: json.RawMessage("null")})
	}
}

func (g *Gateway) handleTopic(c *Client, req inbound) {
	if !strings.HasPrefix(req.Topic, "pairtrader.") {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	switch req.Action {
	case "subscribe":
		if g.js == nil {
			g.logger.Warn("NATS not configured, topic refused", zap.String("topic", req.Topic))
			return
		}
		if g.subscriptions[req.Topic] == nil {
			if err := g.subscribeToNATS(req.Topic); err != nil {
				g.logger.Error("failed to subscribe to NATS", zap.String("topic", req.Topic), zap.Error(err))
				return
			}
			g.subscriptions[req.Topic] = make(map[*Client]bool)
		}
		g.subscriptions[req.Topic][c] = true
		g.logger.Info("client subscribed to topic", zap.String("topic", req.Topic))
	case "unsubscribe":
		g.dropTopicLocked(req.Topic, c)
	}
}

func (g *Gateway) dropTopicLocked(topic string, c *Client) {
	clients, ok := g.subscriptions[topic]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) > 0 {
		return
	}
	if sub, ok := g.natsSubs[topic]; ok {
		sub.Unsubscribe()
		delete(g.natsSubs, topic)
		g.logger.Info("unsubscribed from NATS as no clients left", zap.String("topic", topic))
	}
	delete(g.subscriptions, topic)
}

func (g *Gateway) deliver(c *Client, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		// slow client, drop
	}
}

func (g *Gateway) writePump(c *Client) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) subscribeToNATS(topic string) error {
	// topic is "pairtrader.trade.*" or "pairtrader.snapshot.<id>"
	sub, err := g.js.Subscribe(topic, func(msg *nats.Msg) {
		g.mu.RLock()
		clients := g.subscriptions[topic]
		targets := make([]*Client, 0, len(clients))
		for c := range clients {
			targets = append(targets, c)
		}
		g.mu.RUnlock()

		for _, c := range targets {
			g.deliver(c, outbound{Type: "event", Topic: msg.Subject, Data: msg.Data})
		}
		msg.Ack()
	}, nats.ManualAck(), nats.DeliverNew())

	if err != nil {
		return err
	}

	g.natsSubs[topic] = sub
	g.logger.Info("subscribed to NATS topic", zap.String("topic", topic))
	return nil
}
