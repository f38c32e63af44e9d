// internal/emergency/push/consumer.go

// Package push consumes the hub's realtime channel. It is only an event
// source: transport failures never affect the poll path, and every event it
// delivers goes through the reconciler's merge rule, so duplicates and
// out-of-order delivery against polling are harmless.
package push

import (
	"encoding/json"
	"sync"
	"time"

	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/models"

	"github.com/gorilla/websocket"
)

const (
	msgAuthenticate     = "authenticate"
	msgJoinEmergency    = "join-emergency"
	msgLeaveEmergency   = "leave-emergency"
	msgHospitalResponse = "hospital-response"
	msgEmergencyUpdate  = "emergency-update"
)

// envelope is the wire frame for both directions.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler receives decoded hospital-response events.
type Handler func(models.HospitalResponseEvent)

// Config holds the push channel settings.
type Config struct {
	URL               string
	UserID            string
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	HandshakeTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 5
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 20 * time.Second
	}
}

// Consumer maintains the websocket connection, re-authenticating and
// re-joining the subscribed emergency after every reconnect.
type Consumer struct {
	cfg     Config
	handler Handler
	logger  logger.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed string
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup

	// writeMu serializes frames: gorilla/websocket allows at most one
	// concurrent writer, and Subscribe/Unsubscribe run on caller
	// goroutines while connect writes from the read loop.
	writeMu sync.Mutex
}

func NewConsumer(cfg Config, handler Handler, log logger.Logger) *Consumer {
	cfg.applyDefaults()
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  log.WithFields(map[string]interface{}{"component": "push"}),
	}
}

// Start launches the connect/read loop. Safe to call once.
func (c *Consumer) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()
}

// Stop closes the connection and waits for the read loop to exit.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// Subscribe joins the event stream for one emergency id. The subscription
// survives reconnects until Unsubscribe.
func (c *Consumer) Subscribe(emergencyID string) {
	c.mu.Lock()
	c.subscribed = emergencyID
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.send(conn, msgJoinEmergency, emergencyID)
	}
}

// Unsubscribe leaves the current emergency stream.
func (c *Consumer) Unsubscribe() {
	c.mu.Lock()
	emergencyID := c.subscribed
	c.subscribed = ""
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && emergencyID != "" {
		c.send(conn, msgLeaveEmergency, emergencyID)
	}
}

func (c *Consumer) loop() {
	defer c.wg.Done()

	attempts := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := c.connect()
		if err != nil {
			attempts++
			c.logger.Warn("push channel connect failed", map[string]interface{}{
				"attempt": attempts,
				"error":   err.Error(),
			})
			if attempts >= c.cfg.ReconnectAttempts {
				c.logger.Error("push channel giving up, polling remains the fallback", map[string]interface{}{
					"attempts": attempts,
				})
				return
			}
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
			continue
		}
		attempts = 0

		c.readUntilClosed(conn)

		c.mu.Lock()
		stopped := !c.running
		c.conn = nil
		c.mu.Unlock()
		if stopped {
			return
		}

		select {
		case <-c.stopCh:
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Consumer) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	subscribed := c.subscribed
	c.mu.Unlock()

	// authenticate, then rejoin the emergency stream if one is tracked
	c.send(conn, msgAuthenticate, c.cfg.UserID)
	if subscribed != "" {
		c.send(conn, msgJoinEmergency, subscribed)
	}

	c.logger.Info("push channel connected", map[string]interface{}{"url": c.cfg.URL})
	return conn, nil
}

func (c *Consumer) readUntilClosed(conn *websocket.Conn) {
	for {
		var frame envelope
		if err := conn.ReadJSON(&frame); err != nil {
			c.logger.Warn("push channel disconnected", map[string]interface{}{
				"error": err.Error(),
			})
			conn.Close()
			return
		}

		switch frame.Type {
		case msgHospitalResponse, msgEmergencyUpdate:
			var event models.HospitalResponseEvent
			if err := json.Unmarshal(frame.Data, &event); err != nil {
				c.logger.Warn("dropping undecodable push event", map[string]interface{}{
					"type":  frame.Type,
					"error": err.Error(),
				})
				continue
			}
			if event.EmergencyID == "" {
				continue
			}
			c.handler(event)
		default:
			// authenticated acks and unrelated broadcasts
		}
	}
}

func (c *Consumer) send(conn *websocket.Conn, msgType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	err = conn.WriteJSON(envelope{Type: msgType, Data: raw})
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("push channel write failed", map[string]interface{}{
			"type":  msgType,
			"error": err.Error(),
		})
	}
}
