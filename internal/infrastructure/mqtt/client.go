package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/sqlbridge/internal/infrastructure/config"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// handler receives one message on a subscribed topic.
type handler func(topic string, payload []byte) error

// Client is a broker connection speaking the sqlbridge topic layout.
//
// A bridge client (Connect) owns the retained status topic and its will.
// A caller client (ConnectCaller) only sends requests and awaits their
// responses. Every message uses the configured QoS.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Routes are re-subscribed after every reconnect.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte
	bridge   bool

	mu           sync.RWMutex
	online       bool
	routes       map[string]handler
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Connect connects as the bridge: the broker is given an offline will on
// sqlbridge/system/status and the client publishes a retained online
// status on every (re)connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	return connect(cfg, cfg.Broker.ClientID, true)
}

// ConnectCaller connects as a caller of a running bridge. The client ID
// gets a random suffix so it never displaces the bridge's own session,
// and no status is published.
func ConnectCaller(cfg config.MQTTConfig) (*Client, error) {
	return connect(cfg, cfg.Broker.ClientID+"-caller-"+uuid.NewString()[:8], false)
}

func connect(cfg config.MQTTConfig, clientID string, bridge bool) (*Client, error) {
	c, err := newClient(cfg, clientID, bridge)
	if err != nil {
		return nil, err
	}

	var will []byte
	if bridge {
		will = statusPayload(clientID, statusOffline, reasonUnexpected)
	}
	opts := clientOptions(cfg, clientID, will)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", clientID)
		}
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := wait(c.paho.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs asynchronously; mark the client online
	// now so callers can subscribe straight away.
	c.setOnline(true)
	return c, nil
}

// newClient validates cfg and returns an unconnected client.
func newClient(cfg config.MQTTConfig, clientID string, bridge bool) (*Client, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, cfg.QoS)
	}
	return &Client{
		clientID: clientID,
		qos:      byte(cfg.QoS),
		bridge:   bridge,
		routes:   make(map[string]handler),
	}, nil
}

// connected restores routes, announces the bridge and notifies the callback.
func (c *Client) connected() {
	c.setOnline(true)

	c.mu.RLock()
	for topic, h := range c.routes {
		// Failures surface as missing messages; paho retries on the next reconnect.
		c.paho.Subscribe(topic, c.qos, c.deliver(h))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	if c.bridge {
		c.paho.Publish(statusTopic, c.qos, true, statusPayload(c.clientID, statusOnline, ""))
	}
	if callback != nil {
		callback()
	}
}

// lost records a dropped connection and notifies the callback.
func (c *Client) lost(err error) {
	c.setOnline(false)

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

// Close publishes the graceful offline status (bridge clients only) and
// disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.bridge && c.IsConnected() {
		token := c.paho.Publish(statusTopic, c.qos, true, statusPayload(c.clientID, statusOffline, reasonShutdown))
		token.WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(disconnectQuiesce)
	c.setOnline(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online && c.paho != nil && c.paho.IsConnected()
}

// Subscriptions returns the number of routes restored on reconnect: the
// request subscription plus any pending response waits.
func (c *Client) Subscriptions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

// SetOnConnect sets a callback run after every connect and reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures. Without one they are
// dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// deliver adapts h to paho, logging its error and containing its panics.
func (c *Client) deliver(h handler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := h(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
