package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds broker connection settings.
type Config struct {
	Broker     string `yaml:"broker"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	ClientID   string `yaml:"client_id"`
	StateTopic string `yaml:"state_topic"`
}

// Client is a paho connection that re-subscribes after every reconnect and
// announces the bridge state on StateTopic.
type Client struct {
	client     pahomqtt.Client
	stateTopic string
	logger     *slog.Logger

	mu      sync.Mutex
	filters []string
	handler MessageHandler
}

// NewClient creates and connects a client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		stateTopic: cfg.StateTopic,
		logger:     logger.With("component", "mqtt"),
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "nspanel-bridge"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			c.logger.Info("MQTT connected", "broker", cfg.Broker)
			c.publishState("online")
			c.resubscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.logger.Warn("MQTT connection lost", "err", err)
		})
	if c.stateTopic != "" {
		opts.SetWill(c.stateTopic, "offline", 1, true)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

// Subscribe registers handler for filters. The subscription is renewed on
// every reconnect.
func (c *Client) Subscribe(filters []string, handler MessageHandler) error {
	c.mu.Lock()
	c.filters = append([]string(nil), filters...)
	c.handler = handler
	c.mu.Unlock()
	return c.subscribe(filters, handler)
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	filters, handler := c.filters, c.handler
	c.mu.Unlock()
	if handler == nil || c.client == nil {
		return
	}
	if err := c.subscribe(filters, handler); err != nil {
		c.logger.Error("resubscribe", "err", err)
	}
}

func (c *Client) subscribe(filters []string, handler MessageHandler) error {
	if len(filters) == 0 {
		return nil
	}
	set := make(map[string]byte, len(filters))
	for _, f := range filters {
		set[f] = 1
	}
	token := c.client.SubscribeMultiple(set, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload(), msg.Retained())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	c.logger.Debug("subscribed", "filters", len(filters))
	return nil
}

// Publish sends a message without waiting for the broker.
func (c *Client) Publish(topic string, payload []byte, retained bool) {
	token := c.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			c.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (c *Client) publishState(state string) {
	if c.stateTopic != "" {
		c.Publish(c.stateTopic, []byte(state), true)
	}
}

// Close publishes the offline state and disconnects.
func (c *Client) Close() {
	if c.stateTopic != "" {
		c.client.Publish(c.stateTopic, 1, true, []byte("offline")).WaitTimeout(2 * time.Second)
	}
	c.client.Disconnect(1000)
	c.logger.Info("MQTT disconnected")
}
