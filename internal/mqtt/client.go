package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/garage-door/internal/logger"
)

// ClientConfig configures the broker connection.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	Will          Message
	Birth         []Message
	Subscriptions []string

	// BufferSize bounds the messages held while disconnected.
	BufferSize int
	// InboundSize bounds the queue between paho and the control loop.
	InboundSize int

	// OnPublishError, if set, is called from a helper goroutine when a
	// publish fails or times out.
	OnPublishError func(topic string, err error)
}

func (c *ClientConfig) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = "garage-door-" + uuid.NewString()[:8]
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.InboundSize <= 0 {
		c.InboundSize = 32
	}
}

// RealClient is a paho backed Publisher that also delivers inbound
// messages on a channel.
type RealClient struct {
	cfg     ClientConfig
	client  paho.Client
	log     logger.Logger
	inbound chan Message

	outbox *outbox
}

// NewRealClient connects to the broker. The last will, birth messages and
// subscriptions are (re)applied on every connect. A connection that cannot
// be established within ConnectTimeout is an error.
func NewRealClient(cfg ClientConfig, log logger.Logger) (*RealClient, error) {
	cfg.setDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	c := &RealClient{
		cfg:     cfg,
		log:     log,
		inbound: make(chan Message, cfg.InboundSize),
		outbox:  newOutbox(cfg.BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnf("mqtt: connection lost: %v", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.Will.Topic != "" {
		opts.WillEnabled = true
		opts.WillTopic = cfg.Will.Topic
		opts.WillPayload = cfg.Will.Payload
		opts.WillQos = cfg.Will.QoS
		opts.WillRetained = cfg.Will.Retained
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timeout after %v", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return c, nil
}

// onConnect runs on a paho goroutine after every (re)connect.
func (c *RealClient) onConnect(client paho.Client) {
	c.log.Infof("mqtt: connected to %s as %s", c.cfg.Broker, c.cfg.ClientID)

	for _, topic := range c.cfg.Subscriptions {
		token := client.Subscribe(topic, 1, c.onMessage)
		go c.await(token, "subscribe "+topic)
	}
	for _, msg := range c.cfg.Birth {
		c.send(msg)
	}

	pending := c.outbox.release()
	if len(pending) > 0 {
		c.log.Infof("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, msg := range pending {
		c.send(msg)
	}
}

// onMessage hands an inbound message to the control loop. paho must not be
// blocked, so a full queue drops the message.
func (c *RealClient) onMessage(_ paho.Client, m paho.Message) {
	msg := Message{
		Topic:    m.Topic(),
		Payload:  append([]byte(nil), m.Payload()...),
		QoS:      m.Qos(),
		Retained: m.Retained(),
	}
	select {
	case c.inbound <- msg:
	default:
		c.log.Warnf("mqtt: inbound queue full, dropping message on %s", msg.Topic)
	}
}

// Messages returns the inbound message channel.
func (c *RealClient) Messages() <-chan Message {
	return c.inbound
}

// Publish sends msg without waiting for the broker. While disconnected the
// message is buffered and replayed on reconnect.
func (c *RealClient) Publish(msg Message) error {
	if !c.client.IsConnectionOpen() {
		replay, dropped := c.outbox.hold(msg, c.client.IsConnectionOpen)
		if dropped {
			c.log.Warnf("mqtt: buffer full (%d messages), dropping oldest", c.cfg.BufferSize)
		}
		for _, m := range replay {
			c.send(m)
		}
		return nil
	}
	c.send(msg)
	return nil
}

func (c *RealClient) send(msg Message) {
	token := c.client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	go c.await(token, msg.Topic)
}

func (c *RealClient) await(token paho.Token, what string) {
	var err error
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		err = errors.New("timed out")
	} else {
		err = token.Error()
	}
	if err == nil {
		return
	}
	c.log.Warnf("mqtt: %s: %v", what, err)
	if c.cfg.OnPublishError != nil {
		c.cfg.OnPublishError(what, err)
	}
}

// IsConnected reports whether the connection to the broker is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a reconnect.
func (c *RealClient) Buffered() int {
	return c.outbox.len()
}

// Close disconnects, allowing in-flight publishes up to one second.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
