// Package mqtt wraps the paho client with the non-blocking connect shape the
// control loop needs: connects are started, then polled once per iteration,
// never waited on inline.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler receives inbound messages on a subscribed topic.
type MessageHandler = func(topic string, payload []byte)

// Config carries the broker endpoint and identity. No credentials: the
// trust boundary is the local network.
type Config struct {
	Broker   string
	ClientID string
}

const (
	connectTimeout = 10 * time.Second
	keepAlive      = 30 * time.Second
	// Bounds every send and connect poll so one loop iteration stays short.
	opWait = 250 * time.Millisecond
)

// Client is a thin session client over paho. Reconnection policy lives in
// the connectivity manager, so paho's auto-reconnect stays off.
type Client struct {
	cli     paho.Client
	pending paho.Token
}

func New(cfg Config) *Client {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	return &Client{cli: paho.NewClient(opts)}
}

// BeginConnect starts a connect attempt without waiting for it. No-op if an
// attempt is already pending or the session is up.
func (c *Client) BeginConnect() {
	if c.pending != nil || c.cli.IsConnected() {
		return
	}
	c.pending = c.cli.Connect()
}

// ConnectResult polls the pending attempt. done is false while the attempt
// is still in flight; once done, err reports the outcome and the attempt is
// cleared.
func (c *Client) ConnectResult() (done bool, err error) {
	if c.pending == nil {
		return false, nil
	}
	if !c.pending.WaitTimeout(time.Millisecond) {
		return false, nil
	}
	err = c.pending.Error()
	c.pending = nil
	return true, err
}

// IsConnected reports whether the session is currently up.
func (c *Client) IsConnected() bool {
	return c.cli.IsConnectionOpen()
}

// Publish sends one message at QoS 0, waiting at most opWait for the local
// handoff. Delivery is fire-and-forget; the caller's schedule is the retry.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.cli.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(opWait) {
		return fmt.Errorf("publish to %s: timed out after %v", topic, opWait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for the topic at QoS 0.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	token := c.cli.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(opWait) {
		return fmt.Errorf("subscribe to %s: timed out after %v", topic, opWait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

// Disconnect drops the session, abandoning any pending connect attempt.
func (c *Client) Disconnect() {
	c.pending = nil
	c.cli.Disconnect(250)
}
