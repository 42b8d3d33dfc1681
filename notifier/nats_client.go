// Package notifier pushes domain events to the realtime layer over NATS
// JetStream. The realtime gateway subscribes and fans the events out to
// connected clients.
package notifier

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const (
	streamName    = "duel_events"
	subjectPrefix = "duel.events."
)

// NATSClient wraps the NATS connection with a JetStream context
type NATSClient struct {
	servers string
	nc      *nats.Conn
	js      nats.JetStreamContext
}

// NewNATSClient creates a new NATS client
func NewNATSClient(servers string) *NATSClient {
	return &NATSClient{servers: servers}
}

// Connect establishes the connection and ensures the event stream exists
func (c *NATSClient) Connect() error {
	opts := []nats.Option{
		nats.Name("solduel"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("NATS disconnected with error")
			} else {
				log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(c.servers, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.nc = nc
	c.js = js

	if err := c.ensureStream(); err != nil {
		nc.Close()
		return err
	}

	log.WithField("servers", c.servers).Info("Connected to NATS with JetStream")
	return nil
}

// ensureStream creates the event stream when it does not exist yet
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(streamName); err == nil {
		log.WithField("stream", streamName).Debug("JetStream stream already exists")
		return nil
	}

	cfg := &nats.StreamConfig{
		Name:        streamName,
		Subjects:    []string{subjectPrefix + ">"},
		Retention:   nats.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1_000_000,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Description: "Match economy domain events",
	}

	if _, err := c.js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", streamName, err)
	}

	log.WithField("stream", streamName).Info("Created JetStream stream")
	return nil
}

// Publish publishes a message to the given subject via JetStream
func (c *NATSClient) Publish(subject string, data []byte) error {
	if c.js == nil {
		return fmt.Errorf("not connected to NATS JetStream")
	}

	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}

	return nil
}

// Close gracefully shuts down the connection
func (c *NATSClient) Close() {
	if c.nc != nil {
		c.nc.Close()
		log.Info("NATS connection closed")
	}
}
