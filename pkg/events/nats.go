package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/castlehub/pkg/log"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the part of *nats.Conn the forwarder needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS opens a connection that keeps reconnecting forever
func ConnectNATS(url string) (*nats.Conn, error) {
	logger := log.WithComponent("nats")
	opts := []nats.Option{
		nats.Name("castlehub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSForwarder republishes broker events as JSON on <subject>.<hostname>
type NATSForwarder struct {
	broker  *Broker
	conn    Publisher
	subject string
	logger  zerolog.Logger

	sub  Subscriber
	wg   sync.WaitGroup
	once sync.Once
}

// NewNATSForwarder creates a forwarder. Call Start to begin forwarding.
func NewNATSForwarder(broker *Broker, conn Publisher, subject string) *NATSForwarder {
	return &NATSForwarder{
		broker:  broker,
		conn:    conn,
		subject: subject,
		logger:  log.WithComponent("nats-forwarder"),
	}
}

// Subject returns the subject an event is published on
func (f *NATSForwarder) Subject(event *Event) string {
	return f.subject + "." + event.Hostname
}

// Start subscribes to the broker and forwards in the background
func (f *NATSForwarder) Start() {
	f.sub = f.broker.Subscribe()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for event := range f.sub {
			f.forward(event)
		}
	}()
}

// Stop unsubscribes and waits for the forwarding loop to exit
func (f *NATSForwarder) Stop() {
	f.once.Do(func() {
		if f.sub != nil {
			f.broker.Unsubscribe(f.sub)
		}
		f.wg.Wait()
	})
}

func (f *NATSForwarder) forward(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to encode event")
		return
	}
	if err := f.conn.Publish(f.Subject(event), data); err != nil {
		f.logger.Warn().Err(err).
			Str("hostname", event.Hostname).
			Str("type", string(event.Type)).
			Msg("Failed to publish event")
	}
}
