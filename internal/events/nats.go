package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used by the forwarder.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes bus events as JSON on "<prefix>.<kind>".
type NATSForwarder struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSForwarder returns a forwarder. logger may be nil.
func NewNATSForwarder(pub Publisher, prefix string, logger *zap.Logger) *NATSForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSForwarder{pub: pub, prefix: prefix, logger: logger}
}

// ConnectNATS dials the server at url with reconnects enabled.
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nats.Connect(url,
		nats.Name("storyhook"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
}

// Subject returns the subject an event of kind is published on.
func (f *NATSForwarder) Subject(kind Kind) string {
	if f.prefix == "" {
		return string(kind)
	}
	return f.prefix + "." + string(kind)
}

// Handle is a bus Handler. Publish failures are logged; they never reach the importer.
func (f *NATSForwarder) Handle(_ context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		f.logger.Warn("nats: marshal event failed", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}
	if err := f.pub.Publish(f.Subject(e.Kind), data); err != nil {
		f.logger.Warn("nats: publish failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}
