package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/model"
)

// NATSForwarder is a bus subscriber that mirrors every published event to
// a JetStream subject. It is one example of the external audit-mirror
// consumers the bus serves; forwarding failures are suppressed by the bus
// like any other handler failure.
type NATSForwarder struct {
	nc            *nats.Conn
	js            jetstream.JetStream
	subjectPrefix string
	logger        *zap.Logger
}

// NewNATSForwarder connects to NATS, ensures the stream exists, and
// returns a forwarder ready to be subscribed with SubscribeAll.
func NewNATSForwarder(ctx context.Context, url, stream, subjectPrefix string, logger *zap.Logger) (*NATSForwarder, error) {
	nc, err := nats.Connect(
		url,
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(5),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{subjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}

	return &NATSForwarder{
		nc:            nc,
		js:            js,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}, nil
}

// Handle publishes the event to "<prefix>.<event_type>". Satisfies the
// bus Handler signature.
func (f *NATSForwarder) Handle(ctx context.Context, evt model.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.EventID, err)
	}

	subject := f.subjectPrefix + "." + evt.EventType
	if _, err := f.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains the NATS connection.
func (f *NATSForwarder) Close() {
	if err := f.nc.Drain(); err != nil {
		f.logger.Warn("NATS drain failed", zap.Error(err))
	}
}
