package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/metrics"
	"github.com/petervdpas/goopforum/internal/proto"
)

const DefaultPublishTimeout = 2 * time.Second

// Publisher stamps outgoing events with this instance's origin and sends
// them on the transport.
type Publisher struct {
	t       Transport
	origin  string
	timeout time.Duration
	log     zerolog.Logger
}

func NewPublisher(t Transport, origin string, timeout time.Duration, log zerolog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Publisher{
		t:       t,
		origin:  origin,
		timeout: timeout,
		log:     log.With().Str("component", "publisher").Logger(),
	}
}

// Origin returns the instance id stamped on every envelope.
func (p *Publisher) Origin() string { return p.origin }

// Publish sends one envelope. It is called after the local commit; a
// failure is logged and returned wrapped in ErrChannelUnavailable, and the
// caller keeps its local state.
func (p *Publisher) Publish(ctx context.Context, kind string, payload any) error {
	raw, err := proto.Encode(kind, p.origin, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.t.Publish(ctx, raw)
	metrics.BusPublishLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BusPublished.WithLabelValues(kind, "error").Inc()
		p.log.Warn().Err(err).Str("kind", kind).Msg("publish failed")
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	metrics.BusPublished.WithLabelValues(kind, "ok").Inc()
	p.log.Debug().Str("kind", kind).Int("bytes", len(raw)).Msg("published")
	return nil
}
