// Package observe provides the relay's OpenTelemetry metric instruments and
// the optional Prometheus scrape endpoint.
//
// Instruments are created against a [metric.MeterProvider]. Until
// [InitProvider] installs an SDK provider the global provider is a no-op,
// so recording is always safe. Tests should use [NewMetrics] with their
// own provider.
package observe

import (
	"context"
	"sync"

	"github.com/babelcloud/screenrelay/internal/media"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/babelcloud/screenrelay"

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	// Frames counts frames written to relay clients.
	Frames metric.Int64Counter

	// Bytes counts payload bytes written to relay clients, envelope included.
	Bytes metric.Int64Counter

	// FramingErrors counts video samples skipped for malformed NAL lengths.
	FramingErrors metric.Int64Counter

	// UpstreamErrors counts error results received from the device session.
	UpstreamErrors metric.Int64Counter

	// Connections counts accepted relay clients.
	Connections metric.Int64Counter

	// ActiveClients is 1 while a relay server is serving a client.
	ActiveClients metric.Int64UpDownCounter
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("relay.frames",
		metric.WithDescription("Frames written to relay clients."),
	); err != nil {
		return nil, err
	}
	if met.Bytes, err = m.Int64Counter("relay.bytes",
		metric.WithDescription("Bytes written to relay clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramingErrors, err = m.Int64Counter("relay.framing_errors",
		metric.WithDescription("Video samples dropped because of malformed NAL length prefixes."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamErrors, err = m.Int64Counter("relay.upstream_errors",
		metric.WithDescription("Errors reported by the device session through a media channel."),
	); err != nil {
		return nil, err
	}
	if met.Connections, err = m.Int64Counter("relay.connections",
		metric.WithDescription("Relay clients accepted."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("relay.active_clients",
		metric.WithDescription("Relay clients currently being served."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns instruments bound to the global meter provider.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// KindAttr returns the attribute set used on every relay instrument.
func KindAttr(kind media.MediaKind) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind.String()))
}

// RecordFrame records one frame of n bytes.
func (m *Metrics) RecordFrame(ctx context.Context, kind media.MediaKind, n int) {
	opt := KindAttr(kind)
	m.Frames.Add(ctx, 1, opt)
	m.Bytes.Add(ctx, int64(n), opt)
}
