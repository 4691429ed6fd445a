package statereport

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/device"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/jsontime"
)

// DefaultScope prefixes topics when no scope is configured.
const DefaultScope = "xiaozhi"

// Topic returns the state topic of deviceID.
func Topic(scope, deviceID string) string {
	return scope + "/device/" + deviceID + "/state"
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithScope sets the topic prefix.
func WithScope(scope string) Option {
	return func(r *Reporter) {
		r.scope = scope
	}
}

// WithEncoding sets the payload format.
func WithEncoding(enc Encoding) Option {
	return func(r *Reporter) {
		r.encoding = enc
	}
}

// WithBuffer sets how many transitions may wait for publishing.
func WithBuffer(n int) Option {
	return func(r *Reporter) {
		r.bufSize = n
	}
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		r.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) {
		r.logger = l
	}
}

// Reporter forwards device transitions to a Publisher.
type Reporter struct {
	pub      Publisher
	deviceID string
	scope    string
	encoding Encoding
	bufSize  int
	timeout  time.Duration
	logger   *slog.Logger

	events  chan *Event
	seq     atomic.Uint64
	dropped atomic.Int64
}

// New creates a Reporter for deviceID.
func New(pub Publisher, deviceID string, opts ...Option) *Reporter {
	r := &Reporter{
		pub:      pub,
		deviceID: deviceID,
		scope:    DefaultScope,
		encoding: EncodingMsgpack,
		bufSize:  32,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.events = make(chan *Event, max(r.bufSize, 1))
	r.logger = r.logger.With("component", "statereport", "device", deviceID)
	return r
}

// Topic returns the topic this reporter publishes on.
func (r *Reporter) Topic() string {
	return Topic(r.scope, r.deviceID)
}

// Attach subscribes to events and returns the unsubscribe function.
func (r *Reporter) Attach(events *device.StateEvents) (detach func()) {
	return events.Subscribe(r.enqueue)
}

// Dropped returns the number of transitions lost to a full buffer.
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}

// enqueue runs on the device loop and never blocks it.
func (r *Reporter) enqueue(c device.StateChange) {
	ev := &Event{
		Device: r.deviceID,
		From:   c.Old.String(),
		To:     c.New.String(),
		Seq:    r.seq.Add(1),
		Time:   jsontime.NowEpochMilli(),
	}
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Warn("report buffer full, dropping transition", "from", ev.From, "to", ev.To)
	}
}

// Run publishes queued transitions until ctx is done. Publish failures are
// logged and the event is dropped.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			if err := r.Report(ctx, ev); err != nil {
				r.logger.Warn("publish state", "error", err, "to", ev.To)
			}
		}
	}
}

// Report encodes and publishes ev.
func (r *Reporter) Report(ctx context.Context, ev *Event) error {
	payload, err := r.encoding.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.pub.Publish(ctx, r.Topic(), payload)
}
