package local

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// Sink fans pipeline output out to in-process subscribers. Used by the
// replay command and by tests; live sessions use the nats sink.
// Subscribers that cannot keep up are skipped, never blocked on.
type Sink struct {
	name    string
	mutex   sync.Mutex
	recSubs []chan []model.Recommendation
	outSubs []chan model.ReviewOutcomeEvent
	numSnd  int64
	numSkip int64
	closed  bool
	logger  *log.Logger
}

type Option func(s *Sink)

func WithLogger(l *log.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

func NewSink(name string, opts ...Option) *Sink {
	ret := &Sink{
		name:   name,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

func (s *Sink) setupMetrics() {
	meter := otel.GetMeterProvider().Meter(fmt.Sprintf("f1coach.sink.%s", s.name))
	register := func(metricName, desc string, valueProvider func() int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(valueProvider(),
					metric.WithAttributes(attribute.String("name", s.name)))
				return nil
			})); err != nil {
			s.logger.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	register("f1coach.sink.snd", "Number of delivered messages", func() int64 {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		return s.numSnd
	})
	register("f1coach.sink.skip", "Number of skipped messages", func() int64 {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		return s.numSkip
	})
}

// SubscribeRecommendations returns a buffered channel of published
// recommendation batches.
func (s *Sink) SubscribeRecommendations() <-chan []model.Recommendation {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ch := make(chan []model.Recommendation, 8)
	s.recSubs = append(s.recSubs, ch)
	return ch
}

func (s *Sink) SubscribeOutcomes() <-chan model.ReviewOutcomeEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ch := make(chan model.ReviewOutcomeEvent, 8)
	s.outSubs = append(s.outSubs, ch)
	return ch
}

func (s *Sink) PublishRecommendations(
	_ context.Context, recs []model.Recommendation,
) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	for _, ch := range s.recSubs {
		select {
		case ch <- recs:
			s.numSnd++
		default:
			s.numSkip++
		}
	}
	return nil
}

func (s *Sink) PublishOutcome(_ context.Context, ev model.ReviewOutcomeEvent) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	for _, ch := range s.outSubs {
		select {
		case ch <- ev:
			s.numSnd++
		default:
			s.numSkip++
		}
	}
	return nil
}

func (s *Sink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, ch := range s.recSubs {
		close(ch)
	}
	for _, ch := range s.outSubs {
		close(ch)
	}
	s.logger.Info("closing local sink",
		log.String("name", s.name),
		log.Int64("snd", s.numSnd), log.Int64("skip", s.numSkip))
	return nil
}
