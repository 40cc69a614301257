package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// Sink publishes pipeline output as JSON on NATS subjects. The
// templating service and the KPI collector subscribe on their side.
type Sink struct {
	conn           *nats.Conn
	recSubject     string
	outcomeSubject string
	logger         *log.Logger
}

type Option func(s *Sink)

func WithRecommendationSubject(subject string) Option {
	return func(s *Sink) { s.recSubject = subject }
}

func WithOutcomeSubject(subject string) Option {
	return func(s *Sink) { s.outcomeSubject = subject }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

func NewSink(conn *nats.Conn, opts ...Option) *Sink {
	ret := &Sink{
		conn:           conn,
		recSubject:     "f1coach.recommendations",
		outcomeSubject: "f1coach.outcomes",
		logger:         log.Default().Named("sink.nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *Sink) PublishRecommendations(
	_ context.Context, recs []model.Recommendation,
) error {
	if len(recs) == 0 {
		return nil
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	// per-driver subject so templating can subscribe selectively
	subject := fmt.Sprintf("%s.%s", s.recSubject, recs[0].Driver)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing recommendations: %w", err)
	}
	return nil
}

func (s *Sink) PublishOutcome(_ context.Context, ev model.ReviewOutcomeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.outcomeSubject, data); err != nil {
		return fmt.Errorf("publishing outcome: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if err := s.conn.Flush(); err != nil {
		s.logger.Warn("flush on close", log.ErrorField(err))
	}
	return nil
}
