package sink

import (
	"context"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// Sink delivers pipeline output to the outside: recommendations to the
// message templating component, review outcomes to KPI collection.
type Sink interface {
	PublishRecommendations(ctx context.Context, recs []model.Recommendation) error
	PublishOutcome(ctx context.Context, ev model.ReviewOutcomeEvent) error
	Close() error
}
