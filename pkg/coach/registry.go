package coach

import (
	"context"
	"fmt"
	"sync"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// PipelineFactory builds a pipeline for a newly seen session.
type PipelineFactory func(driver, trackID string) (*Pipeline, error)

// Registry keeps one pipeline per active session. Sessions are fully
// independent; the repositories behind the pipelines are the only
// shared state.
type Registry struct {
	mutex     sync.Mutex
	pipelines map[string]*Pipeline
	factory   PipelineFactory
	logger    *log.Logger
}

func NewRegistry(factory PipelineFactory, logger *log.Logger) *Registry {
	return &Registry{
		pipelines: make(map[string]*Pipeline),
		factory:   factory,
		logger:    logger,
	}
}

func sessionKey(driver, trackID string) string {
	return driver + "@" + trackID
}

// Dispatch routes a frame to its session pipeline, creating it on
// first contact.
func (r *Registry) Dispatch(
	ctx context.Context, driver, trackID string, frame model.TelemetryFrame,
) error {
	p, err := r.lookup(driver, trackID)
	if err != nil {
		return err
	}
	p.OnFrame(ctx, frame)
	return nil
}

func (r *Registry) lookup(driver, trackID string) (*Pipeline, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	key := sessionKey(driver, trackID)
	if p, ok := r.pipelines[key]; ok {
		return p, nil
	}
	p, err := r.factory(driver, trackID)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline for %s: %w", key, err)
	}
	r.logger.Info("session started",
		log.String("driver", driver), log.String("track", trackID))
	r.pipelines[key] = p
	return p, nil
}

// EndSession closes and removes one session pipeline.
func (r *Registry) EndSession(ctx context.Context, driver, trackID string) error {
	r.mutex.Lock()
	key := sessionKey(driver, trackID)
	p, ok := r.pipelines[key]
	delete(r.pipelines, key)
	r.mutex.Unlock()
	if !ok {
		return nil
	}
	r.logger.Info("session ended",
		log.String("driver", driver), log.String("track", trackID))
	return p.Close(ctx)
}

// Close ends all active sessions.
func (r *Registry) Close(ctx context.Context) error {
	r.mutex.Lock()
	pipelines := r.pipelines
	r.pipelines = make(map[string]*Pipeline)
	r.mutex.Unlock()
	var firstErr error
	for _, p := range pipelines {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
