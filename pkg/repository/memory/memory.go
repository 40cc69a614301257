package memory

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository"
)

const shardCount = 16

// Repos is the in-memory repository set used on the hot path. Access is
// partitioned by driver so concurrent sessions never contend on the
// same lock. No cross-partition transactions exist or are needed.
type Repos struct {
	stats   [shardCount]statsShard
	arms    [shardCount]armShard
	reviews [shardCount]reviewShard
}

type statsShard struct {
	mu    sync.RWMutex
	items map[model.StatsKey]*model.ReferenceStats
}

type armShard struct {
	mu    sync.RWMutex
	items map[model.ArmKey]*model.BanditArm
}

type reviewShard struct {
	mu    sync.RWMutex
	items map[string]*model.PendingReview
}

func New() *Repos {
	r := &Repos{}
	for i := 0; i < shardCount; i++ {
		r.stats[i].items = make(map[model.StatsKey]*model.ReferenceStats)
		r.arms[i].items = make(map[model.ArmKey]*model.BanditArm)
		r.reviews[i].items = make(map[string]*model.PendingReview)
	}
	return r
}

func (r *Repos) Reference() repository.ReferenceStatsRepository { return (*statsRepo)(r) }
func (r *Repos) Bandit() repository.BanditStateRepository       { return (*armRepo)(r) }
func (r *Repos) Reviews() repository.PendingReviewRepository    { return (*reviewRepo)(r) }

func shard(driver string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(driver))
	return int(h.Sum32() % shardCount)
}

type statsRepo Repos

func (r *statsRepo) Get(
	_ context.Context, key model.StatsKey,
) (*model.ReferenceStats, error) {
	s := &r.stats[shard(key.Driver)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[key]; ok {
		cp := *item
		return &cp, nil
	}
	return nil, repository.ErrNoRows
}

func (r *statsRepo) Put(
	_ context.Context, key model.StatsKey, stats *model.ReferenceStats,
) error {
	s := &r.stats[shard(key.Driver)]
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stats
	s.items[key] = &cp
	return nil
}

type armRepo Repos

func (r *armRepo) Get(_ context.Context, key model.ArmKey) (*model.BanditArm, error) {
	s := &r.arms[shard(key.Driver)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[key]; ok {
		cp := *item
		return &cp, nil
	}
	return nil, repository.ErrNoRows
}

func (r *armRepo) Put(_ context.Context, arm *model.BanditArm) error {
	key := model.ArmKey{
		Driver: arm.Driver, TrackID: arm.TrackID,
		CornerID: arm.CornerID, Action: arm.Action,
	}
	s := &r.arms[shard(key.Driver)]
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *arm
	s.items[key] = &cp
	return nil
}

func (r *armRepo) LoadCorner(
	_ context.Context, driver, trackID string, cornerID int,
) ([]*model.BanditArm, error) {
	s := &r.arms[shard(driver)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*model.BanditArm, 0, 5)
	for key, item := range s.items {
		if key.Driver == driver && key.TrackID == trackID && key.CornerID == cornerID {
			cp := *item
			ret = append(ret, &cp)
		}
	}
	return ret, nil
}

type reviewRepo Repos

func (r *reviewRepo) Put(_ context.Context, review *model.PendingReview) error {
	s := &r.reviews[shard(review.Driver)]
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *review
	s.items[review.TipID] = &cp
	return nil
}

func (r *reviewRepo) Delete(_ context.Context, tipID string) error {
	for i := range r.reviews {
		s := &r.reviews[i]
		s.mu.Lock()
		delete(s.items, tipID)
		s.mu.Unlock()
	}
	return nil
}

func (r *reviewRepo) LoadOpen(
	_ context.Context, driver, trackID string,
) ([]*model.PendingReview, error) {
	s := &r.reviews[shard(driver)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*model.PendingReview, 0, 3)
	for _, item := range s.items {
		if item.Driver == driver && item.TrackID == trackID {
			cp := *item
			ret = append(ret, &cp)
		}
	}
	return ret, nil
}
