package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository"
)

// Repos persists learning state (reference baselines, bandit arms,
// open reviews) across sessions in a sqlite database. Not used on the
// hot path; the pipeline reads through the in-memory repos and queues
// writes here asynchronously.
type Repos struct {
	db *sql.DB
}

func Open(path string) (*Repos, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer avoids SQLITE_BUSY on queued writes
	db.SetMaxOpenConns(1)
	return &Repos{db: db}, nil
}

func (r *Repos) Close() error { return r.db.Close() }

func (r *Repos) Reference() repository.ReferenceStatsRepository { return &statsRepo{db: r.db} }
func (r *Repos) Bandit() repository.BanditStateRepository       { return &armRepo{db: r.db} }
func (r *Repos) Reviews() repository.PendingReviewRepository    { return &reviewRepo{db: r.db} }

type statsRepo struct {
	db *sql.DB
}

func (s *statsRepo) Get(
	ctx context.Context, key model.StatsKey,
) (*model.ReferenceStats, error) {
	row := s.db.QueryRowContext(ctx, `
		select laps, lines, metrics from reference_stats
		where driver=? and track_id=? and filter_key=? and corner_id=?`,
		key.Driver, key.TrackID, key.Filter.String(), key.CornerID)
	var item model.ReferenceStats
	var metrics []byte
	if err := row.Scan(&item.Laps, &item.Lines, &metrics); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNoRows
		}
		return nil, err
	}
	if err := json.Unmarshal(metrics, &item.Metrics); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *statsRepo) Put(
	ctx context.Context, key model.StatsKey, stats *model.ReferenceStats,
) error {
	metrics, err := json.Marshal(stats.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into reference_stats (driver, track_id, filter_key, corner_id, laps, lines, metrics)
		values (?,?,?,?,?,?,?)
		on conflict (driver, track_id, filter_key, corner_id)
		do update set laps=excluded.laps, lines=excluded.lines, metrics=excluded.metrics`,
		key.Driver, key.TrackID, key.Filter.String(), key.CornerID,
		stats.Laps, stats.Lines, metrics)
	return err
}

type armRepo struct {
	db *sql.DB
}

const armSelector = `select driver, track_id, corner_id, action,
	successes, failures, last_coached_lap, last_outcome from bandit_arm`

func scanArm(row interface{ Scan(...any) error }) (*model.BanditArm, error) {
	var item model.BanditArm
	err := row.Scan(&item.Driver, &item.TrackID, &item.CornerID, &item.Action,
		&item.Successes, &item.Failures, &item.LastCoachedLap, &item.LastOutcome)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *armRepo) Get(ctx context.Context, key model.ArmKey) (*model.BanditArm, error) {
	row := a.db.QueryRowContext(ctx,
		armSelector+` where driver=? and track_id=? and corner_id=? and action=?`,
		key.Driver, key.TrackID, key.CornerID, int(key.Action))
	item, err := scanArm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNoRows
	}
	return item, err
}

func (a *armRepo) Put(ctx context.Context, arm *model.BanditArm) error {
	_, err := a.db.ExecContext(ctx, `
		insert into bandit_arm (driver, track_id, corner_id, action,
			successes, failures, last_coached_lap, last_outcome)
		values (?,?,?,?,?,?,?,?)
		on conflict (driver, track_id, corner_id, action)
		do update set successes=excluded.successes, failures=excluded.failures,
			last_coached_lap=excluded.last_coached_lap, last_outcome=excluded.last_outcome`,
		arm.Driver, arm.TrackID, arm.CornerID, int(arm.Action),
		arm.Successes, arm.Failures, arm.LastCoachedLap, int(arm.LastOutcome))
	return err
}

func (a *armRepo) LoadCorner(
	ctx context.Context, driver, trackID string, cornerID int,
) ([]*model.BanditArm, error) {
	rows, err := a.db.QueryContext(ctx,
		armSelector+` where driver=? and track_id=? and corner_id=?`,
		driver, trackID, cornerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]*model.BanditArm, 0, 5)
	for rows.Next() {
		item, err := scanArm(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, rows.Err()
}

type reviewRepo struct {
	db *sql.DB
}

func (p *reviewRepo) Put(ctx context.Context, review *model.PendingReview) error {
	_, err := p.db.ExecContext(ctx, `
		insert into pending_review (tip_id, driver, track_id, corner_id, action,
			intensity, issued_lap, laps_remaining, baseline_metric, baseline_noise,
			baseline_apex_speed, baseline_exit_speed, baseline_corner_ms)
		values (?,?,?,?,?,?,?,?,?,?,?,?,?)
		on conflict (tip_id) do update set laps_remaining=excluded.laps_remaining`,
		review.TipID, review.Driver, review.TrackID, review.CornerID,
		int(review.Action), int(review.Intensity), review.IssuedLap,
		review.LapsRemaining, review.BaselineMetric, review.BaselineNoise,
		review.BaselineApexSpeed, review.BaselineExitSpeed, review.BaselineCornerMs)
	return err
}

func (p *reviewRepo) Delete(ctx context.Context, tipID string) error {
	_, err := p.db.ExecContext(ctx,
		`delete from pending_review where tip_id=?`, tipID)
	return err
}

func (p *reviewRepo) LoadOpen(
	ctx context.Context, driver, trackID string,
) ([]*model.PendingReview, error) {
	rows, err := p.db.QueryContext(ctx, `
		select tip_id, driver, track_id, corner_id, action, intensity, issued_lap,
			laps_remaining, baseline_metric, baseline_noise, baseline_apex_speed,
			baseline_exit_speed, baseline_corner_ms
		from pending_review where driver=? and track_id=?`,
		driver, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]*model.PendingReview, 0, 3)
	for rows.Next() {
		var item model.PendingReview
		if err := rows.Scan(&item.TipID, &item.Driver, &item.TrackID,
			&item.CornerID, &item.Action, &item.Intensity, &item.IssuedLap,
			&item.LapsRemaining, &item.BaselineMetric, &item.BaselineNoise,
			&item.BaselineApexSpeed, &item.BaselineExitSpeed,
			&item.BaselineCornerMs); err != nil {
			return nil, err
		}
		ret = append(ret, &item)
	}
	return ret, rows.Err()
}
