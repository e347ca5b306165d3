// Package stats computes live focus statistics for a session
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
	"classpulse/pkg/types"
)

// Focus distribution thresholds
const (
	HighFocusThreshold   = 0.8
	MediumFocusThreshold = 0.6
)

// DefaultRecentWindow is how far back a focus reading still counts as live
const DefaultRecentWindow = 2 * time.Minute

// Aggregator implements interfaces.StatsAggregator on top of the store
// FUNCTIONAL DISCOVERY: Statistics are recomputed on every request; nothing is cached,
// so a broadcast always reflects the latest upserts
type Aggregator struct {
	store  interfaces.Store
	window time.Duration
	now    func() time.Time
	log    logger.Logger
}

var _ interfaces.StatsAggregator = (*Aggregator)(nil)

// NewAggregator creates an aggregator; a non-positive window falls back to DefaultRecentWindow
func NewAggregator(store interfaces.Store, window time.Duration, log logger.Logger) *Aggregator {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	return &Aggregator{store: store, window: window, now: time.Now, log: log}
}

// SetClock replaces time.Now
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// ComputeStats aggregates the session's recent attended performance records
func (a *Aggregator) ComputeStats(ctx context.Context, sessionID int64) (*types.Stats, error) {
	started := time.Now()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}

	total, err := a.store.CountEnrolledStudents(ctx, session.ClassroomID)
	if err != nil {
		return nil, fmt.Errorf("count enrolled students: %w", err)
	}

	now := a.now()
	records, err := a.store.RecentPerformances(ctx, sessionID, now.Add(-a.window))
	if err != nil {
		return nil, fmt.Errorf("load recent performances: %w", err)
	}

	stats := Summarize(records)
	stats.TotalParticipants = total
	stats.SessionDuration = session.Elapsed(now).Seconds()

	metrics.RecordStatsLatency(float64(time.Since(started).Microseconds()) / 1000)
	a.log.Debug(ctx, "Session stats computed",
		logger.Int64("session_id", sessionID),
		logger.Int("active", stats.ActiveParticipants),
		logger.Float64("average", stats.AverageFocusScore))

	return stats, nil
}

// Summarize folds performance records into active count, rounded average and distribution
// Records of students not currently attending are ignored
func Summarize(records []*types.PerformanceRecord) *types.Stats {
	stats := &types.Stats{}
	active := make(map[int64]struct{})
	sum := 0.0
	count := 0

	for _, record := range records {
		if !record.Attended {
			continue
		}
		active[record.StudentID] = struct{}{}
		score := types.ClampFocusScore(record.FocusScore)
		sum += score
		count++

		switch {
		case score >= HighFocusThreshold:
			stats.FocusDistribution.High++
		case score >= MediumFocusThreshold:
			stats.FocusDistribution.Medium++
		default:
			stats.FocusDistribution.Low++
		}
	}

	stats.ActiveParticipants = len(active)
	if count > 0 {
		stats.AverageFocusScore = roundTo(sum/float64(count), 3)
	}
	return stats
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
