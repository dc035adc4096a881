package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bridgecore/eventrelay/internal/repositories"
	"go.uber.org/zap"
)

var ErrSweepInProgress = errors.New("maintenance sweep already running")

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	Archived           int64     `json:"archived"`
	Purged             int64     `json:"purged"`
	DeadLettersDropped int64     `json:"dead_letters_dropped"`
	StaleCursors       int64     `json:"stale_cursors"`
	StartedAt          time.Time `json:"started_at"`
	Duration           string    `json:"duration"`
}

// Sweeper runs periodic log maintenance: archive processed events past the
// archive horizon, then purge archived events past the longer purge
// horizon, then drop aged dead letters and consumer cursors that stopped
// syncing. Archiving always runs before purging within a pass so no event
// skips the archived stage.
type Sweeper struct {
	events      repositories.EventRepository
	cursors     repositories.CursorRepository
	deadLetters repositories.DeadLetterRepository
	logger      *zap.Logger

	archiveAfter        time.Duration
	purgeAfter          time.Duration
	deadLetterRetention time.Duration
	cursorRetention     time.Duration

	running atomic.Bool
}

func NewSweeper(
	events repositories.EventRepository,
	cursors repositories.CursorRepository,
	deadLetters repositories.DeadLetterRepository,
	archiveAfter, purgeAfter, deadLetterRetention, cursorRetention time.Duration,
	logger *zap.Logger,
) *Sweeper {
	if purgeAfter < archiveAfter {
		logger.Warn("purge horizon shorter than archive horizon, clamping",
			zap.Duration("archive_after", archiveAfter),
			zap.Duration("purge_after", purgeAfter))
		purgeAfter = archiveAfter
	}
	return &Sweeper{
		events:              events,
		cursors:             cursors,
		deadLetters:         deadLetters,
		logger:              logger,
		archiveAfter:        archiveAfter,
		purgeAfter:          purgeAfter,
		deadLetterRetention: deadLetterRetention,
		cursorRetention:     cursorRetention,
	}
}

// Run executes one sweep. Only one sweep runs at a time; an overlapping
// call returns ErrSweepInProgress rather than queueing.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	result := &SweepResult{StartedAt: time.Now().UTC()}
	now := time.Now().UTC()

	archived, err := s.events.Archive(ctx, now.Add(-s.archiveAfter))
	if err != nil {
		return nil, err
	}
	result.Archived = archived

	purged, err := s.events.Purge(ctx, now.Add(-s.purgeAfter))
	if err != nil {
		return nil, err
	}
	result.Purged = purged

	if s.deadLetterRetention > 0 {
		dropped, err := s.deadLetters.DeleteOlderThan(ctx, now.Add(-s.deadLetterRetention))
		if err != nil {
			return nil, err
		}
		result.DeadLettersDropped = dropped
	}

	if s.cursorRetention > 0 {
		stale, err := s.cursors.DeleteStale(ctx, now.Add(-s.cursorRetention))
		if err != nil {
			return nil, err
		}
		result.StaleCursors = stale
	}

	result.Duration = time.Since(result.StartedAt).String()
	s.logger.Info("maintenance sweep completed",
		zap.Int64("archived", result.Archived),
		zap.Int64("purged", result.Purged),
		zap.Int64("dead_letters_dropped", result.DeadLettersDropped),
		zap.Int64("stale_cursors", result.StaleCursors),
		zap.String("duration", result.Duration))
	return result, nil
}

// RunPeriodic sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				s.logger.Error("maintenance sweep failed", zap.Error(err))
			}
		}
	}
}
