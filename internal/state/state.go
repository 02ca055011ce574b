// Package state records the newest commit seen by each pipeline.
package state

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/objectstore"
)

// MaxAttempts bounds how many times Advance re-reads after losing a write race
const MaxAttempts = 3

// Key returns the object key holding the state of pipeline
func Key(pipeline string) string {
	return pipeline + "/state.json"
}

// Snapshot is the state of a pipeline as of a single read
type Snapshot struct {
	Info   models.StateInfo
	ETag   string // empty when no state has been recorded
	Exists bool
}

// Store persists pipeline state in a single bucket
type Store struct {
	objects *objectstore.Store
	bucket  string
}

func New(objects *objectstore.Store, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, errors.ErrStateBucketRequired
	}
	return &Store{
		objects: objects,
		bucket:  bucket,
	}, nil
}

// Bucket returns the bucket state is stored in
func (s *Store) Bucket() string {
	return s.bucket
}

// Load reads the state of pipeline. A pipeline with no history yields the zero
// timestamp.
func (s *Store) Load(ctx context.Context, pipeline string) (Snapshot, error) {
	var info models.StateInfo
	etag, err := s.objects.GetJSON(ctx, s.bucket, Key(pipeline), &info)
	if err != nil {
		if stderrors.Is(err, errors.ErrObjectNotFound) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("failed to load state for pipeline %s: %w", pipeline, err)
	}

	return Snapshot{
		Info:   info,
		ETag:   etag,
		Exists: true,
	}, nil
}

// Save writes info provided the stored state still matches prev. A concurrent
// write yields errors.ErrPreconditionFailed.
func (s *Store) Save(ctx context.Context, pipeline string, info models.StateInfo, prev Snapshot) error {
	option := objectstore.IfNoneMatch()
	if prev.Exists {
		option = objectstore.IfMatch(prev.ETag)
	}
	return s.objects.PutJSON(ctx, s.bucket, Key(pipeline), info, option)
}

// Reset overwrites the state of pipeline unconditionally
func (s *Store) Reset(ctx context.Context, pipeline string, info models.StateInfo) error {
	return s.objects.PutJSON(ctx, s.bucket, Key(pipeline), info)
}

// Advance reports whether commitTime is older than the last commit recorded for
// pipeline. When it is not, the state is moved forward to commitTime.
//
// Concurrent triggers for the same pipeline race on the same object. Writes are
// conditional on the ETag that was read, so the loser re-reads and decides
// again against the winner's timestamp.
func (s *Store) Advance(ctx context.Context, pipeline string, commitTime time.Time) (superseded bool, err error) {
	logger := zerolog.Ctx(ctx).With().
		Str("pipeline", pipeline).
		Time("commit_time", commitTime).
		Logger()

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		snapshot, err := s.Load(ctx, pipeline)
		if err != nil {
			return false, err
		}

		last := snapshot.Info.LastCommitTimestamp
		if commitTime.Before(last) {
			logger.Info().
				Time("last_commit_time", last).
				Msg("Trigger superseded by a newer commit")
			return true, nil
		}
		if snapshot.Exists && commitTime.Equal(last) {
			return false, nil
		}

		err = s.Save(ctx, pipeline, models.StateInfo{LastCommitTimestamp: commitTime}, snapshot)
		if err == nil {
			logger.Info().
				Time("last_commit_time", last).
				Msg("Advanced pipeline state")
			return false, nil
		}
		if !stderrors.Is(err, errors.ErrPreconditionFailed) {
			return false, fmt.Errorf("failed to save state for pipeline %s: %w", pipeline, err)
		}

		logger.Warn().
			Int("attempt", attempt).
			Msg("Pipeline state changed concurrently, re-reading")
	}

	return false, fmt.Errorf("%w: %s", errors.ErrStateConflict, pipeline)
}
