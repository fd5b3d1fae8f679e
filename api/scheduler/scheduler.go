package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/databases"
)

// JobTimeout bounds one reconciliation run
const JobTimeout = 5 * time.Minute

// Reconciler rebuilds the geo index of one agency from the call store
type Reconciler interface {
	Reconcile(ctx context.Context, agencyID string) (int, error)
}

// Scheduler runs the periodic maintenance jobs of this instance. The geo index
// lives in memory, so every instance repairs its own and no lock is shared.
type Scheduler struct {
	cron       *cron.Cron
	schedule   string
	CallDB     databases.CallDatabase
	Dispatch   Reconciler
	instanceID string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(schedule string, callDB databases.CallDatabase, dispatch Reconciler) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		schedule:   schedule,
		CallDB:     callDB,
		Dispatch:   dispatch,
		instanceID: instanceID,
	}
}

// Start registers the jobs and begins the scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.reconcileGeo); err != nil {
		return fmt.Errorf("failed to register geo reconcile job %q: %w", s.schedule, err)
	}
	s.cron.Start()
	zap.S().Infow("Dispatch scheduler started", "schedule", s.schedule, "instance", s.instanceID)
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Dispatch scheduler stopped")
}

func (s *Scheduler) reconcileGeo() {
	ctx, cancel := context.WithTimeout(context.Background(), JobTimeout)
	defer cancel()
	if _, err := s.ReconcileAll(ctx); err != nil {
		zap.S().Errorw("geo reconcile job failed", "error", err, "instance", s.instanceID)
	}
}

// ReconcileAll rebuilds the geo index of every agency that has calls and
// returns the number of active calls indexed. An agency that fails is logged
// and skipped.
func (s *Scheduler) ReconcileAll(ctx context.Context) (int, error) {
	start := time.Now()
	agencies, err := s.CallDB.Agencies(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list agencies: %w", err)
	}

	var indexed, failed int
	for _, agencyID := range agencies {
		n, err := s.Dispatch.Reconcile(ctx, agencyID)
		if err != nil {
			failed++
			zap.S().Errorw("failed to reconcile geo index", "error", err, "agency", agencyID)
			continue
		}
		indexed += n
	}

	zap.S().Infow("Geo reconcile complete",
		"agencies", len(agencies),
		"failed", failed,
		"indexed", indexed,
		"duration", time.Since(start),
		"instance", s.instanceID,
	)
	return indexed, nil
}

// cronLogger routes cron's own logging through zap
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.S().Errorw(msg, append(keysAndValues, "error", err)...)
}
