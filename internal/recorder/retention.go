package recorder

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionSweeper periodically purges recordings older than MaxAge
// from a directory tree, scheduled via a cron expression. Grounded on
// the retention-eligibility logic in the example VMS's
// internal/audit/retention.go (CanPurge/EnsureSafePurgeDate), adapted
// from a fixed compliance floor to a configurable max age.
type RetentionSweeper struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
}

// NewRetentionSweeper schedules a sweep of dir on the given cron
// expression (e.g. "0 * * * *" for hourly), removing any file whose
// modification time is older than maxAge.
func NewRetentionSweeper(dir string, maxAge time.Duration, schedule string) (*RetentionSweeper, error) {
	s := &RetentionSweeper{dir: dir, maxAge: maxAge, cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduled sweeps.
func (s *RetentionSweeper) Start() { s.cron.Start() }

// Stop waits for any in-progress sweep to finish and stops scheduling
// further ones.
func (s *RetentionSweeper) Stop() { <-s.cron.Stop().Done() }

// eligibleForPurge reports whether a recording with modification time
// modTime is old enough to remove, evaluated against now.
func (s *RetentionSweeper) eligibleForPurge(modTime, now time.Time) bool {
	return modTime.Before(now.Add(-s.maxAge))
}

func (s *RetentionSweeper) sweep() {
	now := time.Now()
	removed := 0

	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if s.eligibleForPurge(info.ModTime(), now) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[Recorder] retention sweep of %s failed: %v", s.dir, err)
		return
	}
	if removed > 0 {
		log.Printf("[Recorder] retention sweep removed %d expired recording(s) from %s", removed, s.dir)
	}
}
