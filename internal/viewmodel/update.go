package viewmodel

import (
	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/report"
	"github.com/smileynet/vizcache/internal/settings"
)

// UpdateReport asks the report for new data. Only one update runs at a
// time, and an update that has not finished within the configured timeout
// is treated as a no-op; its late statuses are ignored.
func (s *Store) UpdateReport() {
	if s.updating || s.report == nil {
		return
	}
	s.updating = true
	s.updateSeq++
	seq := s.updateSeq
	s.cancelTimeout = s.sched.AfterFunc(s.cfg.UpdateTimeout, func() { s.updateTimedOut(seq) })
	s.logger.Debug("report update started", "report", s.report.ID())
	s.report.Update(func(status report.UpdateStatus, err error) {
		s.updateStatus(seq, status, err)
	})
}

// IsUpdating reports whether an update is running.
func (s *Store) IsUpdating() bool {
	return s.updating
}

func (s *Store) updateStatus(seq uint64, status report.UpdateStatus, err error) {
	if !s.updating || seq != s.updateSeq {
		s.logger.Debug("late update status ignored", "status", status)
		return
	}
	switch status {
	case report.StatusDownloadBegan:
		s.bus.Publish(events.New(events.ReportUpdating))
		return
	case report.StatusNoUpdate:
		s.finishUpdate()
		s.bus.Publish(events.New(events.ReportUpdated))
		return
	}
	if !status.Finished() {
		return
	}
	if err != nil {
		s.finishUpdate()
		s.logger.Warn("report update failed", "error", err)
		s.bus.Publish(events.New(events.ReportUpdated))
		return
	}
	s.reportUpdated(s.report)
}

func (s *Store) updateTimedOut(seq uint64) {
	if !s.updating || seq != s.updateSeq {
		return
	}
	s.cancelTimeout = nil
	s.updating = false
	s.logger.Warn("report update timed out", "timeout", s.cfg.UpdateTimeout)
	s.bus.Publish(events.New(events.ReportUpdated))
}

func (s *Store) finishUpdate() {
	if s.cancelTimeout != nil {
		s.cancelTimeout()
		s.cancelTimeout = nil
	}
	s.updating = false
}

// Migrate upgrades persisted state written by an older version and records
// current as the last run version. A store never stamped with a version
// has its cache cleared.
func (s *Store) Migrate(current settings.Version) error {
	last, err := s.settings.LastRunVersion()
	if err != nil {
		return err
	}
	if last.IsZero() {
		s.InvalidateAll()
	}
	if last.Compare(current) < 0 {
		moved, err := s.settings.MigrateUserCountries()
		if err != nil {
			return err
		}
		if moved {
			s.logger.Info("migrated user countries to locations", "from", last, "to", current)
		}
	}
	return s.settings.SetLastRunVersion(current)
}
