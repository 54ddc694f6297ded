package store

import (
	"context"
	"errors"
	"strings"
)

// RetentionPolicy decides which days a sweep deletes.
type RetentionPolicy struct {
	// MaxAgeDays is the age in days after which a day is deleted. Zero or
	// negative disables deletion.
	MaxAgeDays int

	// PinnedDays are exempt day keys or key prefixes ("2024-01" pins the
	// whole month), in addition to days pinned with Pin.
	PinnedDays []string
}

func (p RetentionPolicy) pins(day Day) bool {
	for _, pin := range p.PinnedDays {
		if pin = strings.TrimSpace(pin); pin != "" && strings.HasPrefix(string(day), pin) {
			return true
		}
	}
	return false
}

// CleanupReport summarizes one sweep.
type CleanupReport struct {
	Deleted []Day `json:"deleted"`
	Pinned  []Day `json:"pinned"`
	Kept    int   `json:"kept"`
}

// Cleanup deletes days older than policy.MaxAgeDays together with their
// turns' audio. The current day and pinned days are never deleted. Running
// it again with nothing aged does nothing.
func (s *ConversationStore) Cleanup(ctx context.Context, policy RetentionPolicy) (CleanupReport, error) {
	var report CleanupReport
	if policy.MaxAgeDays <= 0 {
		return report, nil
	}
	days, err := s.ListDays(ctx)
	if err != nil {
		return report, err
	}
	markers, err := s.PinnedDays(ctx)
	if err != nil {
		return report, err
	}
	pinned := make(map[Day]bool, len(markers))
	for _, d := range markers {
		pinned[d] = true
	}

	today := s.Today()
	_, todayT, err := ParseDay(string(today), s.zone)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		dayT, err := s.checkDay(day)
		if err != nil {
			s.logger.Warn("skipping unparsable day", "day", day)
			continue
		}
		if day == today || !dayT.AddDate(0, 0, policy.MaxAgeDays).Before(todayT) {
			report.Kept++
			continue
		}
		if pinned[day] || policy.pins(day) {
			report.Pinned = append(report.Pinned, day)
			continue
		}
		if err := s.deleteDay(ctx, day); err != nil {
			s.logger.Error("retention delete failed", "day", day, "error", err)
			errs = append(errs, err)
			continue
		}
		report.Deleted = append(report.Deleted, day)
	}
	if len(report.Deleted) > 0 {
		s.logger.Info("retention sweep finished", "deleted", len(report.Deleted), "pinned", len(report.Pinned), "kept", report.Kept)
	}
	return report, errors.Join(errs...)
}

func (s *ConversationStore) deleteDay(ctx context.Context, day Day) error {
	unlock := s.locks.Lock(string(day))
	defer unlock()

	keys, err := s.backend.List(ctx, dayPrefix(day))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if t, err := s.readTurn(ctx, key); err == nil && t.Audio != nil && ownsAudio(t) {
			if err := s.backend.Delete(ctx, t.Audio.Key); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// ownsAudio reports whether the turn's audio key is its own artifact rather
// than a shared fixed path that later turns overwrite.
func ownsAudio(t Turn) bool {
	return strings.Contains(t.Audio.Key, t.ID)
}
