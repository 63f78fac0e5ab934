package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	dbmodel "bridgeconnector/internal/db"
	"bridgeconnector/internal/dispatch"
)

const DefaultRetention = 1000

type Entry struct {
	ID          uint
	Command     string
	RequestedAs string
	Success     bool
	Error       string
	Duration    time.Duration
	ExecutedAt  time.Time
}

// Store is the command audit log. It implements dispatch.Recorder.
type Store struct {
	db        *gorm.DB
	logger    *slog.Logger
	retention int
}

// NewStore uses db without owning it. Caller must close the db.
func NewStore(db *gorm.DB, lg *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &Store{db: db, logger: lg.With("module", "history"), retention: DefaultRetention}, nil
}

// SetRetention caps the number of rows kept; n <= 0 disables pruning.
func (s *Store) SetRetention(n int) {
	s.retention = n
}

func (s *Store) Append(ctx context.Context, rec dispatch.Record) error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	row := dbmodel.CommandRecord{
		Command:     rec.Command,
		RequestedAs: rec.RequestedAs,
		Success:     rec.Success,
		Error:       rec.Error,
		DurationMS:  rec.Duration.Milliseconds(),
		ExecutedAt:  at.UTC().UnixMilli(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if s.retention <= 0 {
			return nil
		}
		return tx.Where("id <= ?", int64(row.ID)-int64(s.retention)).Delete(&dbmodel.CommandRecord{}).Error
	})
}

// Record satisfies dispatch.Recorder. Failures are logged, never surfaced to the caller.
func (s *Store) Record(ctx context.Context, rec dispatch.Record) {
	if err := s.Append(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("history append failed", "command", rec.Command, "err", err)
	}
}

// List returns the most recent entries first.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows := make([]dbmodel.CommandRecord, 0, limit)
	if err := s.db.Order("executed_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			ID:          row.ID,
			Command:     row.Command,
			RequestedAs: row.RequestedAs,
			Success:     row.Success,
			Error:       row.Error,
			Duration:    time.Duration(row.DurationMS) * time.Millisecond,
			ExecutedAt:  time.UnixMilli(row.ExecutedAt).UTC(),
		})
	}
	return entries, nil
}

func (s *Store) Clear() error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	return s.db.Where("1 = 1").Delete(&dbmodel.CommandRecord{}).Error
}
