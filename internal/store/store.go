package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iot-telemetry-backend/internal/model"
	"iot-telemetry-backend/internal/telemetry"

	"gorm.io/gorm"
)

// Store defines the interface for all sample persistence.
type Store interface {
	// Append stamps every reading with the server receive time and inserts them
	// in one transaction.
	Append(ctx context.Context, readings ...telemetry.Reading) error
	// Latest returns the most recently received sample of a class, or
	// telemetry.ErrNotFound.
	Latest(ctx context.Context, class telemetry.DeviceClass) (telemetry.Reading, error)
	// Since returns the samples of a class received at or after since, oldest first.
	Since(ctx context.Context, class telemetry.DeviceClass, since time.Time) ([]telemetry.Reading, error)
	// Expire deletes samples received before olderThan and returns how many went.
	Expire(ctx context.Context, olderThan time.Time) (int64, error)
	DB() *gorm.DB
}

// Option configures a gormStore.
type Option func(*gormStore)

// WithClock replaces the clock used for server receive times.
func WithClock(now func() time.Time) Option {
	return func(s *gormStore) { s.now = now }
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) Store {
	s := &gormStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) Append(ctx context.Context, readings ...telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	for _, r := range readings {
		if !r.Valid() {
			return fmt.Errorf("append: reading of class %q carries no sample", r.Class)
		}
	}

	receivedAt := s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range readings {
			r.SetReceivedAt(receivedAt)
			if err := insertReading(tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertReading(tx *gorm.DB, r telemetry.Reading) error {
	var err error
	switch r.Class {
	case telemetry.ClassArduino:
		err = tx.Create(r.Arduino).Error
	case telemetry.ClassNodeMCU:
		err = tx.Create(r.NodeMCU).Error
	default:
		return fmt.Errorf("append: unknown device class %q", r.Class)
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s sample: %w", r.Class, err)
	}
	return nil
}

func (s *gormStore) Latest(ctx context.Context, class telemetry.DeviceClass) (telemetry.Reading, error) {
	q := s.db.WithContext(ctx).Order("server_receive_time DESC").Order("id DESC")

	var err error
	var r telemetry.Reading
	switch class {
	case telemetry.ClassArduino:
		var row model.ArduinoSample
		if err = q.Take(&row).Error; err == nil {
			r = telemetry.ArduinoReading(&row)
		}
	case telemetry.ClassNodeMCU:
		var row model.NodeMCUSample
		if err = q.Take(&row).Error; err == nil {
			r = telemetry.NodeMCUReading(&row)
		}
	default:
		return telemetry.Reading{}, fmt.Errorf("latest: unknown device class %q", class)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return telemetry.Reading{}, telemetry.ErrNotFound
	}
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("failed to fetch latest %s sample: %w", class, err)
	}
	return r, nil
}

func (s *gormStore) Since(ctx context.Context, class telemetry.DeviceClass, since time.Time) ([]telemetry.Reading, error) {
	q := s.db.WithContext(ctx).
		Where("server_receive_time >= ?", since.UTC()).
		Order("server_receive_time ASC").
		Order("id ASC")

	switch class {
	case telemetry.ClassArduino:
		var rows []model.ArduinoSample
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to query arduino samples: %w", err)
		}
		readings := make([]telemetry.Reading, len(rows))
		for i := range rows {
			readings[i] = telemetry.ArduinoReading(&rows[i])
		}
		return readings, nil
	case telemetry.ClassNodeMCU:
		var rows []model.NodeMCUSample
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to query nodemcu samples: %w", err)
		}
		readings := make([]telemetry.Reading, len(rows))
		for i := range rows {
			readings[i] = telemetry.NodeMCUReading(&rows[i])
		}
		return readings, nil
	}
	return nil, fmt.Errorf("since: unknown device class %q", class)
}

func (s *gormStore) Expire(ctx context.Context, olderThan time.Time) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.ArduinoSample{}, &model.NodeMCUSample{}} {
			res := tx.Where("server_receive_time < ?", olderThan.UTC()).Delete(m)
			if res.Error != nil {
				return fmt.Errorf("failed to expire samples: %w", res.Error)
			}
			removed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
