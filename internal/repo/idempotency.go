// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model and the idempotency.Store adapter the HTTP guard runs on.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

// ErrDuplicate indicates that a live idempotency record already exists for
// the key.
var ErrDuplicate = errors.New("duplicate")

const (
	statePending   = string(idempotency.StatePending)
	stateCompleted = string(idempotency.StateCompleted)
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReserveIdempotency inserts a pending row for key owned by token. An expired
// row for the same key is replaced in the same transaction. It returns
// ErrDuplicate when a live row exists.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, key, token string, now time.Time, ttl time.Duration) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ? AND expires_at <= ?", key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		rec := &domain.Idempotency{
			Key:       key,
			Token:     token,
			State:     statePending,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := tx.Create(rec).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// CompleteIdempotency stores rec as completed. It overwrites the caller's own
// reservation, a pending row or an expired row, and returns ErrDuplicate when
// another owner's live completed row exists.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, rec *domain.Idempotency, now time.Time) error {
	rec.State = stateCompleted
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur domain.Idempotency
		err := tx.Where("key = ?", rec.Key).First(&cur).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(rec).Error; err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicate
				}
				return err
			}
			return nil
		case err != nil:
			return err
		}

		if cur.State == stateCompleted && cur.Token != rec.Token && cur.ExpiresAt.After(now) {
			return ErrDuplicate
		}
		return tx.Save(rec).Error
	})
}

// ReleaseIdempotency deletes the pending row for key if token owns it.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, key, token string) error {
	return db.WithContext(ctx).
		Where("key = ? AND token = ? AND state = ?", key, token, statePending).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes every row expired at now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// IdempotencyStore adapts the helpers above to idempotency.Store.
type IdempotencyStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewIdempotencyStore returns a Store over db.
func NewIdempotencyStore(db *gorm.DB) *IdempotencyStore {
	return &IdempotencyStore{DB: db}
}

func (s *IdempotencyStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Get implements idempotency.Store.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	row, err := GetIdempotency(ctx, s.DB, key, s.now())
	if errors.Is(err, ErrNotFound) {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &idempotency.Record{
		Key:         row.Key,
		Token:       row.Token,
		State:       idempotency.State(row.State),
		StatusCode:  row.StatusCode,
		ContentType: row.ContentType,
		Location:    row.Location,
		Body:        row.Body,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// Reserve implements idempotency.Store.
func (s *IdempotencyStore) Reserve(ctx context.Context, key, token string, ttl time.Duration) error {
	err := ReserveIdempotency(ctx, s.DB, key, token, s.now(), ttl)
	if errors.Is(err, ErrDuplicate) {
		return idempotency.ErrConflict
	}
	return err
}

// Put implements idempotency.Store.
func (s *IdempotencyStore) Put(ctx context.Context, rec *idempotency.Record, ttl time.Duration) error {
	now := s.now()
	created := rec.CreatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		created = now
	}
	err := CompleteIdempotency(ctx, s.DB, &domain.Idempotency{
		Key:         rec.Key,
		Token:       rec.Token,
		StatusCode:  rec.StatusCode,
		ContentType: rec.ContentType,
		Location:    rec.Location,
		Body:        rec.Body,
		CreatedAt:   created,
		ExpiresAt:   now.Add(ttl),
	}, now)
	if errors.Is(err, ErrDuplicate) {
		return idempotency.ErrConflict
	}
	return err
}

// Release implements idempotency.Store.
func (s *IdempotencyStore) Release(ctx context.Context, key, token string) error {
	return ReleaseIdempotency(ctx, s.DB, key, token)
}

// PurgeExpired implements idempotency.Purger.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return PurgeExpiredIdempotency(ctx, s.DB, now.UTC())
}

// Ping implements idempotency.Pinger.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
