package origin

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errCursorMissingDatabase = errors.New("database handle is required")

// CursorStore persists the last successfully fetched page key per origin.
type CursorStore struct {
	db *gorm.DB
}

// NewCursorStore constructs a CursorStore bound to the given database handle.
func NewCursorStore(db *gorm.DB) (*CursorStore, error) {
	if db == nil {
		return nil, errCursorMissingDatabase
	}
	return &CursorStore{db: db}, nil
}

// WithDB returns a copy of the store bound to the provided handle, typically
// a transaction.
func (s *CursorStore) WithDB(db *gorm.DB) *CursorStore {
	return &CursorStore{db: db}
}

// Get returns the stored page key for the origin. The second return value is
// false when no cursor exists, meaning no page has ever been fetched for the
// origin since its last invalidation.
func (s *CursorStore) Get(ctx context.Context, originID int64) (int, bool, error) {
	var cursor PageCursor
	err := s.db.WithContext(ctx).
		Where("origin_id = ?", originID).
		Take(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cursor.PageKey, true, nil
}

// Set stores the page key for the origin with replace semantics.
func (s *CursorStore) Set(ctx context.Context, originID int64, pageKey int) error {
	cursor := PageCursor{OriginID: originID, PageKey: pageKey}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&cursor).Error
}

// Clear removes the cursor for the origin. Clearing a missing cursor is a
// no-op.
func (s *CursorStore) Clear(ctx context.Context, originID int64) error {
	return s.db.WithContext(ctx).
		Where("origin_id = ?", originID).
		Delete(&PageCursor{}).Error
}
