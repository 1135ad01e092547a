package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errStoreMissingDatabase  = errors.New("database handle is required")
	errStoreMissingKeyColumn = errors.New("key column is required")
)

// Store provides natural-keyed persistence for one catalog entity type.
// Upserts are insert-or-replace by primary key and atomic as a batch; the
// store never touches origin membership or page cursors.
type Store[E Entity] struct {
	db        *gorm.DB
	keyColumn string
}

// NewStore constructs a Store bound to the given database handle. keyColumn
// names the primary-key column of E's table.
func NewStore[E Entity](db *gorm.DB, keyColumn string) (*Store[E], error) {
	if db == nil {
		return nil, errStoreMissingDatabase
	}
	if keyColumn == "" {
		return nil, errStoreMissingKeyColumn
	}
	return &Store[E]{db: db, keyColumn: keyColumn}, nil
}

// WithDB returns a copy of the store bound to the provided handle, typically
// a transaction obtained from gorm.DB.Transaction.
func (s *Store[E]) WithDB(db *gorm.DB) *Store[E] {
	return &Store[E]{db: db, keyColumn: s.keyColumn}
}

// UpsertMany inserts or replaces the given entities by natural key in one
// batch. A nil or empty slice is a no-op.
func (s *Store[E]) UpsertMany(ctx context.Context, entities []E) error {
	if len(entities) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entities).Error
}

// GetByKey loads the entity with the given natural key. The second return
// value reports whether a row exists.
func (s *Store[E]) GetByKey(ctx context.Context, key string) (E, bool, error) {
	var entity E
	err := s.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ?", s.keyColumn), key).
		Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity, false, nil
	}
	if err != nil {
		return entity, false, err
	}
	return entity, true, nil
}

// DeleteByKeys removes the rows with the given natural keys. Only
// invalidation paths use this; routine refreshes never delete entity rows.
func (s *Store[E]) DeleteByKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	var entity E
	return s.db.WithContext(ctx).
		Where(fmt.Sprintf("%s IN ?", s.keyColumn), keys).
		Delete(&entity).Error
}
