package origin

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errRegistryMissingDatabase = errors.New("database handle is required")

// Registry maps descriptor tuples to stable origin identifiers. Identifiers
// are created lazily on first use and never change afterwards, so rows in the
// membership and cursor tables stay valid across routine refreshes.
type Registry struct {
	db *gorm.DB
}

// NewRegistry constructs a Registry bound to the given database handle.
func NewRegistry(db *gorm.DB) (*Registry, error) {
	if db == nil {
		return nil, errRegistryMissingDatabase
	}
	return &Registry{db: db}, nil
}

// WithDB returns a copy of the registry bound to the provided handle,
// typically a transaction.
func (r *Registry) WithDB(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Resolve returns the origin id for the descriptor if it has ever been used.
// The second return value reports existence; Resolve has no side effects.
func (r *Registry) Resolve(ctx context.Context, descriptor Descriptor) (int64, bool, error) {
	var record Record
	err := r.db.WithContext(ctx).
		Where("kind = ? AND scope_value = ? AND search_phrase = ?",
			string(descriptor.Kind), descriptor.ScopeValue, descriptor.SearchPhrase).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return record.OriginID, true, nil
}

// GetOrCreate returns the origin id for the descriptor, inserting a new
// record with a zero sync timestamp on first use. The id of an existing
// record is never changed. The sync timestamp is not touched here; it is
// owned by the merge transaction (see TouchLastSynced).
func (r *Registry) GetOrCreate(ctx context.Context, descriptor Descriptor) (int64, error) {
	record := Record{
		Kind:         string(descriptor.Kind),
		ScopeValue:   descriptor.ScopeValue,
		SearchPhrase: descriptor.SearchPhrase,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return 0, err
	}
	if record.OriginID != 0 {
		return record.OriginID, nil
	}

	// Conflict path: another writer created the row first; read it back.
	id, ok, err := r.Resolve(ctx, descriptor)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	return id, nil
}

// LastSynced returns the canonical last-updated timestamp in unix
// milliseconds. The second return value is false for unknown descriptors,
// which callers treat as infinitely stale.
func (r *Registry) LastSynced(ctx context.Context, descriptor Descriptor) (int64, bool, error) {
	var record Record
	err := r.db.WithContext(ctx).
		Where("kind = ? AND scope_value = ? AND search_phrase = ?",
			string(descriptor.Kind), descriptor.ScopeValue, descriptor.SearchPhrase).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return record.LastSyncedAtMillis, true, nil
}

// TouchLastSynced updates the canonical timestamp for the origin. Called
// inside the merge transaction so the timestamp advances if and only if the
// merge commits.
func (r *Registry) TouchLastSynced(ctx context.Context, originID int64, nowMillis int64) error {
	return r.db.WithContext(ctx).
		Model(&Record{}).
		Where("origin_id = ?", originID).
		Update("last_synced_at_ms", nowMillis).Error
}
