package origin

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMembershipMissingDatabase = errors.New("database handle is required")
	errMembershipMissingConfig   = errors.New("join table, key column, entity table and entity key column are required")
)

// MembershipConfig binds a MembershipIndex to one entity type's join table.
// Table and column names come from code, never from request input.
type MembershipConfig struct {
	JoinTable       string
	KeyColumn       string
	EntityTable     string
	EntityKeyColumn string
}

// OrderSpec names the entity column the membership listing is ordered by.
type OrderSpec struct {
	Column     string
	Descending bool
}

// MembershipIndex maintains the many-to-many join between catalog entities
// and the origins whose result sets currently contain them. An edge's
// existence means "part of this origin's current result set"; its absence
// says nothing about whether the entity row exists.
type MembershipIndex struct {
	db     *gorm.DB
	config MembershipConfig
}

// NewMembershipIndex constructs a MembershipIndex for one join table.
func NewMembershipIndex(db *gorm.DB, config MembershipConfig) (*MembershipIndex, error) {
	if db == nil {
		return nil, errMembershipMissingDatabase
	}
	if config.JoinTable == "" || config.KeyColumn == "" || config.EntityTable == "" || config.EntityKeyColumn == "" {
		return nil, errMembershipMissingConfig
	}
	return &MembershipIndex{db: db, config: config}, nil
}

// WithDB returns a copy of the index bound to the provided handle, typically
// a transaction.
func (m *MembershipIndex) WithDB(db *gorm.DB) *MembershipIndex {
	return &MembershipIndex{db: db, config: m.config}
}

// Attach records membership edges for the given keys. Attaching an existing
// edge is a no-op, not an error.
func (m *MembershipIndex) Attach(ctx context.Context, originID int64, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, map[string]interface{}{
			"origin_id":      originID,
			m.config.KeyColumn: key,
		})
	}
	return m.db.WithContext(ctx).
		Table(m.config.JoinTable).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows).Error
}

// DetachAll removes every edge for the origin. This invalidates the origin's
// materialized result set; entity rows are never deleted here.
func (m *MembershipIndex) DetachAll(ctx context.Context, originID int64) error {
	statement := fmt.Sprintf("DELETE FROM %s WHERE origin_id = ?", m.config.JoinTable)
	return m.db.WithContext(ctx).Exec(statement, originID).Error
}

// Count returns the number of entities currently attached to the origin.
func (m *MembershipIndex) Count(ctx context.Context, originID int64) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Table(m.config.JoinTable).
		Where("origin_id = ?", originID).
		Count(&count).Error
	return count, err
}

// ListInto loads entities attached to the origin into out, which must be a
// pointer to a slice of the entity model. Results are ordered by the given
// OrderSpec; a non-positive limit means no cap.
func (m *MembershipIndex) ListInto(ctx context.Context, originID int64, order OrderSpec, limit, offset int, out interface{}) error {
	direction := "ASC"
	if order.Descending {
		direction = "DESC"
	}
	join := fmt.Sprintf("JOIN %s ON %s.%s = %s.%s",
		m.config.JoinTable,
		m.config.JoinTable, m.config.KeyColumn,
		m.config.EntityTable, m.config.EntityKeyColumn)

	query := m.db.WithContext(ctx).
		Table(m.config.EntityTable).
		Select(m.config.EntityTable + ".*").
		Joins(join).
		Where(m.config.JoinTable+".origin_id = ?", originID).
		Order(fmt.Sprintf("%s.%s %s", m.config.EntityTable, order.Column, direction))
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query.Find(out).Error
}
