package origin

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:origin_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &PageCursor{}, &QuoteEdge{}, &testEntity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// testEntity stands in for a catalog table in membership listings.
type testEntity struct {
	QuoteID string `gorm:"column:quote_id;primaryKey;size:190;not null"`
	Rank    int64  `gorm:"column:rank;not null;default:0"`
}

func (testEntity) TableName() string {
	return "test_entities"
}

func mustDescriptor(t *testing.T, kind Kind, scopeValue, searchPhrase string) Descriptor {
	t.Helper()
	descriptor, err := NewDescriptor(kind, scopeValue, searchPhrase)
	if err != nil {
		t.Fatalf("unexpected descriptor error: %v", err)
	}
	return descriptor
}

func mustRegistry(t *testing.T, db *gorm.DB) *Registry {
	t.Helper()
	registry, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry
}

func mustMembershipIndex(t *testing.T, db *gorm.DB) *MembershipIndex {
	t.Helper()
	index, err := NewMembershipIndex(db, MembershipConfig{
		JoinTable:       QuoteEdge{}.TableName(),
		KeyColumn:       "quote_id",
		EntityTable:     testEntity{}.TableName(),
		EntityKeyColumn: "quote_id",
	})
	if err != nil {
		t.Fatalf("failed to construct membership index: %v", err)
	}
	return index
}
