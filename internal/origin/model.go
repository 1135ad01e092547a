package origin

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the supported logical catalog queries.
type Kind string

const (
	// KindAll covers the unfiltered catalog listing.
	KindAll Kind = "all"
	// KindOfAuthor covers quotes filtered by one author slug.
	KindOfAuthor Kind = "of_author"
	// KindOfTag covers quotes filtered by one tag name.
	KindOfTag Kind = "of_tag"
	// KindSearch covers full-text search results.
	KindSearch Kind = "search"
	// KindExemplary covers the curated showcase selection.
	KindExemplary Kind = "exemplary"
	// KindRandom covers the single-random-quote view.
	KindRandom Kind = "random"
)

const maxScopeLength = 190

var (
	// ErrUnknownKind indicates an unrecognized origin kind.
	ErrUnknownKind = errors.New("origin: unknown kind")
	// ErrMissingScopeValue indicates a kind that requires a scope value got none.
	ErrMissingScopeValue = errors.New("origin: scope value is required")
	// ErrMissingSearchPhrase indicates a search descriptor without a phrase.
	ErrMissingSearchPhrase = errors.New("origin: search phrase is required")
	// ErrScopeTooLong indicates a descriptor field exceeding storage bounds.
	ErrScopeTooLong = errors.New("origin: descriptor field exceeds storage bounds")
)

// Descriptor identifies one logical catalog query by value. Two descriptors
// with equal fields address the same origin and therefore the same cached
// result set.
type Descriptor struct {
	Kind         Kind
	ScopeValue   string
	SearchPhrase string
}

// NewDescriptor validates the tuple and returns a normalized Descriptor.
func NewDescriptor(kind Kind, scopeValue, searchPhrase string) (Descriptor, error) {
	scope := strings.TrimSpace(scopeValue)
	phrase := strings.TrimSpace(searchPhrase)

	switch kind {
	case KindAll, KindExemplary, KindRandom:
	case KindOfAuthor, KindOfTag:
		if scope == "" {
			return Descriptor{}, fmt.Errorf("%w: kind %s", ErrMissingScopeValue, kind)
		}
	case KindSearch:
		if phrase == "" {
			return Descriptor{}, ErrMissingSearchPhrase
		}
	default:
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if len(scope) > maxScopeLength || len(phrase) > maxScopeLength {
		return Descriptor{}, ErrScopeTooLong
	}

	return Descriptor{Kind: kind, ScopeValue: scope, SearchPhrase: phrase}, nil
}

// CacheKey returns a stable string form of the descriptor tuple, used to key
// per-origin locks and change notifications.
func (d Descriptor) CacheKey() string {
	return string(d.Kind) + "|" + d.ScopeValue + "|" + d.SearchPhrase
}

// Record is the persisted identity of one origin. The descriptor tuple is
// unique; the generated OriginID is stable for the lifetime of the row and is
// what membership edges and page cursors reference. LastSyncedAtMillis is the
// canonical last-updated timestamp for the origin, written only when a merge
// transaction commits.
type Record struct {
	OriginID           int64  `gorm:"column:origin_id;primaryKey;autoIncrement"`
	Kind               string `gorm:"column:kind;size:32;not null;uniqueIndex:idx_origins_descriptor,priority:1"`
	ScopeValue         string `gorm:"column:scope_value;size:190;not null;default:'';uniqueIndex:idx_origins_descriptor,priority:2"`
	SearchPhrase       string `gorm:"column:search_phrase;size:190;not null;default:'';uniqueIndex:idx_origins_descriptor,priority:3"`
	LastSyncedAtMillis int64  `gorm:"column:last_synced_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "origins"
}

// PageCursor stores the last successfully fetched remote page for one origin.
// At most one live cursor exists per origin; Set replaces rather than
// accumulates.
type PageCursor struct {
	OriginID int64 `gorm:"column:origin_id;primaryKey"`
	PageKey  int   `gorm:"column:page_key;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PageCursor) TableName() string {
	return "page_cursors"
}

// QuoteEdge asserts that a quote currently belongs to an origin's result set.
type QuoteEdge struct {
	OriginID int64  `gorm:"column:origin_id;primaryKey"`
	QuoteID  string `gorm:"column:quote_id;primaryKey;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (QuoteEdge) TableName() string {
	return "quote_origins"
}

// AuthorEdge asserts that an author currently belongs to an origin's result set.
type AuthorEdge struct {
	OriginID   int64  `gorm:"column:origin_id;primaryKey"`
	AuthorSlug string `gorm:"column:author_slug;primaryKey;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (AuthorEdge) TableName() string {
	return "author_origins"
}

// TagEdge asserts that a tag currently belongs to an origin's result set.
type TagEdge struct {
	OriginID int64  `gorm:"column:origin_id;primaryKey"`
	TagName  string `gorm:"column:tag_name;primaryKey;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (TagEdge) TableName() string {
	return "tag_origins"
}
