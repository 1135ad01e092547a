package catalog

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidQuoteID indicates that a quote identifier is empty or exceeds storage bounds.
	ErrInvalidQuoteID = errors.New("catalog: invalid quote id")
	// ErrInvalidAuthorSlug indicates that an author slug is empty or exceeds storage bounds.
	ErrInvalidAuthorSlug = errors.New("catalog: invalid author slug")
	// ErrInvalidTagName indicates that a tag name is empty or exceeds storage bounds.
	ErrInvalidTagName = errors.New("catalog: invalid tag name")
)

// Entity is implemented by every catalog record that carries a natural key.
type Entity interface {
	EntityKey() string
}

// QuoteID represents a validated quote identifier.
type QuoteID string

// NewQuoteID validates raw input and returns a QuoteID.
func NewQuoteID(rawInput string) (QuoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidQuoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidQuoteID, maxIdentifierLength)
	}
	return QuoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id QuoteID) String() string {
	return string(id)
}

// AuthorSlug represents a validated author slug.
type AuthorSlug string

// NewAuthorSlug validates raw input and returns an AuthorSlug.
func NewAuthorSlug(rawInput string) (AuthorSlug, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAuthorSlug)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAuthorSlug, maxIdentifierLength)
	}
	return AuthorSlug(trimmed), nil
}

// String returns the underlying slug value.
func (s AuthorSlug) String() string {
	return string(s)
}

// TagName represents a validated tag name.
type TagName string

// NewTagName validates raw input and returns a TagName.
func NewTagName(rawInput string) (TagName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTagName)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTagName, maxIdentifierLength)
	}
	return TagName(trimmed), nil
}

// String returns the underlying tag name.
func (n TagName) String() string {
	return string(n)
}

// Quote models a cached quote row. Rows are shared across origins and
// upserted last-write-wins; no origin owns a quote exclusively.
type Quote struct {
	QuoteID    string `gorm:"column:quote_id;primaryKey;size:190;not null"`
	Content    string `gorm:"column:content;type:text;not null"`
	AuthorSlug string `gorm:"column:author_slug;size:190;not null;index:idx_quotes_author_slug"`
	AuthorName string `gorm:"column:author_name;size:190;not null;default:''"`
	TagsJSON   string `gorm:"column:tags_json;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Quote) TableName() string {
	return "quotes"
}

// EntityKey returns the natural key of the quote.
func (q Quote) EntityKey() string {
	return q.QuoteID
}

// Author models a cached author row.
type Author struct {
	Slug        string `gorm:"column:slug;primaryKey;size:190;not null"`
	Name        string `gorm:"column:name;size:190;not null"`
	Bio         string `gorm:"column:bio;type:text;not null;default:''"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
	QuoteCount  int64  `gorm:"column:quote_count;not null;default:0;index:idx_authors_quote_count"`
}

// TableName provides the explicit table binding for GORM.
func (Author) TableName() string {
	return "authors"
}

// EntityKey returns the natural key of the author.
func (a Author) EntityKey() string {
	return a.Slug
}

// Tag models a cached tag row.
type Tag struct {
	Name       string `gorm:"column:name;primaryKey;size:190;not null"`
	QuoteCount int64  `gorm:"column:quote_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// EntityKey returns the natural key of the tag.
func (t Tag) EntityKey() string {
	return t.Name
}

// Keys extracts the natural keys of the provided entities in order.
func Keys[E Entity](entities []E) []string {
	keys := make([]string, 0, len(entities))
	for _, entity := range entities {
		keys = append(keys, entity.EntityKey())
	}
	return keys
}
