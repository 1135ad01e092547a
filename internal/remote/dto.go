package remote

import (
	"encoding/json"

	"github.com/quoteshelf/quoteshelf/internal/catalog"
)

// QuoteDTO is the upstream wire form of one quote.
type QuoteDTO struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Author     string   `json:"author"`
	AuthorSlug string   `json:"authorSlug"`
	Tags       []string `json:"tags"`
}

// AuthorDTO is the upstream wire form of one author.
type AuthorDTO struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	Description string `json:"description"`
	QuoteCount  int64  `json:"quoteCount"`
}

// TagDTO is the upstream wire form of one tag.
type TagDTO struct {
	Name       string `json:"name"`
	QuoteCount int64  `json:"quoteCount"`
}

// pagedEnvelope is the common paged response wrapper of the upstream list
// endpoints.
type pagedEnvelope[D any] struct {
	Results    []D `json:"results"`
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
	TotalCount int `json:"totalCount"`
}

// ConvertQuotes maps quote DTOs to catalog rows. Tags are denormalized into
// a JSON array column.
func ConvertQuotes(dtos []QuoteDTO) []catalog.Quote {
	quotes := make([]catalog.Quote, 0, len(dtos))
	for _, dto := range dtos {
		tagsJSON := ""
		if len(dto.Tags) > 0 {
			if encoded, err := json.Marshal(dto.Tags); err == nil {
				tagsJSON = string(encoded)
			}
		}
		quotes = append(quotes, catalog.Quote{
			QuoteID:    dto.ID,
			Content:    dto.Content,
			AuthorSlug: dto.AuthorSlug,
			AuthorName: dto.Author,
			TagsJSON:   tagsJSON,
		})
	}
	return quotes
}

// ConvertAuthors maps author DTOs to catalog rows.
func ConvertAuthors(dtos []AuthorDTO) []catalog.Author {
	authors := make([]catalog.Author, 0, len(dtos))
	for _, dto := range dtos {
		authors = append(authors, catalog.Author{
			Slug:        dto.Slug,
			Name:        dto.Name,
			Bio:         dto.Bio,
			Description: dto.Description,
			QuoteCount:  dto.QuoteCount,
		})
	}
	return authors
}

// ConvertTags maps tag DTOs to catalog rows.
func ConvertTags(dtos []TagDTO) []catalog.Tag {
	tags := make([]catalog.Tag, 0, len(dtos))
	for _, dto := range dtos {
		tags = append(tags, catalog.Tag{
			Name:       dto.Name,
			QuoteCount: dto.QuoteCount,
		})
	}
	return tags
}

// ConvertQuote maps one quote DTO to its catalog row.
func ConvertQuote(dto QuoteDTO) catalog.Quote {
	converted := ConvertQuotes([]QuoteDTO{dto})
	return converted[0]
}

// ConvertAuthor maps one author DTO to its catalog row.
func ConvertAuthor(dto AuthorDTO) catalog.Author {
	converted := ConvertAuthors([]AuthorDTO{dto})
	return converted[0]
}
