package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/quoteshelf/quoteshelf/internal/origin"
	"github.com/quoteshelf/quoteshelf/internal/paging"
)

// exemplaryTag is the curated upstream collection backing the showcase view.
const exemplaryTag = "famous-quotes"

var errUnsupportedOrigin = errors.New("remote: origin kind not supported for this section")

// pagedFetcher retrieves successive pages of one upstream list query.
type pagedFetcher[D any] struct {
	client *Client
	path   string
	query  url.Values
}

func (f pagedFetcher[D]) FetchPage(ctx context.Context, page, limit int) (paging.PageResult[D], error) {
	query := url.Values{}
	for key, values := range f.query {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var envelope pagedEnvelope[D]
	if err := f.client.getJSON(ctx, f.path, query, &envelope); err != nil {
		return paging.PageResult[D]{}, err
	}
	return paging.PageResult[D]{
		Results:    envelope.Results,
		Page:       envelope.Page,
		TotalPages: envelope.TotalPages,
	}, nil
}

// randomQuoteFetcher serves the single-random-quote view through the paged
// contract: one fetch, one page, always the last.
type randomQuoteFetcher struct {
	client *Client
}

func (f randomQuoteFetcher) FetchPage(ctx context.Context, page, limit int) (paging.PageResult[QuoteDTO], error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var results []QuoteDTO
	if err := f.client.getJSON(ctx, "/quotes/random", query, &results); err != nil {
		return paging.PageResult[QuoteDTO]{}, err
	}
	return paging.PageResult[QuoteDTO]{Results: results, Page: page, TotalPages: page}, nil
}

// QuoteFetchers maps quote origins to their upstream queries.
type QuoteFetchers struct {
	client *Client
}

// NewQuoteFetchers constructs the quote fetcher factory.
func NewQuoteFetchers(client *Client) *QuoteFetchers {
	return &QuoteFetchers{client: client}
}

// ForOrigin binds a descriptor to the upstream query that serves it.
func (f *QuoteFetchers) ForOrigin(descriptor origin.Descriptor) (paging.Fetcher[QuoteDTO], error) {
	query := url.Values{}
	switch descriptor.Kind {
	case origin.KindAll:
		return pagedFetcher[QuoteDTO]{client: f.client, path: "/quotes", query: query}, nil
	case origin.KindOfAuthor:
		query.Set("author", descriptor.ScopeValue)
		return pagedFetcher[QuoteDTO]{client: f.client, path: "/quotes", query: query}, nil
	case origin.KindOfTag:
		query.Set("tags", descriptor.ScopeValue)
		return pagedFetcher[QuoteDTO]{client: f.client, path: "/quotes", query: query}, nil
	case origin.KindSearch:
		query.Set("query", descriptor.SearchPhrase)
		return pagedFetcher[QuoteDTO]{client: f.client, path: "/search/quotes", query: query}, nil
	case origin.KindExemplary:
		query.Set("tags", exemplaryTag)
		return pagedFetcher[QuoteDTO]{client: f.client, path: "/quotes", query: query}, nil
	case origin.KindRandom:
		return randomQuoteFetcher{client: f.client}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedOrigin, descriptor.Kind)
	}
}

// AuthorFetchers maps author origins to their upstream queries.
type AuthorFetchers struct {
	client *Client
}

// NewAuthorFetchers constructs the author fetcher factory.
func NewAuthorFetchers(client *Client) *AuthorFetchers {
	return &AuthorFetchers{client: client}
}

// ForOrigin binds a descriptor to the upstream query that serves it.
func (f *AuthorFetchers) ForOrigin(descriptor origin.Descriptor) (paging.Fetcher[AuthorDTO], error) {
	query := url.Values{}
	switch descriptor.Kind {
	case origin.KindAll:
		query.Set("sortBy", "quoteCount")
		query.Set("order", "desc")
		return pagedFetcher[AuthorDTO]{client: f.client, path: "/authors", query: query}, nil
	case origin.KindSearch:
		query.Set("query", descriptor.SearchPhrase)
		return pagedFetcher[AuthorDTO]{client: f.client, path: "/search/authors", query: query}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedOrigin, descriptor.Kind)
	}
}

// TagFetchers maps tag origins to their upstream queries.
type TagFetchers struct {
	client *Client
}

// NewTagFetchers constructs the tag fetcher factory.
func NewTagFetchers(client *Client) *TagFetchers {
	return &TagFetchers{client: client}
}

// ForOrigin binds a descriptor to the upstream query that serves it.
func (f *TagFetchers) ForOrigin(descriptor origin.Descriptor) (paging.Fetcher[TagDTO], error) {
	if descriptor.Kind != origin.KindAll {
		return nil, fmt.Errorf("%w: %s", errUnsupportedOrigin, descriptor.Kind)
	}
	return pagedFetcher[TagDTO]{client: f.client, path: "/tags", query: url.Values{}}, nil
}
