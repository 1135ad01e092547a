package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quoteshelf/quoteshelf/internal/catalog"
	"github.com/quoteshelf/quoteshelf/internal/origin"
	"github.com/quoteshelf/quoteshelf/internal/paging"
	"github.com/quoteshelf/quoteshelf/internal/remote"
	"go.uber.org/zap"
)

const (
	adminSubjectContextKey = "quoteshelf_admin_subject"
	requestIDHeader        = "X-Request-ID"
	defaultPageSize        = 30
	maxPageSize            = 100
	dashboardQuoteCount    = 5
	dashboardAuthorCount   = 5
	dashboardTagCount      = 8
)

var (
	errMissingQuoteEngine   = errors.New("quote engine dependency required")
	errMissingAuthorEngine  = errors.New("author engine dependency required")
	errMissingTagEngine     = errors.New("tag engine dependency required")
	errMissingReadModels    = errors.New("read model dependencies required")
	errMissingStores        = errors.New("entity store dependencies required")
	errMissingRemoteClient  = errors.New("remote client dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AdminTokenValidator checks bearer tokens on the cache-mutating routes.
type AdminTokenValidator interface {
	Validate(token string) (string, error)
}

// Dependencies wires the HTTP surface. AdminTokens may be nil, which
// disables the admin routes entirely.
type Dependencies struct {
	QuoteEngine  *paging.Engine[remote.QuoteDTO, catalog.Quote]
	AuthorEngine *paging.Engine[remote.AuthorDTO, catalog.Author]
	TagEngine    *paging.Engine[remote.TagDTO, catalog.Tag]
	QuoteReads   *paging.ReadModel[catalog.Quote]
	AuthorReads  *paging.ReadModel[catalog.Author]
	TagReads     *paging.ReadModel[catalog.Tag]
	QuoteStore   *catalog.Store[catalog.Quote]
	AuthorStore  *catalog.Store[catalog.Author]
	Remote       *remote.Client
	Dispatcher   *paging.Dispatcher
	AdminTokens  AdminTokenValidator
	PageSize     int
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the catalog cache API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.QuoteEngine == nil {
		return nil, errMissingQuoteEngine
	}
	if deps.AuthorEngine == nil {
		return nil, errMissingAuthorEngine
	}
	if deps.TagEngine == nil {
		return nil, errMissingTagEngine
	}
	if deps.QuoteReads == nil || deps.AuthorReads == nil || deps.TagReads == nil {
		return nil, errMissingReadModels
	}
	if deps.QuoteStore == nil || deps.AuthorStore == nil {
		return nil, errMissingStores
	}
	if deps.Remote == nil {
		return nil, errMissingRemoteClient
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	handler := &httpHandler{
		quoteEngine:  deps.QuoteEngine,
		authorEngine: deps.AuthorEngine,
		tagEngine:    deps.TagEngine,
		quoteReads:   deps.QuoteReads,
		authorReads:  deps.AuthorReads,
		tagReads:     deps.TagReads,
		quoteStore:   deps.QuoteStore,
		authorStore:  deps.AuthorStore,
		remote:       deps.Remote,
		dispatcher:   deps.Dispatcher,
		adminTokens:  deps.AdminTokens,
		pageSize:     pageSize,
		logger:       logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.requestLog)
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/quotes", handler.handleListQuotes)
	router.GET("/quotes/:id", handler.handleGetQuote)
	router.GET("/authors", handler.handleListAuthors)
	router.GET("/authors/:slug", handler.handleGetAuthor)
	router.GET("/tags", handler.handleListTags)
	router.GET("/dashboard", handler.handleDashboard)
	router.GET("/events", handler.handleEvents)

	if deps.AdminTokens != nil {
		admin := router.Group("/admin")
		admin.Use(handler.authorizeRequest)
		admin.POST("/refresh", handler.handleAdminRefresh)
		admin.POST("/invalidate", handler.handleAdminInvalidate)
	}

	return router, nil
}

type httpHandler struct {
	quoteEngine  *paging.Engine[remote.QuoteDTO, catalog.Quote]
	authorEngine *paging.Engine[remote.AuthorDTO, catalog.Author]
	tagEngine    *paging.Engine[remote.TagDTO, catalog.Tag]
	quoteReads   *paging.ReadModel[catalog.Quote]
	authorReads  *paging.ReadModel[catalog.Author]
	tagReads     *paging.ReadModel[catalog.Tag]
	quoteStore   *catalog.Store[catalog.Quote]
	authorStore  *catalog.Store[catalog.Author]
	remote       *remote.Client
	dispatcher   *paging.Dispatcher
	adminTokens  AdminTokenValidator
	pageSize     int
	logger       *zap.Logger
}

func (h *httpHandler) requestLog(c *gin.Context) {
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		if generated, err := uuid.NewV7(); err == nil {
			requestID = generated.String()
		}
	}
	c.Header(requestIDHeader, requestID)

	start := time.Now()
	c.Next()

	h.logger.Info("http request",
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", time.Since(start)))
}

type quotePayload struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Author     string   `json:"author"`
	AuthorSlug string   `json:"author_slug"`
	Tags       []string `json:"tags"`
}

type authorPayload struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	Description string `json:"description"`
	QuoteCount  int64  `json:"quote_count"`
}

type tagPayload struct {
	Name       string `json:"name"`
	QuoteCount int64  `json:"quote_count"`
}

type listResponsePayload[P any] struct {
	Items      []P    `json:"items"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalCount int64  `json:"total_count"`
	HasPrev    bool   `json:"has_prev"`
	HasNext    bool   `json:"has_next"`
	SyncError  string `json:"sync_error,omitempty"`
}

func presentQuote(quote catalog.Quote) quotePayload {
	var tags []string
	if quote.TagsJSON != "" {
		// Denormalized column; a malformed value degrades to no tags.
		_ = json.Unmarshal([]byte(quote.TagsJSON), &tags)
	}
	return quotePayload{
		ID:         quote.QuoteID,
		Content:    quote.Content,
		Author:     quote.AuthorName,
		AuthorSlug: quote.AuthorSlug,
		Tags:       tags,
	}
}

func presentAuthor(author catalog.Author) authorPayload {
	return authorPayload{
		Slug:        author.Slug,
		Name:        author.Name,
		Bio:         author.Bio,
		Description: author.Description,
		QuoteCount:  author.QuoteCount,
	}
}

func presentTag(tag catalog.Tag) tagPayload {
	return tagPayload{Name: tag.Name, QuoteCount: tag.QuoteCount}
}

func (h *httpHandler) parsePagination(c *gin.Context) (pageNumber, pageSize int, ok bool) {
	pageNumber = 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
			return 0, 0, false
		}
		pageNumber = parsed
	}
	pageSize = h.pageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return 0, 0, false
		}
		pageSize = parsed
	}
	return pageNumber, pageSize, true
}

func quoteDescriptorFromQuery(c *gin.Context) (origin.Descriptor, error) {
	if phrase := strings.TrimSpace(c.Query("search")); phrase != "" {
		return origin.NewDescriptor(origin.KindSearch, "", phrase)
	}
	if author := strings.TrimSpace(c.Query("author")); author != "" {
		return origin.NewDescriptor(origin.KindOfAuthor, author, "")
	}
	if tag := strings.TrimSpace(c.Query("tag")); tag != "" {
		return origin.NewDescriptor(origin.KindOfTag, tag, "")
	}
	switch strings.TrimSpace(c.Query("kind")) {
	case "", "all":
		return origin.NewDescriptor(origin.KindAll, "", "")
	case "exemplary":
		return origin.NewDescriptor(origin.KindExemplary, "", "")
	case "random":
		return origin.NewDescriptor(origin.KindRandom, "", "")
	default:
		return origin.Descriptor{}, origin.ErrUnknownKind
	}
}

// serveListing materializes the requested window: staleness-driven refresh
// first, then appends until the window is covered or pagination ends, then
// serves from the local read model. A sync failure degrades to cached rows
// when any exist.
func serveListing[D any, E catalog.Entity, P any](
	c *gin.Context,
	h *httpHandler,
	engine *paging.Engine[D, E],
	reads *paging.ReadModel[E],
	descriptor origin.Descriptor,
	pageNumber, pageSize int,
	present func(E) P,
) {
	ctx := c.Request.Context()
	offset := (pageNumber - 1) * pageSize

	var syncErr error
	if _, err := engine.Initialize(ctx, descriptor, pageSize); err != nil {
		syncErr = err
	}

	window, err := reads.Window(ctx, descriptor, offset, pageSize)
	if err != nil {
		h.logger.Error("read model window failed", zap.Error(err),
			zap.String("origin", descriptor.CacheKey()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}

	for syncErr == nil && int(window.TotalCount) < offset+pageSize {
		result, err := engine.Load(ctx, descriptor, paging.LoadAppend, pageSize)
		if err != nil {
			syncErr = err
			break
		}
		if result.EndOfPagination || result.Loaded == 0 {
			break
		}
		window, err = reads.Window(ctx, descriptor, offset, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
			return
		}
	}

	if syncErr == nil || window.TotalCount > 0 {
		// Re-read once more so a final successful append is reflected.
		window, err = reads.Window(ctx, descriptor, offset, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
			return
		}
		items := make([]P, 0, len(window.Items))
		for _, item := range window.Items {
			items = append(items, present(item))
		}
		response := listResponsePayload[P]{
			Items:      items,
			Page:       pageNumber,
			PageSize:   pageSize,
			TotalCount: window.TotalCount,
			HasPrev:    window.HasPrev,
			HasNext:    window.HasNext,
		}
		if syncErr != nil {
			response.SyncError = string(remote.KindOf(syncErr))
		}
		c.JSON(http.StatusOK, response)
		return
	}

	h.respondSyncFailure(c, syncErr)
}

func (h *httpHandler) respondSyncFailure(c *gin.Context, err error) {
	switch remote.KindOf(err) {
	case remote.KindCancelled:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request_cancelled"})
	case remote.KindConnection, remote.KindServer:
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
	case remote.KindClient:
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_rejected"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
	}
}

func (h *httpHandler) handleListQuotes(c *gin.Context) {
	descriptor, err := quoteDescriptorFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query"})
		return
	}
	pageNumber, pageSize, ok := h.parsePagination(c)
	if !ok {
		return
	}
	serveListing(c, h, h.quoteEngine, h.quoteReads, descriptor, pageNumber, pageSize, presentQuote)
}

func (h *httpHandler) handleListAuthors(c *gin.Context) {
	var descriptor origin.Descriptor
	var err error
	if phrase := strings.TrimSpace(c.Query("search")); phrase != "" {
		descriptor, err = origin.NewDescriptor(origin.KindSearch, "", phrase)
	} else {
		descriptor, err = origin.NewDescriptor(origin.KindAll, "", "")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query"})
		return
	}
	pageNumber, pageSize, ok := h.parsePagination(c)
	if !ok {
		return
	}
	serveListing(c, h, h.authorEngine, h.authorReads, descriptor, pageNumber, pageSize, presentAuthor)
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	descriptor, err := origin.NewDescriptor(origin.KindAll, "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid_descriptor"})
		return
	}
	pageNumber, pageSize, ok := h.parsePagination(c)
	if !ok {
		return
	}
	serveListing(c, h, h.tagEngine, h.tagReads, descriptor, pageNumber, pageSize, presentTag)
}

func (h *httpHandler) handleGetQuote(c *gin.Context) {
	quoteID, err := catalog.NewQuoteID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_quote_id"})
		return
	}

	ctx := c.Request.Context()
	cached, found, err := h.quoteStore.GetByKey(ctx, quoteID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	if found {
		c.JSON(http.StatusOK, presentQuote(cached))
		return
	}

	// Detail path: fetch and upsert outside any origin scope.
	dto, err := h.remote.Quote(ctx, quoteID.String())
	if err != nil {
		if remote.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "quote_not_found"})
			return
		}
		h.respondSyncFailure(c, err)
		return
	}
	quote := remote.ConvertQuote(dto)
	if err := h.quoteStore.UpsertMany(ctx, []catalog.Quote{quote}); err != nil {
		h.logger.Error("quote detail upsert failed", zap.Error(err),
			zap.String("quote_id", quoteID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
		return
	}
	c.JSON(http.StatusOK, presentQuote(quote))
}

func (h *httpHandler) handleGetAuthor(c *gin.Context) {
	slug, err := catalog.NewAuthorSlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_author_slug"})
		return
	}

	ctx := c.Request.Context()
	cached, found, err := h.authorStore.GetByKey(ctx, slug.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	if found {
		c.JSON(http.StatusOK, presentAuthor(cached))
		return
	}

	dto, err := h.remote.Author(ctx, slug.String())
	if err != nil {
		if remote.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "author_not_found"})
			return
		}
		h.respondSyncFailure(c, err)
		return
	}
	author := remote.ConvertAuthor(dto)
	if err := h.authorStore.UpsertMany(ctx, []catalog.Author{author}); err != nil {
		h.logger.Error("author detail upsert failed", zap.Error(err),
			zap.String("slug", slug.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
		return
	}
	c.JSON(http.StatusOK, presentAuthor(author))
}

type dashboardPayload struct {
	ExemplaryQuotes []quotePayload  `json:"exemplary_quotes"`
	TopAuthors      []authorPayload `json:"top_authors"`
	Tags            []tagPayload    `json:"tags"`
}

func (h *httpHandler) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	response := dashboardPayload{
		ExemplaryQuotes: []quotePayload{},
		TopAuthors:      []authorPayload{},
		Tags:            []tagPayload{},
	}

	if descriptor, err := origin.NewDescriptor(origin.KindExemplary, "", ""); err == nil {
		if _, err := h.quoteEngine.Initialize(ctx, descriptor, dashboardQuoteCount); err != nil {
			h.logger.Warn("dashboard quote sync failed", zap.Error(err))
		}
		if quotes, err := h.quoteReads.FirstN(ctx, descriptor, dashboardQuoteCount); err == nil {
			for _, quote := range quotes {
				response.ExemplaryQuotes = append(response.ExemplaryQuotes, presentQuote(quote))
			}
		}
	}

	if descriptor, err := origin.NewDescriptor(origin.KindAll, "", ""); err == nil {
		if _, err := h.authorEngine.Initialize(ctx, descriptor, dashboardAuthorCount); err != nil {
			h.logger.Warn("dashboard author sync failed", zap.Error(err))
		}
		if authors, err := h.authorReads.FirstN(ctx, descriptor, dashboardAuthorCount); err == nil {
			for _, author := range authors {
				response.TopAuthors = append(response.TopAuthors, presentAuthor(author))
			}
		}
		if _, err := h.tagEngine.Initialize(ctx, descriptor, dashboardTagCount); err != nil {
			h.logger.Warn("dashboard tag sync failed", zap.Error(err))
		}
		if tags, err := h.tagReads.FirstN(ctx, descriptor, dashboardTagCount); err == nil {
			for _, tag := range tags {
				response.Tags = append(response.Tags, presentTag(tag))
			}
		}
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.adminTokens.Validate(token)
	if err != nil {
		h.logger.Warn("admin token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, subject)
	c.Next()
}

type adminOriginPayload struct {
	Section      string `json:"section"`
	Kind         string `json:"kind"`
	ScopeValue   string `json:"scope_value"`
	SearchPhrase string `json:"search_phrase"`
}

func (p adminOriginPayload) descriptor() (origin.Descriptor, error) {
	return origin.NewDescriptor(origin.Kind(p.Kind), p.ScopeValue, p.SearchPhrase)
}

func (h *httpHandler) handleAdminRefresh(c *gin.Context) {
	var request adminOriginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	descriptor, err := request.descriptor()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_descriptor"})
		return
	}

	ctx := c.Request.Context()
	var result paging.LoadResult
	switch request.Section {
	case "quotes":
		result, err = h.quoteEngine.Load(ctx, descriptor, paging.LoadRefresh, h.pageSize)
	case "authors":
		result, err = h.authorEngine.Load(ctx, descriptor, paging.LoadRefresh, h.pageSize)
	case "tags":
		result, err = h.tagEngine.Load(ctx, descriptor, paging.LoadRefresh, h.pageSize)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_section"})
		return
	}
	if err != nil {
		h.respondSyncFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loaded":            result.Loaded,
		"page_key":          result.PageKey,
		"end_of_pagination": result.EndOfPagination,
	})
}

func (h *httpHandler) handleAdminInvalidate(c *gin.Context) {
	var request adminOriginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	descriptor, err := request.descriptor()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_descriptor"})
		return
	}

	ctx := c.Request.Context()
	switch request.Section {
	case "quotes":
		err = h.quoteEngine.Invalidate(ctx, descriptor)
	case "authors":
		err = h.authorEngine.Invalidate(ctx, descriptor)
	case "tags":
		err = h.tagEngine.Invalidate(ctx, descriptor)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_section"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidate_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": true})
}
