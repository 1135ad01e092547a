package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quoteshelf/quoteshelf/internal/auth"
	"github.com/quoteshelf/quoteshelf/internal/catalog"
	"github.com/quoteshelf/quoteshelf/internal/config"
	"github.com/quoteshelf/quoteshelf/internal/database"
	"github.com/quoteshelf/quoteshelf/internal/logging"
	"github.com/quoteshelf/quoteshelf/internal/origin"
	"github.com/quoteshelf/quoteshelf/internal/paging"
	"github.com/quoteshelf/quoteshelf/internal/remote"
	"github.com/quoteshelf/quoteshelf/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile      string
	tokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quoteshelf",
		Short: "Offline-first quotes catalog cache service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return mintToken(cmd)
		},
	}
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject")
	rootCmd.AddCommand(tokenCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("upstream-base-url", defaults.GetString("upstream.base_url"), "Upstream catalog API base URL")
	cmd.PersistentFlags().Int("upstream-timeout-seconds", defaults.GetInt("upstream.timeout_s"), "Upstream request timeout in seconds")
	cmd.PersistentFlags().Int("cache-ttl-minutes", defaults.GetInt("cache.ttl_minutes"), "Staleness window in minutes")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("page.size"), "Default page size")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("admin-signing-secret", "", "Admin token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "upstream.base_url", "upstream-base-url")
	bindFlag(cmd, "upstream.timeout_s", "upstream-timeout-seconds")
	bindFlag(cmd, "cache.ttl_minutes", "cache-ttl-minutes")
	bindFlag(cmd, "page.size", "page-size")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "admin.signing_secret", "admin-signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func mintToken(cmd *cobra.Command) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if appConfig.AdminSigningSecret == "" {
		return errors.New("admin.signing_secret is required to mint tokens")
	}

	tokens := auth.NewAdminTokens(auth.AdminTokensConfig{
		SigningSecret: []byte(appConfig.AdminSigningSecret),
	})
	token, expiresIn, err := tokens.Issue(tokenSubject)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires in %ds\n", token, expiresIn)
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	remoteClient, err := remote.NewClient(remote.ClientConfig{
		BaseURL: appConfig.UpstreamBaseURL,
		Timeout: appConfig.UpstreamTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	dispatcher := paging.NewDispatcher()

	registry, err := origin.NewRegistry(db)
	if err != nil {
		return err
	}
	cursors, err := origin.NewCursorStore(db)
	if err != nil {
		return err
	}

	quoteMembers, err := origin.NewMembershipIndex(db, origin.MembershipConfig{
		JoinTable:       origin.QuoteEdge{}.TableName(),
		KeyColumn:       "quote_id",
		EntityTable:     catalog.Quote{}.TableName(),
		EntityKeyColumn: "quote_id",
	})
	if err != nil {
		return err
	}
	authorMembers, err := origin.NewMembershipIndex(db, origin.MembershipConfig{
		JoinTable:       origin.AuthorEdge{}.TableName(),
		KeyColumn:       "author_slug",
		EntityTable:     catalog.Author{}.TableName(),
		EntityKeyColumn: "slug",
	})
	if err != nil {
		return err
	}
	tagMembers, err := origin.NewMembershipIndex(db, origin.MembershipConfig{
		JoinTable:       origin.TagEdge{}.TableName(),
		KeyColumn:       "tag_name",
		EntityTable:     catalog.Tag{}.TableName(),
		EntityKeyColumn: "name",
	})
	if err != nil {
		return err
	}

	quoteStore, err := catalog.NewStore[catalog.Quote](db, "quote_id")
	if err != nil {
		return err
	}
	authorStore, err := catalog.NewStore[catalog.Author](db, "slug")
	if err != nil {
		return err
	}
	tagStore, err := catalog.NewStore[catalog.Tag](db, "name")
	if err != nil {
		return err
	}

	quoteEngine, err := paging.NewEngine(paging.EngineConfig[remote.QuoteDTO, catalog.Quote]{
		Database:   db,
		Registry:   registry,
		Cursors:    cursors,
		Members:    quoteMembers,
		Store:      quoteStore,
		Fetchers:   remote.NewQuoteFetchers(remoteClient),
		Convert:    remote.ConvertQuotes,
		Dispatcher: dispatcher,
		Section:    "quotes",
		Clock:      time.Now,
		CacheTTL:   appConfig.CacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	authorEngine, err := paging.NewEngine(paging.EngineConfig[remote.AuthorDTO, catalog.Author]{
		Database:   db,
		Registry:   registry,
		Cursors:    cursors,
		Members:    authorMembers,
		Store:      authorStore,
		Fetchers:   remote.NewAuthorFetchers(remoteClient),
		Convert:    remote.ConvertAuthors,
		Dispatcher: dispatcher,
		Section:    "authors",
		Clock:      time.Now,
		CacheTTL:   appConfig.CacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	tagEngine, err := paging.NewEngine(paging.EngineConfig[remote.TagDTO, catalog.Tag]{
		Database:   db,
		Registry:   registry,
		Cursors:    cursors,
		Members:    tagMembers,
		Store:      tagStore,
		Fetchers:   remote.NewTagFetchers(remoteClient),
		Convert:    remote.ConvertTags,
		Dispatcher: dispatcher,
		Section:    "tags",
		Clock:      time.Now,
		CacheTTL:   appConfig.CacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	quoteReads, err := newReadModel[catalog.Quote](registry, quoteMembers, dispatcher, origin.OrderSpec{Column: "quote_id"})
	if err != nil {
		return err
	}
	authorReads, err := newReadModel[catalog.Author](registry, authorMembers, dispatcher, origin.OrderSpec{Column: "quote_count", Descending: true})
	if err != nil {
		return err
	}
	tagReads, err := newReadModel[catalog.Tag](registry, tagMembers, dispatcher, origin.OrderSpec{Column: "name"})
	if err != nil {
		return err
	}

	var adminTokens server.AdminTokenValidator
	if appConfig.AdminSigningSecret != "" {
		adminTokens = auth.NewAdminTokens(auth.AdminTokensConfig{
			SigningSecret: []byte(appConfig.AdminSigningSecret),
		})
	} else {
		logger.Warn("admin signing secret not set, admin routes disabled")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		QuoteEngine:  quoteEngine,
		AuthorEngine: authorEngine,
		TagEngine:    tagEngine,
		QuoteReads:   quoteReads,
		AuthorReads:  authorReads,
		TagReads:     tagReads,
		QuoteStore:   quoteStore,
		AuthorStore:  authorStore,
		Remote:       remoteClient,
		Dispatcher:   dispatcher,
		AdminTokens:  adminTokens,
		PageSize:     appConfig.PageSize,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newReadModel[E catalog.Entity](registry *origin.Registry, members *origin.MembershipIndex, dispatcher *paging.Dispatcher, order origin.OrderSpec) (*paging.ReadModel[E], error) {
	return paging.NewReadModel[E](paging.ReadModelConfig{
		Registry:   registry,
		Members:    members,
		Dispatcher: dispatcher,
		Order:      order,
	})
}
