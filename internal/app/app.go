// Package app assembles the chat server from its configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/nikhil/eavenchat/internal/blob"
	"github.com/nikhil/eavenchat/internal/config"
	"github.com/nikhil/eavenchat/internal/database"
	"github.com/nikhil/eavenchat/internal/directory"
	"github.com/nikhil/eavenchat/internal/handlers"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/realtime"
	"github.com/nikhil/eavenchat/internal/repository"
	"github.com/nikhil/eavenchat/internal/routes"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
	messageService "github.com/nikhil/eavenchat/internal/service/messages"
	"github.com/nikhil/eavenchat/internal/service/policy"
	shareService "github.com/nikhil/eavenchat/internal/service/share"
	unreadService "github.com/nikhil/eavenchat/internal/service/unread"
	profileService "github.com/nikhil/eavenchat/internal/service/users"
)

// Components are the storage backends the services run on.
type Components struct {
	Store     repository.Store
	Directory directory.Directory
	Blobs     *blob.Router
}

// App is a fully wired chat server.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Hub      *realtime.Hub
	Services routes.Services
	Handler  http.Handler

	db    *sql.DB
	relay *realtime.RedisRelay
}

// New opens the database, applies the schema and wires every service.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, dialect, err := database.Open(cfg.DBDriver, cfg.DSN(), log.Named("database"))
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	chatBlobs, err := blob.NewDiskStore(cfg.BlobDir, blob.DomainChat, cfg.BlobBaseURL)
	if err != nil {
		db.Close()
		return nil, err
	}
	projectBlobs, err := blob.NewDiskStore(cfg.BlobDir, blob.DomainProjects, cfg.BlobBaseURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := Assemble(cfg, log, Components{
		Store:     repository.NewSQLStore(db, dialect),
		Directory: directory.NewSQLDirectory(db),
		Blobs:     blob.NewRouter(chatBlobs, projectBlobs),
	})
	a.db = db

	if cfg.RedisURL != "" {
		relay, err := realtime.NewRedisRelay(cfg.RedisURL, a.Hub, log.Named("relay"))
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Hub.SetRelay(relay)
		a.relay = relay
	}
	return a, nil
}

// Assemble wires services and routes over already opened components.
func Assemble(cfg *config.Config, log *logger.Logger, c Components) *App {
	hub := realtime.NewHub(log.Named("hub"))
	resolver := channelService.NewResolver(c.Directory, log.Named("channels"))

	messages := messageService.NewMessageService(c.Store, resolver, c.Directory, hub, log.Named("messages"))
	messages.Policy = policy.Policy{EditWindow: cfg.EditWindow, DeleteWindow: cfg.DeleteWindow}
	messages.MaxAttachmentBytes = cfg.MaxAttachmentBytes
	if c.Blobs != nil {
		messages.Blobs = c.Blobs
	}

	services := routes.Services{
		Auth:      middleware.NewAuth(cfg.JWTSecret),
		Log:       log,
		Channels:  channelService.NewChannelService(resolver, log.Named("channels")),
		Messages:  messages,
		Unread:    unreadService.NewUnreadService(c.Store, resolver, c.Directory, log.Named("unread")),
		Share:     shareService.NewShareService(messages, resolver, c.Blobs, log.Named("share")),
		Profiles:  profileService.NewProfileService(c.Directory, log.Named("profiles")),
		Blobs:     handlers.NewBlobHandler(c.Blobs, cfg.MaxAttachmentBytes, log.Named("blobs")),
		WebSocket: handlers.NewWebSocketHandler(hub, resolver, log.Named("websocket"), originChecker(cfg.AllowedOrigins)),
	}

	return &App{
		Config:   cfg,
		Log:      log,
		Hub:      hub,
		Services: services,
		Handler:  routes.RegisterAllRoutes(services),
	}
}

// Run serves HTTP until ctx is cancelled, then drains connections.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				a.Log.Error("Signal relay stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Server is running", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Log.Info("Shutting down")
	a.Hub.Close()
	return srv.Shutdown(shutdownCtx)
}

// Close releases every external resource.
func (a *App) Close() error {
	var err error
	if a.relay != nil {
		err = multierr.Append(err, a.relay.Close())
	}
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
