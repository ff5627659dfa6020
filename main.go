package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"termmux/config"
	"termmux/gitsvc"
	"termmux/handlers"
	"termmux/logging"
	authmw "termmux/middleware"
	"termmux/pathutil"
	"termmux/persist"
	"termmux/pty"
	"termmux/session"
	"termmux/ssh"
	"termmux/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present; the desktop shell normally passes everything
	// through the environment.
	godotenv.Load()

	cfg := config.Get()

	cleanup, err := logging.InitSentry(logging.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: "desktop",
	})
	if err != nil {
		logging.Default().Error("sentry init failed", "error", err)
	} else {
		defer cleanup()
	}
	log := logging.Init()

	ctx := context.Background()

	db, err := persist.Open(ctx, filepath.Join(cfg.StateDir, "state.db"), log)
	if err != nil {
		log.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ptys := pty.NewManager(cfg.Shell)
	sshClient := ssh.NewClient(cfg.SSHUser, cfg.SSHKeyPath)
	sessions := session.NewManager(ptys, sshClient, gitsvc.NewLocalService(), log)

	st := store.New(store.Config{
		DebounceWindow: cfg.DebounceWindow,
		Retry: store.RetryPolicy{
			BaseDelay:   cfg.ReconnectBase,
			Multiplier:  1.5,
			MaxAttempts: cfg.ReconnectAttempts,
		},
	}, store.Deps{
		Sessions: sessions,
		Resolver: localResolver{},
		Git:      sessions,
		Recents:  db,
		Log:      log,
	})

	sessions.OnDirectory = func(paneID, rawDir string) {
		if tabID, ok := st.TabForPane(paneID); ok {
			st.ReportDirectory(tabID, rawDir, paneID)
		}
	}
	sessions.OnExit = st.HandlePaneExit
	sessions.OnDisconnect = st.HandleDisconnect

	if ws, err := db.LoadWorkspace(ctx); err == nil {
		st.Restore(ws)
	} else if !errors.Is(err, persist.ErrNoWorkspace) {
		log.Warn("could not load workspace", "error", err)
	}

	broker := handlers.NewEventBroker(log)
	go broker.Run(st.Events())

	secret := cfg.AuthSecret
	if secret == "" {
		secret = uuid.New().String()
		log.Warn("TERMMUX_AUTH_SECRET not set, using an ephemeral secret")
	}
	authMiddleware := authmw.NewAuthMiddleware(secret)

	tabHandler := handlers.NewTabHandler(st)
	recentsHandler := handlers.NewRecentsHandler(db)
	shellsHandler := &handlers.ShellsHandler{}
	eventsHandler := handlers.NewEventsHandler(broker, log)
	paneIOHandler := handlers.NewPaneIOHandler(sessions, log)

	// WebSocket endpoints carry their token in the subprotocol and
	// authenticate themselves.
	wsAuth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := authmw.ExtractTokenFromRequest(r)
			if _, err := authMiddleware.ValidateToken(token); err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.RequestLogger(log))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Use(chimw.Timeout(60 * time.Second))

		r.Route("/tabs", func(r chi.Router) {
			r.Get("/", tabHandler.ListTabs)
			r.Post("/local", tabHandler.OpenLocal)
			r.Post("/remote", tabHandler.OpenRemote)
			r.Get("/{id}", tabHandler.GetTab)
			r.Delete("/{id}", tabHandler.CloseTab)
			r.Post("/{id}/activate", tabHandler.ActivateTab)
			r.Post("/{id}/panel", tabHandler.SetPanel)
			r.Post("/{id}/reconnect/cancel", tabHandler.CancelReconnect)
			r.Post("/{id}/panes/{paneID}/split", tabHandler.SplitPane)
			r.Delete("/{id}/panes/{paneID}", tabHandler.ClosePane)
			r.Post("/{id}/panes/{paneID}/primary", tabHandler.SetPrimaryPane)
			r.Post("/{id}/panes/{paneID}/focus", tabHandler.FocusPane)
		})

		r.Get("/recents", recentsHandler.ListRecents)
		r.Delete("/recents", recentsHandler.RemoveRecent)
		r.Get("/shells", shellsHandler.ListShells)
	})

	r.Get("/events", wsAuth(eventsHandler.HandleEvents))
	r.Get("/panes/{paneID}/io", wsAuth(paneIOHandler.HandlePane))

	server := &http.Server{
		Addr:    "127.0.0.1:" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info("daemon listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.SaveWorkspace(saveCtx, st.Snapshot()); err != nil {
		log.Error("could not save workspace", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown was not clean", "error", err)
	}
}

// localResolver normalizes directory strings reported by local shells.
type localResolver struct{}

func (localResolver) Abs(raw string) (string, error) {
	return pathutil.ResolveLocal(raw)
}
