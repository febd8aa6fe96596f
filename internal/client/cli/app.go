package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/config"
	"github.com/dmitrijs2005/medscribe/internal/client/metrics"
	"github.com/dmitrijs2005/medscribe/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/medscribe/internal/client/services"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
	"github.com/dmitrijs2005/medscribe/internal/filex"
	"github.com/dmitrijs2005/medscribe/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const pingTimeout = 3 * time.Second

type App struct {
	config         *config.Config
	authService    services.AuthService
	jobService     services.JobService
	profileService services.ProfileService
	log            logging.Logger
	reader         *bufio.Reader
	out            io.Writer

	mu   sync.Mutex
	mode Mode

	db            *sql.DB
	metricsServer *http.Server
}

// NewApp wires local state, the API client, the session manager and the
// services behind the REPL.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	log := logging.New(os.Stderr, c.LogLevel)

	path, err := filex.EnsureParentDir(c.StatePath)
	if err != nil {
		return nil, fmt.Errorf("prepare state dir: %w", err)
	}

	db, err := client.InitDatabase(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("init state database: %w", err)
	}

	jar, err := client.NewPersistentJar(ctx, c.APIBaseURL, metadata.NewSQLiteRepository(db), log)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(reg)

	apiClient, err := client.NewHTTPClient(client.Options{
		BaseURL:   c.APIBaseURL,
		Timeout:   c.RequestTimeout,
		Jar:       jar,
		RateLimit: c.RateLimit,
		RateBurst: c.RateBurst,
		Metrics:   collector,
		Logger:    log,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	manager := session.NewManager(apiClient,
		session.WithGrantStore(jar),
		session.WithMetrics(collector),
		session.WithLogger(log),
	)

	app := &App{
		config:         c,
		authService:    services.NewAuthService(apiClient, manager),
		jobService:     services.NewJobService(apiClient, manager),
		profileService: services.NewProfileService(apiClient, manager),
		log:            log,
		reader:         bufio.NewReader(os.Stdin),
		out:            os.Stdout,
		db:             db,
	}

	if c.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
		app.metricsServer = &http.Server{Addr: c.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	}

	return app, nil
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.log.Info(context.Background(), "connectivity changed", "mode", string(mode))
	}
}

func (a *App) currentMode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Run starts the optional metrics endpoint and blocks in the REPL until the
// user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	defer a.close()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error(ctx, "metrics server stopped", "error", err)
			}
		}()
	}

	a.Root(ctx)
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
	if err := a.authService.Close(ctx); err != nil {
		a.log.Warn(ctx, "close api client", "error", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn(ctx, "close state database", "error", err)
		}
	}
}

func (a *App) isLoggedIn() bool {
	return a.authService.Status().State == session.StateAuthenticated
}

// checkOnline probes the API once and records the resulting mode.
func (a *App) checkOnline(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := a.authService.Ping(ctx)
	cancel()

	if err != nil {
		a.log.Debug(ctx, "health check failed", "error", err)
		a.setMode(ModeOffline)
		return
	}
	a.setMode(ModeOnline)
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}
