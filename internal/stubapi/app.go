// Package stubapi runs the in-process fake of the transcription API as a
// standalone HTTP server for local development of the CLI.
package stubapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/apitest"
	"github.com/dmitrijs2005/medscribe/internal/logging"
	"github.com/dmitrijs2005/medscribe/internal/stubapi/config"
)

const shutdownTimeout = 5 * time.Second

// SeedUser is an account created at startup.
type SeedUser struct {
	Username  string
	Password  string
	Role      string
	TwoFactor bool
}

// DefaultSeedUsers cover each role and one two-factor account.
var DefaultSeedUsers = []SeedUser{
	{Username: "admin", Password: "admin-password", Role: "admin"},
	{Username: "doctor", Password: "doctor-password", Role: "doctor"},
	{Username: "assistant", Password: "assistant-password", Role: "assistant"},
	{Username: "doctor2fa", Password: "doctor-password", Role: "doctor", TwoFactor: true},
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	backend *apitest.Backend
}

func NewApp(c *config.Config, seed []SeedUser) *App {
	logger := logging.New(os.Stdout, c.LogLevel)

	backend := apitest.New(apitest.Options{
		Secret:           []byte(c.SecretKey),
		AccessTTL:        c.AccessTokenValidityDuration,
		RefreshTTL:       c.RefreshTokenValidityDuration,
		SecondFactorCode: c.SecondFactorCode,
		DebugCodes:       c.DebugCodes,
		Logger:           logger,
	})
	for _, u := range seed {
		backend.AddUser(u.Username, u.Password, u.Role, u.TwoFactor)
	}

	return &App{config: c, logger: logger, backend: backend}
}

// Handler exposes the routes served by Run.
func (app *App) Handler() http.Handler {
	return app.backend.Handler()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting stub API...",
		"access_ttl", app.config.AccessTokenValidityDuration.String(),
		"refresh_ttl", app.config.RefreshTokenValidityDuration.String(),
	)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()
}
