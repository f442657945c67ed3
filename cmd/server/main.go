// yanote server: personal notes web application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kuitang/yanote/internal/api"
	"github.com/kuitang/yanote/internal/app"
	"github.com/kuitang/yanote/internal/auth"
	"github.com/kuitang/yanote/internal/config"
	"github.com/kuitang/yanote/internal/obs"
	"github.com/kuitang/yanote/internal/ratelimit"
	"github.com/kuitang/yanote/internal/web"
)

const (
	shutdownTimeout        = 15 * time.Second
	sessionCleanupInterval = time.Hour
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "yanote: %v\n", err)
		os.Exit(1)
	}
}

// run starts the server and blocks until ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return err
	}
	obs.Init(obs.ParseLevel(cfg.LogLevel))
	cfg.PrintStartupSummary(stdout)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	return serve(ctx, cfg, ln)
}

// server is the running site plus its background loops.
type server struct {
	app     *app.App
	limiter *ratelimit.RateLimiter
	handler http.Handler
	wg      sync.WaitGroup
}

func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	a, err := app.New(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	renderer, err := web.NewRenderer(web.Templates())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	authMiddleware := auth.NewMiddleware(a.Sessions, a.Users, web.MustReverse(web.RouteLogin))
	site := web.NewWebHandler(renderer, a.Notes, a.Users, a.Sessions, authMiddleware, limiter, cfg.BaseURL)

	return &server{
		app:     a,
		limiter: limiter,
		handler: site.Routes(auth.NewHandler(a.Users, a.Sessions), api.NewHandler(a.Notes)),
	}, nil
}

// startBackground launches session cleanup and, when enabled, backups.
func (s *server) startBackground(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := s.app.Sessions.Cleanup(ctx)
				if err != nil {
					obs.Pkg("server").Error("session_cleanup_failed", "error", err)
					continue
				}
				obs.Pkg("server").Info("session_cleanup", "removed", n)
			case <-ctx.Done():
				return
			}
		}
	}()

	if s.app.Backups != nil {
		s.app.Backups.Start(ctx, s.app.Config.BackupInterval)
	}
}

func (s *server) close() {
	s.wg.Wait()
	s.limiter.Stop()
	if err := s.app.Close(); err != nil {
		obs.Pkg("server").Error("close_failed", "error", err)
	}
}

// serve runs the site on ln until ctx is cancelled, then drains requests.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	s, err := newServer(ctx, cfg)
	if err != nil {
		ln.Close()
		return err
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	s.startBackground(bgCtx)
	defer func() {
		cancelBg()
		s.close()
	}()

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	logger := obs.Pkg("server")
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", ln.Addr().String(), "base_url", cfg.BaseURL)
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server_shutdown_started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server_shutdown_complete")
	return nil
}
