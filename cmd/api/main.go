package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/cmd/api/api"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/cmd/config"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/agent"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/cdp"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/coordinator"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/hub"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/kvstore"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/logger"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/override"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/supervisor"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/tabsession"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/urlpolicy"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	config, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("server configuration", "config", config)

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, slogger); err != nil {
		slogger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *config.Config, slogger *slog.Logger) error {
	kv, err := kvstore.Open(ctx, config.StoreURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	policy, err := urlpolicy.Load(config.URLPolicyFile, slogger)
	if err != nil {
		return fmt.Errorf("load url policy: %w", err)
	}

	// Resolve the browser's DevTools endpoint
	upstream := cdp.NewUpstream(config.CDPHTTPAddr, slogger)
	wsURL := config.CDPURL
	if wsURL == "" {
		wsURL, err = upstream.Resolve(ctx)
		if err != nil {
			return err
		}
		upstream.Start(ctx)
		defer upstream.Stop()
	}
	slogger.Info("devtools upstream", "url", wsURL)

	conn, err := cdp.Dial(ctx, wsURL, slogger, cdp.WithMessageLogging(config.LogCDPMessages))
	if err != nil {
		return err
	}
	defer conn.Close()

	browser := cdp.NewBrowser(conn, slogger)
	if err := browser.Start(ctx); err != nil {
		return err
	}
	injector := cdp.NewInjector(conn, browser, policy, config.ModifierKey, slogger)

	b := bus.New(slogger)
	sessionCfg := tabsession.Config{
		SampleInterval: config.SampleInterval,
		SuppressWindow: config.SuppressWindow,
		TextWindow:     config.TextMatchWindow,
		ModifierKey:    config.ModifierKey,
	}
	tabAgent := agent.New(b, browser, agent.FromInjector(injector), conn, override.NewStore(kv), nil, sessionCfg, slogger)
	sup := supervisor.New(tabAgent, tabAgent, config.ConnectTimeout, slogger)

	client := coordinator.NewClient(b, config.StopTimeout, slogger)
	wsHub := hub.New(client, slogger)
	coord := coordinator.New(b, sup, kv, coordinator.Options{
		Retention: config.InactiveRetention,
		Observer:  wsHub,
	}, slogger)

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxWithLogger := logger.AddToContext(r.Context(), slogger)
				next.ServeHTTP(w, r.WithContext(ctxWithLogger))
			})
		},
	)
	api.New(client, browser, policy).Routes(r)
	r.Handle("/ws", wsHub)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := coord.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		return tabAgent.Run(gctx)
	})
	g.Go(func() error {
		return policy.Watch(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-conn.Done():
			return errors.New("browser connection closed")
		}
	})
	if config.CDPURL == "" {
		g.Go(func() error {
			return watchUpstream(gctx, upstream, wsURL)
		})
	}
	g.Go(func() error {
		slogger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slogger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	<-coord.Done()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// watchUpstream fails when the browser's DevTools URL changes, which means
// the browser restarted and every attached session is gone.
func watchUpstream(ctx context.Context, upstream *cdp.Upstream, dialed string) error {
	updates, cancel := upstream.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case url, ok := <-updates:
			if !ok {
				return nil
			}
			if url != "" && url != dialed {
				return fmt.Errorf("devtools upstream changed to %s", url)
			}
		}
	}
}
