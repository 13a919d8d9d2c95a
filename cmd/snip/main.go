package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/httplog/v2"
	"github.com/vadimbarashkov/snip/internal/config"
	"github.com/vadimbarashkov/snip/internal/database/memory"
	"github.com/vadimbarashkov/snip/internal/database/postgres"
	"github.com/vadimbarashkov/snip/internal/service"
	"golang.org/x/sync/errgroup"

	myhttp "github.com/vadimbarashkov/snip/internal/api/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	logger := httplog.NewLogger("snip", httplog.Options{
		JSON:    cfg.Env == config.EnvProd,
		Concise: cfg.Env != config.EnvProd,
	})

	g, ctx := errgroup.WithContext(ctx)

	var linkRepo service.LinkRepository
	if cfg.Postgres.DB != "" {
		db, err := postgres.New(
			ctx,
			cfg.Postgres.DSN(),
			postgres.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
			postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
			postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
			postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return db.Close()
		})

		if err := postgres.RunMigrations(cfg.Postgres.MigrationsPath, cfg.Postgres.DSN()); err != nil {
			return err
		}

		linkRepo = postgres.NewLinkRepository(db)
	} else {
		logger.Warn("no postgres database configured, using in-memory store")
		linkRepo = memory.NewLinkStore()
	}

	gen := service.NewCodeGenerator(cfg.ShortCodeLength)
	linkSvc := service.NewLinkService(linkRepo, gen, logger.Logger, cfg.BaseURL)
	auth := service.NewAuth(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	r := myhttp.NewRouter(logger, linkSvc, auth, cfg.RateLimit)

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        r,
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		logger.Info("server started", slog.String("addr", server.Addr))

		var err error
		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	return g.Wait()
}
