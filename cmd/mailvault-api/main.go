package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"mailvault.org/internal/access"
	"mailvault.org/internal/auth"
	"mailvault.org/internal/config"
	"mailvault.org/internal/directory"
	"mailvault.org/internal/httpapi"
	"mailvault.org/internal/ledger"
	"mailvault.org/internal/mfa"
	"mailvault.org/internal/obs"
	"mailvault.org/internal/store/badgerstore"
	"mailvault.org/internal/store/pg"
	"mailvault.org/internal/stream"
)

var (
	version = "dev"
	commit  = "none"
)

const healthInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailvault-api: %v\n", err)
		os.Exit(1)
	}
	obs.InitLogger(obs.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg); err != nil {
		obs.Logger().Fatal().Err(err).Msg("mailvault-api stopped")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := obs.Logger()

	var (
		dir   directory.Store     = directory.NewMemory()
		creds mfa.CredentialStore = mfa.NewMemoryStore()
		ready httpapi.Readiness   = httpapi.ReadyFunc(nil)
		db    *pg.Store
	)
	if cfg.Database.DSN != "" {
		var err error
		db, err = pg.Open(cfg.Database.DSN, pg.Pool{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		dir, creds, ready = db, db.Credentials(), httpapi.ReadyFunc(db.Ping)
	} else {
		log.Warn().Msg("database.dsn not set; directory and MFA credentials are in memory and start empty")
	}

	store, closeStore, err := openLedger(cfg.Ledger, db)
	if err != nil {
		return err
	}
	defer closeStore()

	sealer, err := mfa.NewAgeSealer(cfg.MFA.SealingIdentity)
	if err != nil {
		return fmt.Errorf("mfa sealing identity: %w", err)
	}
	mfaSvc, err := mfa.NewService(creds, sealer, cfg.MFA.Issuer)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.Token.SigningKey,
		auth.WithIssuer(cfg.Token.Issuer),
		auth.WithAudience(cfg.Token.Audience),
		auth.WithTokenTTL(cfg.Token.TTL),
	)
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(dir, tokens, mfaSvc,
		auth.WithStepUpRoles(cfg.MFA.StepUpRoles),
		auth.WithMFASessionTTL(cfg.MFA.SessionTTL),
	)
	if err != nil {
		return err
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	feed := stream.New(0)
	api := httpapi.New(httpapi.Deps{
		Auth:      authSvc,
		Guard:     auth.NewGuard(tokens, authSvc),
		MFA:       mfaSvc,
		Access:    access.NewResolver(dir),
		Directory: dir,
		Ledger:    ledger.NewChain(store, ledger.WithObserver(feed.Publish)),
		Feed:      feed,
		Ready:     ready,
		Version:   version,
	},
		httpapi.WithRateLimit(cfg.Server.RateBurst, float64(cfg.Server.RatePerSecond)),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		httpapi.WithTrustedProxies(proxies),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var (
		grpcSrv *grpc.Server
		grpcLis net.Listener
	)
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("ledger", cfg.Ledger.Backend).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if grpcSrv != nil {
		health := httpapi.NewHealthReporter(ready)
		health.Register(grpcSrv)
		g.Go(func() error {
			health.Run(gctx, healthInterval)
			health.Shutdown()
			return nil
		})
		g.Go(func() error {
			log.Info().Str("addr", grpcLis.Addr().String()).Msg("grpc health listening")
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

// openLedger returns the configured audit store and a func releasing it.
func openLedger(cfg config.Ledger, db *pg.Store) (ledger.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		if db == nil {
			return nil, nil, errors.New("ledger backend postgres requires database.dsn")
		}
		return db, func() {}, nil
	case "badger":
		s, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				obs.Logger().Error().Err(err).Msg("close badger ledger")
			}
		}, nil
	default:
		obs.Logger().Warn().Msg("ledger backend memory: audit entries are lost on restart")
		return ledger.NewInMemory(), func() {}, nil
	}
}
