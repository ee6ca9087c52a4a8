// Command server runs the verification and anonymous messaging API.
//
// main wires stores, services, and the HTTP router, then owns the process
// lifecycle. Business logic lives in the internal service packages.
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

	"golang.org/x/sync/errgroup"

	"vouch/internal/gateway"
	"vouch/internal/identity"
	identitycache "vouch/internal/identity/cache"
	identitymem "vouch/internal/identity/store/memory"
	identitypg "vouch/internal/identity/store/postgres"
	identityservice "vouch/internal/identity/service"
	jwttoken "vouch/internal/jwt_token"
	"vouch/internal/messaging"
	messagingmem "vouch/internal/messaging/store/memory"
	messagingpg "vouch/internal/messaging/store/postgres"
	messagingservice "vouch/internal/messaging/service"
	"vouch/internal/platform/config"
	"vouch/internal/platform/httpserver"
	"vouch/internal/platform/logger"
	"vouch/internal/platform/metrics"
	"vouch/internal/platform/postgres"
	platformredis "vouch/internal/platform/redis"
	"vouch/internal/ratelimit"
	"vouch/internal/slots"
	slotsmem "vouch/internal/slots/store/memory"
	slotspg "vouch/internal/slots/store/postgres"
	slotsservice "vouch/internal/slots/service"
	httptransport "vouch/internal/transport/http"
	"vouch/internal/verification"
	verificationmem "vouch/internal/verification/store/memory"
	verificationpg "vouch/internal/verification/store/postgres"
	verificationservice "vouch/internal/verification/service"
	id "vouch/pkg/domain"
	auditpub "vouch/pkg/platform/audit/publisher"
	auditkafka "vouch/pkg/platform/audit/publishers/kafka"
	auditmem "vouch/pkg/platform/audit/store/memory"
	"vouch/pkg/requestcontext"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	stores, health, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	publisher, err := buildAuditPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// The admin capability arrives with the validated token; the service
	// only re-reads it from the request context.
	adminChecker := verificationservice.AdminCheckerFunc(
		func(ctx context.Context, _ id.UserID) (bool, error) {
			return requestcontext.IsAdmin(ctx), nil
		})

	verificationSvc, err := verificationservice.New(stores.statuses, stores.referrals, adminChecker,
		verificationservice.WithLogger(log),
		verificationservice.WithAuditPublisher(publisher),
		verificationservice.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build verification service: %w", err)
	}

	slotSvc, err := slotsservice.New(stores.categories, stores.ledger,
		slotsservice.WithLogger(log),
		slotsservice.WithAuditPublisher(publisher),
		slotsservice.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build slot service: %w", err)
	}
	if err := slotSvc.SeedSystemCategories(ctx); err != nil {
		return fmt.Errorf("seed system categories: %w", err)
	}

	messagingSvc, err := messagingservice.New(stores.messages,
		messagingservice.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("build messaging service: %w", err)
	}

	identityOpts := []identityservice.Option{
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(publisher),
		identityservice.WithMetrics(m),
	}
	if redisClient != nil {
		identityOpts = append(identityOpts, identityservice.WithPersonaCache(identitycache.NewPersonaCache(redisClient)))
	}
	identitySvc, err := identityservice.New(stores.personas, stores.revelations, messagingSvc, identityOpts...)
	if err != nil {
		return fmt.Errorf("build identity service: %w", err)
	}

	gatewaySvc, err := gateway.New(verificationSvc, slotSvc, messagingSvc, identitySvc,
		gateway.WithLogger(log),
		gateway.WithAuditPublisher(publisher),
		gateway.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		limiter := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		rateLimit = ratelimit.NewMiddleware(limiter, log).Limit
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "vouch")
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:       log,
		JWTValidator: jwttoken.NewMiddlewareAdapter(jwtService),
		Messaging:    httptransport.NewMessagingHandler(gatewaySvc, messagingSvc, identitySvc, log),
		Verification: httptransport.NewVerificationHandler(verificationSvc, log),
		Slots:        httptransport.NewSlotHandler(slotSvc, log),
		Identity:     httptransport.NewIdentityHandler(identitySvc, log),
		Health: func() error {
			if err := health(); err != nil {
				return err
			}
			if redisClient != nil {
				return redisClient.Health(context.Background())
			}
			return nil
		},
		RateLimit: rateLimit,
	})

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting server", "addr", cfg.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type storeSet struct {
	statuses    verification.StatusStore
	referrals   verification.ReferralStore
	categories  slots.CategoryStore
	ledger      slots.LedgerStore
	messages    messaging.Store
	personas    identity.PersonaStore
	revelations identity.RevelationStore
}

// buildStores selects Postgres stores when a database URL is configured and
// in-memory stores otherwise.
func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (storeSet, func() error, func(), error) {
	noHealth := func() error { return nil }

	if cfg.DatabaseURL == "" {
		log.Info("no database configured, using in-memory stores")
		return storeSet{
			statuses:    verificationmem.NewStatusStore(),
			referrals:   verificationmem.NewReferralStore(),
			categories:  slotsmem.NewCategoryStore(),
			ledger:      slotsmem.NewLedgerStore(),
			messages:    messagingmem.NewStore(),
			personas:    identitymem.NewPersonaStore(),
			revelations: identitymem.NewRevelationStore(),
		}, noHealth, func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return storeSet{}, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	health := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}
	return storeSet{
		statuses:    verificationpg.NewStatusStore(pool),
		referrals:   verificationpg.NewReferralStore(pool),
		categories:  slotspg.NewCategoryStore(pool),
		ledger:      slotspg.NewLedgerStore(pool),
		messages:    messagingpg.NewStore(pool),
		personas:    identitypg.NewPersonaStore(pool),
		revelations: identitypg.NewRevelationStore(pool),
	}, health, pool.Close, nil
}

// buildAuditPublisher assembles the audit pipeline: in-memory store for
// queries, optional async buffering, optional Kafka fan-out.
func buildAuditPublisher(cfg config.Config, log *slog.Logger) (*auditpub.Publisher, error) {
	var opts []auditpub.Option
	if cfg.AuditBuffer > 0 {
		opts = append(opts, auditpub.WithAsyncBuffer(cfg.AuditBuffer))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := auditkafka.New(cfg.KafkaBrokers,
			auditkafka.WithTopic(cfg.AuditTopic),
			auditkafka.WithLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("connect kafka audit sink: %w", err)
		}
		opts = append(opts, auditpub.WithSink(sink))
	}
	return auditpub.NewPublisher(auditmem.NewInMemoryStore(), opts...), nil
}
