package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kadm"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	donationhandler "replate/internal/donation/handler"
	donationmetrics "replate/internal/donation/metrics"
	donationservice "replate/internal/donation/service"
	donationstore "replate/internal/donation/store"
	identityhandler "replate/internal/identity/handler"
	identityservice "replate/internal/identity/service"
	identitystore "replate/internal/identity/store"
	jwttoken "replate/internal/jwt_token"
	"replate/internal/media"
	"replate/internal/payment"
	"replate/internal/platform/config"
	"replate/internal/platform/httpserver"
	"replate/internal/platform/metrics"
	"replate/internal/platform/postgres"
	platformredis "replate/internal/platform/redis"
	id "replate/pkg/domain"
	"replate/pkg/platform/audit"
	"replate/pkg/platform/audit/outbox"
	"replate/pkg/platform/audit/publisher"
	auditmemory "replate/pkg/platform/audit/store/memory"
	auditpostgres "replate/pkg/platform/audit/store/postgres"
	"replate/pkg/platform/circuit"
	"replate/pkg/platform/httputil"
	"replate/pkg/platform/middleware/auth"
	"replate/pkg/platform/middleware/metadata"
	"replate/pkg/platform/middleware/ratelimit"
	request "replate/pkg/platform/middleware/request"
	"replate/pkg/platform/middleware/requesttime"
	txcontext "replate/pkg/platform/tx"
)

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the audit outbox relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a)
		},
	}
}

// persistence is either fully PostgreSQL-backed or fully in memory.
type persistence struct {
	db         *sql.DB
	tx         txcontext.Runner
	auditStore audit.Store
	outbox     *auditpostgres.Store

	donations donationservice.Stores
	accounts  identityservice.AccountStore
	roleReqs  identityservice.RoleRequestStore
}

func openPersistence(ctx context.Context, a *app) (*persistence, error) {
	cfg := a.cfg
	if cfg.Database.URL == "" {
		a.logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
		return &persistence{
			tx:         txcontext.NewSharded(0),
			auditStore: auditmemory.NewInMemoryStore(),
			donations: donationservice.Stores{
				Donations: donationstore.NewInMemoryDonations(),
				Requests:  donationstore.NewInMemoryRequests(),
				Pickups:   donationstore.NewInMemoryPickups(),
				Reviews:   donationstore.NewInMemoryReviews(),
				Favorites: donationstore.NewInMemoryFavorites(),
			},
			accounts: identitystore.NewInMemoryAccounts(),
			roleReqs: identitystore.NewInMemoryRoleRequests(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	outboxStore := auditpostgres.New(db)
	return &persistence{
		db:         db,
		tx:         postgres.NewTxRunner(db, cfg.Donation.TxTimeout),
		auditStore: outboxStore,
		outbox:     outboxStore,
		donations: donationservice.Stores{
			Donations: donationstore.NewPostgresDonations(db),
			Requests:  donationstore.NewPostgresRequests(db),
			Pickups:   donationstore.NewPostgresPickups(db),
			Reviews:   donationstore.NewPostgresReviews(db),
			Favorites: donationstore.NewPostgresFavorites(db),
		},
		accounts: identitystore.NewPostgresAccounts(db),
		roleReqs: identitystore.NewPostgresRoleRequests(db),
	}, nil
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.logger

	p, err := openPersistence(ctx, a)
	if err != nil {
		return err
	}
	if p.db != nil {
		defer p.db.Close()
	}

	cache, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	auditPublisher := publisher.NewPublisher(p.auditStore, publisher.WithLogger(log))
	defer auditPublisher.Close()

	payments, err := paymentProcessor(ctx, cfg.Payment, log)
	if err != nil {
		return err
	}

	var images media.Host = media.NewFake("memory://images")
	if cfg.Media.UploadURL != "" {
		images = media.NewClient(cfg.Media.UploadURL, cfg.Media.APIKey,
			media.WithBreaker(circuit.New("media")),
			media.WithLogger(log),
		)
	}

	identity, err := identityservice.New(p.accounts, p.roleReqs, payments,
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(auditPublisher),
		identityservice.WithTx(p.tx),
		identityservice.WithRoleFee(id.RoleCharity, cfg.Payment.CharityRoleFee, cfg.Payment.Currency),
	)
	if err != nil {
		return fmt.Errorf("identity service: %w", err)
	}
	if cfg.BootstrapAdmin != "" {
		adminID, err := id.ParseAccountID(cfg.BootstrapAdmin)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if err := identity.EnsureAdmin(ctx, adminID, ""); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	donationOpts := []donationservice.Option{
		donationservice.WithLogger(log),
		donationservice.WithAuditPublisher(auditPublisher),
		donationservice.WithTx(p.tx),
		donationservice.WithImageHost(images),
		donationservice.WithDirectory(identity),
		donationservice.WithMetrics(donationmetrics.New(prometheus.DefaultRegisterer)),
		donationservice.WithTracer(otel.Tracer("replate/donation")),
		donationservice.WithLatestLimit(cfg.Donation.LatestRequestCap),
	}
	if cache != nil {
		donationOpts = append(donationOpts, donationservice.WithCache(
			donationstore.NewRedisDonationCache(cache.Client, cfg.Donation.CacheTTL, donationstore.WithCacheLogger(log)),
		))
	}
	donations, err := donationservice.New(p.donations, donationOpts...)
	if err != nil {
		return fmt.Errorf("donation service: %w", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NewInMemoryLimiter()
	if cache != nil {
		limiter = ratelimit.NewRedisLimiter(cache.Client)
	}
	writes := ratelimit.New(limiter, cfg.RateLimit.Writes, cfg.RateLimit.Window, log)

	tokens := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer))
	httpMetrics := metrics.New(prometheus.DefaultRegisterer)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(request.Timeout(cfg.RequestTimeout))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.LatencyMiddleware)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", healthz(p.db, cache))

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(auth.OptionalAuth(tokens, identity, log))
		r.Use(writes.Writes)
		donationhandler.New(donations, log).Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(auth.RequireAuth(tokens, identity, log))
		r.Use(writes.Writes)
		identityhandler.New(identity, log).Register(r)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Addr, r), cfg.ShutdownTimeout, log)
	})

	switch {
	case p.outbox == nil:
	case len(cfg.Kafka.Brokers) == 0:
		log.WarnContext(ctx, "KAFKA_BROKERS not set, audit outbox rows will not be relayed")
	default:
		client, err := outbox.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("kafka client: %w", err)
		}
		defer client.Close()
		if err := outbox.EnsureTopic(ctx, kadm.NewClient(client), cfg.Kafka.Topic, 3, 1); err != nil {
			log.WarnContext(ctx, "audit topic not ensured", "topic", cfg.Kafka.Topic, "error", err)
		}
		relay := outbox.New(p.db, p.outbox, client, cfg.Kafka.Topic,
			outbox.WithLogger(log),
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
			outbox.WithInterval(cfg.Kafka.PollInterval),
		)
		g.Go(func() error { return relay.Run(gctx) })
	}

	return g.Wait()
}

// paymentProcessor selects the processor client. The fake confirms every
// intent, so it is refused while a role carries a fee unless AllowFake is set.
func paymentProcessor(ctx context.Context, cfg config.PaymentConfig, log *slog.Logger) (payment.Processor, error) {
	if cfg.BaseURL != "" {
		return payment.NewClient(cfg.BaseURL, cfg.SecretKey,
			payment.WithBreaker(circuit.New("payment")),
			payment.WithLogger(log),
		), nil
	}
	if cfg.CharityRoleFee > 0 && !cfg.AllowFake {
		return nil, errors.New("PAYMENT_BASE_URL is required while the charity role carries a fee (set PAYMENT_ALLOW_FAKE=true for development)")
	}
	log.WarnContext(ctx, "payment processor not configured, using fake processor that accepts every payment",
		"charity_role_fee", cfg.CharityRoleFee,
	)
	return payment.NewFake(), nil
}

func healthz(db *sql.DB, cache *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status["postgres"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if cache != nil {
			if err := cache.Health(ctx); err != nil {
				status["redis"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if code != http.StatusOK {
			status["status"] = "degraded"
		}
		httputil.WriteJSON(w, code, status)
	}
}
