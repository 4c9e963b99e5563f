package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/config"
	"github.com/oksasatya/pix-license-api/internal/application"
	"github.com/oksasatya/pix-license-api/internal/domain/repository"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/audit"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/memory"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/metrics"
	pginfra "github.com/oksasatya/pix-license-api/internal/infrastructure/postgres"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/realtime"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/session"
	"github.com/oksasatya/pix-license-api/pkg/abacatepay"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/mailer/templates"
)

// Container holds the constructed components shared by the API process and
// the workers. Build fills it from config; tests assemble one by hand.
type Container struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Redis   *redis.Client
	JWT     *helpers.JWTManager
	Metrics *metrics.Metrics

	Users    repository.UserRepository
	Payments repository.PaymentRepository

	OnboardingQueue *helpers.WorkQueue
	EmailQueue      *helpers.WorkQueue

	Sessions   application.SessionStore
	Subscriber realtime.Subscriber

	Onboarding *application.OnboardingService
	Payment    *application.PaymentService
	License    *application.LicenseService

	closers []func()
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Container) onClose(fn func()) { c.closers = append(c.closers, fn) }

// OnboardingTopology is the queue layout shared by the API and the onboarding worker.
func OnboardingTopology(cfg *config.Config) helpers.QueueTopology {
	return helpers.QueueTopology{
		Queue:              cfg.RabbitMQOnboardingQueue,
		DeadLetterExchange: cfg.RabbitMQDeadLetterExchange,
		HoldingQueue:       cfg.RabbitMQDeadLetterQueue,
		ParkingQueue:       cfg.RabbitMQParkingQueue,
		RetryTTL:           cfg.RabbitMQRetryTTL,
		MaxRedeliveries:    cfg.RabbitMQMaxRedeliveries,
		Prefetch:           cfg.RabbitMQPrefetch,
	}
}

// EmailTopology derives the email queue's retry and parking queues from its name.
func EmailTopology(cfg *config.Config) helpers.QueueTopology {
	q := cfg.RabbitMQEmailQueue
	return helpers.QueueTopology{
		Queue:              q,
		DeadLetterExchange: q + ".dlx",
		HoldingQueue:       q + ".retry",
		ParkingQueue:       q + ".parking",
		RetryTTL:           cfg.RabbitMQRetryTTL,
		MaxRedeliveries:    cfg.RabbitMQMaxRedeliveries,
		Prefetch:           cfg.RabbitMQPrefetch,
	}
}

// Build connects the infrastructure named by cfg and wires the services.
// subsystem labels the Prometheus metrics of the calling process.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger, subsystem string) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		JWT:     helpers.NewJWTManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTTL, cfg.RefreshTTL),
		Metrics: metrics.New(subsystem),
	}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if err := c.buildStore(ctx); err != nil {
		return nil, err
	}

	rdb := helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	c.onClose(func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("redis: %w", err)
		}
		logger.WithError(err).Warn("redis unreachable, using in-process sessions and push")
	} else {
		c.Redis = rdb
	}

	var notifier application.Notifier
	if c.Redis != nil {
		rn := realtime.NewRedisNotifier(c.Redis, logger)
		notifier, c.Subscriber = rn, rn
		c.Sessions = session.NewRedisStore(c.Redis)
	} else {
		hub := realtime.NewHub()
		notifier, c.Subscriber = hub, hub
		c.Sessions = session.NewMemoryStore()
	}

	c.OnboardingQueue = helpers.NewWorkQueue(cfg.RabbitMQURL, OnboardingTopology(cfg), logger)
	c.onClose(func() { _ = c.OnboardingQueue.Close() })
	c.EmailQueue = helpers.NewWorkQueue(cfg.RabbitMQURL, EmailTopology(cfg), logger)
	c.onClose(func() { _ = c.EmailQueue.Close() })
	var mail application.Queue
	if cfg.MailSendEnabled {
		mail = c.EmailQueue
	}

	provider := abacatepay.NewClient(abacatepay.Options{
		BaseURL:         cfg.AbacatePayBaseURL,
		APIKey:          cfg.AbacatePayAPIKey,
		Timeout:         cfg.AbacatePayTimeout,
		AllowSimulation: cfg.IsDevelopment(),
		Logger:          logger,
	})

	licenses, err := helpers.LoadLicenseManager(cfg.LicensePrivateKeyPath, cfg.LicensePublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("license keys: %w", err)
	}
	hasher, err := helpers.NewPasswordHasher([]byte(cfg.PasswordSecret()))
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	var store helpers.ObjectStore
	if cfg.GCSBucket != "" {
		gcs, err := helpers.NewGCSClient(ctx, cfg.GCSCredentialsJSONPath)
		if err != nil {
			return nil, fmt.Errorf("gcs: %w", err)
		}
		c.onClose(func() { _ = gcs.Close() })
		store = helpers.NewGCSStore(gcs, cfg.GCSBucket)
	}

	var auditLog application.AuditLog = audit.NewMemoryLog()
	if addrs := cfg.ESAddrs(); len(addrs) > 0 {
		es, err := helpers.NewESClient(addrs, cfg.ElasticsearchUser, cfg.ElasticsearchPass)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch: %w", err)
		}
		if err := helpers.EnsureIndex(ctx, es, cfg.ESPaymentEventsIndex, audit.Mapping); err != nil {
			if !cfg.IsDevelopment() {
				return nil, fmt.Errorf("elasticsearch: %w", err)
			}
			logger.WithError(err).Warn("payment event index unavailable, audit writes may fail")
		}
		auditLog = audit.NewESLog(es, cfg.ESPaymentEventsIndex)
	}

	settings := application.Settings{
		LicensePrice:        cfg.LicensePrice,
		LicenseDays:         cfg.LicenseDays,
		PixExpiresInMinutes: cfg.PixExpiresInMinutes,
		AllowSimulation:     cfg.IsDevelopment(),
		Branding: templates.Branding{
			AppName:     cfg.AppName,
			CompanyName: cfg.CompanyName,
			SupportURL:  cfg.SupportURL,
		},
	}

	c.Onboarding = application.NewOnboardingService(application.OnboardingService{
		Users:    c.Users,
		Payments: c.Payments,
		Queue:    c.OnboardingQueue,
		Mail:     mail,
		Provider: provider,
		Notifier: notifier,
		Store:    store,
		Hasher:   hasher,
		Metrics:  c.Metrics,
		Settings: settings,
		Logger:   logger,
	})
	c.Payment = application.NewPaymentService(application.PaymentService{
		Users:    c.Users,
		Payments: c.Payments,
		Licenses: licenses,
		Provider: provider,
		Notifier: notifier,
		Mail:     mail,
		Audit:    auditLog,
		Metrics:  c.Metrics,
		Settings: settings,
		Logger:   logger,
	})
	c.License = application.NewLicenseService(application.LicenseService{
		Users:    c.Users,
		Licenses: licenses,
		Hasher:   hasher,
		JWT:      c.JWT,
		Sessions: c.Sessions,
		Renewer:  c.Onboarding,
		Logger:   logger,
	})

	ok = true
	return c, nil
}

func (c *Container) buildStore(ctx context.Context) error {
	cfg := c.Config
	switch cfg.StoreDriver {
	case "memory":
		c.Logger.Warn("STORE_DRIVER=memory, data is lost on restart")
		c.Users = memory.NewUserRepository()
		c.Payments = memory.NewPaymentRepository()
		return nil
	case "postgres":
		if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, c.Logger); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := pginfra.NewPool(ctx, pginfra.PoolOptions{
			DSN:         cfg.PostgresDSN(),
			AppName:     cfg.AppName,
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
			MaxConnLife: cfg.DBMaxConnLife,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.onClose(pool.Close)
		c.setPool(pool)
		return nil
	default:
		return errors.New("unknown STORE_DRIVER " + cfg.StoreDriver)
	}
}

func (c *Container) setPool(pool *pgxpool.Pool) {
	c.Users = pginfra.NewUserRepository(pool)
	c.Payments = pginfra.NewPaymentRepository(pool)
}
