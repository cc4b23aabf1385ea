// Package boot wires configuration, storage and adapters into a running core.
package boot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"ticketing/src/common"
	"ticketing/src/config"
	"ticketing/src/db"
	"ticketing/src/lib"
	"ticketing/src/lib/mailer"
	"ticketing/src/models"
	"ticketing/src/providers"
	"ticketing/src/repository"
	"ticketing/src/services"
	"ticketing/src/types"
	"ticketing/src/utils"
	"time"

	awslib "ticketing/src/lib/aws"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// App holds everything the HTTP surface and the worker share.
type App struct {
	Config   *config.Config
	Repo     *repository.Repository
	Core     *services.Core
	Registry *providers.Registry
	AWS      *lib.AWSSDKClient

	Events           *repository.CRUD[models.Event]
	TicketTypes      *repository.CRUD[models.TicketType]
	EventPromos      *repository.CRUD[models.EventPromo]
	TicketTypePromos *repository.CRUD[models.TicketTypePromo]
	Notifications    *repository.CRUD[models.Notification]
	Tickets          *repository.CRUD[models.Ticket]

	closers []func()
}

var app *App

func GetApp() *App {
	return app
}

// NewApp replaces the process app, for tests.
func NewApp(a *App) {
	app = a
}

func InitDb(d *gorm.DB) error {
	if err := d.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("error migration: %w", err)
	}
	common.UpdateMissingEventNumbers(d)
	return nil
}

// Init builds the App from cfg. Optional adapters are skipped, with a log
// line, when their configuration is absent.
func Init(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.S3AssetsBucket != "" || cfg.SQSMainQueue != "" || cfg.EmailBackend == "ses" || cfg.AWSSecretID != "" {
		client, err := lib.GetAWSClient(ctx, cfg.AWSIAMRoleARN)
		if err != nil {
			return nil, err
		}
		a.AWS = client
	}
	if cfg.AWSSecretID != "" {
		secrets, err := lib.AWSGetSecrets(ctx, lib.NewSecretsClient(a.AWS), cfg.AWSSecretID)
		if err != nil {
			return nil, err
		}
		cfg.ApplySecrets(secrets)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gdb := db.GetDb()
	if err := InitDb(gdb); err != nil {
		return nil, err
	}
	a.Repo = repository.New(gdb)
	a.InitCRUD()

	a.Registry = initProviders(cfg)

	channels, err := a.initChannels(cfg)
	if err != nil {
		return nil, err
	}
	otpKey, err := utils.DecodeKey(cfg.OTPSecret)
	if err != nil {
		return nil, fmt.Errorf("OTP_SECRET: %w", err)
	}
	signingKey, err := utils.DecodeKey(cfg.TicketSigningKey)
	if err != nil {
		return nil, fmt.Errorf("TICKET_SIGNING_KEY: %w", err)
	}
	core, err := services.NewCore(a.Repo, a.Registry, channels, services.Options{
		OTPKey:          otpKey,
		SigningKey:      signingKey,
		Location:        cfg.Location(),
		PaymentTTL:      cfg.PaymentTTL,
		ProviderTimeout: cfg.ProviderTimeout,
		BreakerTrips:    cfg.BreakerTrips,
		BreakerCooldown: cfg.BreakerCooldown,
		CheckoutHost:    cfg.CheckoutHost,
		Jobs: services.DispatcherConfig{
			BackoffBase: cfg.JobBackoffBase,
			MaxAttempts: cfg.JobMaxAttempts,
			BatchSize:   cfg.JobBatchSize,
			Concurrency: cfg.JobConcurrency,
			From:        cfg.EmailFrom,
		},
	})
	if err != nil {
		return nil, err
	}
	a.Core = core

	if cfg.KafkaBroker != "" {
		pub, err := lib.NewKafkaPublisher(cfg.KafkaBroker, "ticketing-api", "payments")
		if err != nil {
			log.Printf("[Boot] Kafka publisher disabled: %s\n", err.Error())
		} else {
			core.Observer.Subscribe(common.PaymentEventsTo(pub))
			a.closers = append(a.closers, pub.Close)
		}
	}

	NewApp(a)
	return a, nil
}

func (a *App) InitCRUD() {
	a.Events = repository.NewCRUD[models.Event](a.Repo, "event")
	a.Events.BeforeCreate = common.AssignEventNumber
	a.TicketTypes = repository.NewCRUD[models.TicketType](a.Repo, "ticket type")
	a.EventPromos = repository.NewCRUD[models.EventPromo](a.Repo, "event promo")
	a.TicketTypePromos = repository.NewCRUD[models.TicketTypePromo](a.Repo, "ticket type promo")
	a.Notifications = repository.NewCRUD[models.Notification](a.Repo, "notification")
	a.Tickets = repository.NewCRUD[models.Ticket](a.Repo, "ticket")
}

func initProviders(cfg *config.Config) *providers.Registry {
	var ps []providers.Provider
	if cfg.MpesaConsumerKey != "" {
		ps = append(ps, providers.NewMpesa(providers.MpesaConfig{
			BaseURL:        cfg.MpesaBaseURL,
			ConsumerKey:    cfg.MpesaConsumerKey,
			ConsumerSecret: cfg.MpesaConsumerSecret,
			Shortcode:      cfg.MpesaShortcode,
			Passkey:        cfg.MpesaPasskey,
			CallbackURL:    cfg.CallbackURL + "?provider=" + string(types.MPESA),
		}, &http.Client{}))
	} else {
		log.Println("[Boot] MPESA is not configured")
	}
	if cfg.StripeSecretKey != "" {
		ps = append(ps, providers.NewBank(lib.GetStripeClient(cfg.StripeSecretKey), providers.BankConfig{
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.Currency,
			SuccessURL:    cfg.CheckoutHost + "/checkout/success",
			CancelURL:     cfg.CheckoutHost + "/checkout/cancel",
		}))
	} else {
		log.Println("[Boot] BANK is not configured")
	}
	return providers.NewRegistry(ps...)
}

func (a *App) initChannels(cfg *config.Config) (services.Channels, error) {
	var ch services.Channels
	email, err := mailer.NewEmailSender(cfg, a.AWS)
	if err != nil {
		return ch, err
	}
	ch.Email = email
	if a.AWS != nil {
		ch.SMS = awslib.NewSNSSender(a.AWS.SNS(), cfg.SNSSenderID)
		if cfg.S3AssetsBucket != "" {
			ch.Artifacts = awslib.NewS3ArtifactStore(a.AWS.S3(), cfg.S3AssetsBucket, 7*24*time.Hour)
		}
		if cfg.SQSMainQueue != "" {
			ch.Waker = awslib.NewSQSWaker(a.AWS.SQS(), map[string]string{
				types.MAIN_QUEUE:          cfg.SQSMainQueue,
				types.NOTIFICATIONS_QUEUE: cfg.SQSNotificationsQueue,
			})
		}
	} else {
		log.Println("[Boot] SMS delivery is disabled without AWS credentials")
		ch.SMS = disabledSMS{}
	}
	if cfg.RedisHost != "" {
		if rdb := lib.GetRedisClient(cfg.RedisHost); rdb != nil {
			ch.Cache = lib.NewRedisSignatureCache(rdb, 24*time.Hour)
		}
	}
	return ch, nil
}

type disabledSMS struct{}

func (disabledSMS) SendSMS(ctx context.Context, phone, message string) error {
	return errors.New("sms channel is not configured")
}

// InitScheduler registers the periodic core jobs and starts the scheduler.
func InitScheduler(a *App) (gocron.Scheduler, error) {
	sched, err := lib.GetScheduler(a.Config.Location())
	if err != nil {
		return nil, err
	}
	if err := services.Register(sched, a.Core); err != nil {
		return nil, err
	}
	sched.Start()
	log.Println("Jobs in queue:", len(sched.Jobs()))
	return sched, nil
}

func StopScheduler(s gocron.Scheduler) {
	if err := s.Shutdown(); err != nil {
		log.Printf("An error has occurred while stopping Scheduler: %s\n", err.Error())
	}
}

// InitConsumers listens for job wake-ups until ctx is done. Without SQS the
// scheduler's poll is the only trigger.
func InitConsumers(ctx context.Context, a *App) error {
	if a.AWS == nil || a.Config.SQSMainQueue == "" {
		log.Println("[Boot] SQS consumers disabled")
		<-ctx.Done()
		return nil
	}
	return common.SQSConsumers(ctx, a.AWS.SQS(), []string{a.Config.SQSMainQueue, a.Config.SQSNotificationsQueue}, a.Core.Dispatcher)
}

func (a *App) Close() {
	for _, c := range a.closers {
		c()
	}
}
