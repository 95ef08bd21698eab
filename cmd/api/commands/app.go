package commands

import (
	"context"
	"fmt"

	"github.com/remindly/core/internal/adapters/calendar"
	"github.com/remindly/core/internal/adapters/ical"
	"github.com/remindly/core/internal/adapters/notifier"
	"github.com/remindly/core/internal/adapters/repository"
	"github.com/remindly/core/internal/adapters/repository/memory"
	"github.com/remindly/core/internal/application/services"
	"github.com/remindly/core/internal/infrastructure/config"
	"github.com/remindly/core/internal/infrastructure/database"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/infrastructure/metrics"
	"github.com/remindly/core/internal/infrastructure/worker"
	"github.com/remindly/core/internal/ports"
)

const feedProductID = "-//Remindly//Reminders//EN"

// app holds the wired engine for one process
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	// db is nil for the memory driver
	db *database.DB

	service      *services.ReminderService
	materializer *services.Materializer
	scheduler    *services.Scheduler
	// reconciler is nil when calendar sync is disabled
	reconciler *services.Reconciler
}

type stores struct {
	reminders   ports.ReminderRepository
	occurrences ports.OccurrenceRepository
	links       ports.SyncRepository
	records     ports.RecordRepository
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, appLogger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  appLogger,
		metrics: metrics.New(),
	}

	st, err := a.openStores()
	if err != nil {
		a.close()
		return nil, err
	}

	clock := services.RealClock{}

	a.materializer = services.NewMaterializer(st.reminders, st.occurrences, clock, a.metrics, appLogger, cfg.Materializer)
	a.service = services.NewReminderService(
		st.reminders, st.occurrences, st.records, a.materializer,
		ical.NewEncoder(feedProductID, cfg.Sync.EventDuration),
		clock, appLogger,
	)

	deliverer, err := a.newNotifier(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.scheduler = services.NewScheduler(st.occurrences, deliverer, clock, a.metrics, appLogger, cfg.Scheduler)

	if cfg.Sync.Enabled {
		cal, err := a.newCalendar(ctx)
		if err != nil {
			a.close()
			return nil, err
		}
		a.reconciler = services.NewReconciler(st.occurrences, st.links, cal, clock, a.metrics, appLogger, cfg.Sync)
		a.service.EnableCalendarImport(cal, st.links)
	}

	return a, nil
}

func (a *app) openStores() (stores, error) {
	if a.cfg.Database.Driver == config.DriverMemory {
		a.logger.Warn("Using the in-memory store; nothing survives a restart")
		s := memory.NewStore()
		return stores{s.Reminders(), s.Occurrences(), s.SyncLinks(), s.Records()}, nil
	}

	db, err := database.New(a.cfg.Database)
	if err != nil {
		return stores{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	if a.cfg.Database.AutoMigrate {
		if err := database.MigrateUp(db); err != nil {
			return stores{}, err
		}
		a.logger.Infow("Database schema is up to date", "driver", db.Driver())
	}

	return stores{
		reminders:   repository.NewReminderRepository(db),
		occurrences: repository.NewOccurrenceRepository(db),
		links:       repository.NewSyncRepository(db),
		records:     repository.NewRecordRepository(db),
	}, nil
}

func (a *app) newNotifier(ctx context.Context) (ports.Notifier, error) {
	switch a.cfg.Notifier.Provider {
	case config.NotifierFCM:
		n, err := notifier.NewFCM(ctx, a.cfg.Notifier, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize push notifier: %w", err)
		}
		return n, nil
	default:
		return notifier.NewLog(a.logger), nil
	}
}

func (a *app) newCalendar(ctx context.Context) (ports.CalendarAdapter, error) {
	switch a.cfg.Sync.Provider {
	case config.ProviderMemory:
		return calendar.NewMemory(), nil
	default:
		g, err := calendar.NewGoogle(ctx, a.cfg.Sync, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize calendar client: %w", err)
		}
		return g, nil
	}
}

// newRunner registers the background jobs enabled in the configuration
func (a *app) newRunner() (*worker.Runner, error) {
	runner := worker.NewRunner(a.logger)

	if err := runner.Every("materialize", a.cfg.Materializer.SweepInterval, func(ctx context.Context) error {
		_, err := a.materializer.Sweep(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	if a.cfg.Scheduler.Enabled {
		if err := runner.Every("scan", a.cfg.Scheduler.ScanInterval, func(ctx context.Context) error {
			_, err := a.scheduler.Scan(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if a.reconciler != nil {
		if err := runner.Every("reconcile", a.cfg.Sync.Interval, func(ctx context.Context) error {
			_, err := a.reconciler.Reconcile(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}

	return runner, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
	_ = a.logger.Sync()
}
