package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/reefdash/internal/bus"
	"github.com/skobkin/reefdash/internal/config"
	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/dash"
	"github.com/skobkin/reefdash/internal/logging"
	"github.com/skobkin/reefdash/internal/notifications"
	"github.com/skobkin/reefdash/internal/persistence"
)

// Options tunes Initialize for the command line front end and tests.
type Options struct {
	// ConfigPath overrides the per-user config location.
	ConfigPath string
	// Console receives log output next to the optional log file. Nil discards it.
	Console io.Writer
	// Override adjusts the loaded config before validation.
	Override func(cfg *config.AppConfig)
	// Notifier replaces the desktop notification backend.
	Notifier notifications.Sender
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	JournalRepo *persistence.JournalRepo
	WriterQueue *persistence.WriterQueue
	Journal     *JournalProjection

	ConnectionTransport *SwitchableTransport
	Client              *dash.Client
	Notifications       *NotificationService

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	var (
		paths Paths
		err   error
	)
	if opts.ConfigPath != "" {
		paths = Paths{}.WithConfigFile(opts.ConfigPath)
	} else if paths, err = ResolvePaths(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
		cfg.FillMissingDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManagerWithConsole(opts.Console)
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting reefdash runtime", "version", BuildVersion(), "revision", BuildRevision(), "build_date", BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	rt.setConnStatus(ConnectionStatusFromConfig(cfg.Connection))
	bus.Listen(ctx, b, connectors.TopicConnStatus, rt.setConnStatus)

	if cfg.Journal.Enabled {
		if err := rt.openJournal(ctx, cfg.Journal); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	sender := opts.Notifier
	if sender == nil {
		sender = notifications.NewDesktopSender(Name, logMgr.Logger("notifications"))
	}
	rt.Notifications = NewNotificationService(b, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))
	rt.Notifications.Start(ctx)

	connTransport, err := NewConnectionTransport(cfg.Connection)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.ConnectionTransport = connTransport

	rt.Client = dash.NewClient(logMgr.Logger("dash"), b, connTransport, nil, ClientOptions(cfg))
	rt.Client.Start()

	return rt, nil
}

func (r *Runtime) openJournal(ctx context.Context, cfg config.JournalConfig) error {
	db, err := persistence.Open(ctx, r.Paths.JournalFile)
	if err != nil {
		return err
	}
	r.DB = db
	r.JournalRepo = persistence.NewJournalRepo(db)

	writerQueue := persistence.NewWriterQueue(r.LogManager.Logger("persistence"), JournalQueueLen)
	writerQueue.Start(ctx)
	r.WriterQueue = writerQueue
	r.Journal = StartJournalProjection(ctx, r.Bus, writerQueue, r.JournalRepo, cfg.RecordData)

	return nil
}

// ClientOptions maps persisted settings onto the dashboard client.
func ClientOptions(cfg config.AppConfig) dash.Options {
	t := cfg.Timing

	return dash.Options{
		Timing: dash.Timing{
			RetryInterval:     t.RetryInterval.Std(),
			ConnectTimeout:    t.ConnectTimeout.Std(),
			HeartbeatPeriod:   t.HeartbeatPeriod.Std(),
			HeartbeatDeadline: t.HeartbeatDeadline.Std(),
			DataPeriod:        t.DataPeriod.Std(),
			DataDeadline:      t.DataDeadline.Std(),
			EventPeriod:       t.EventPeriod.Std(),
			EventDeadline:     t.EventDeadline.Std(),
			CommandTimeout:    t.CommandTimeout.Std(),
		},
		DataEnabled:  cfg.Polling.DataEnabled,
		EventEnabled: cfg.Polling.EventEnabled,
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveAndApplyConfig persists cfg and applies what can change live: logging,
// the server address, the connector, the poll toggles and notifications.
// Timing and the journal switch take effect on the next start.
func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.Config
	r.Config = cfg
	r.mu.Unlock()

	if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
		return err
	}

	if err := r.applyConnection(prev.Connection, cfg.Connection); err != nil {
		return err
	}
	if r.Client != nil {
		r.Client.EnableDataTransmission(cfg.Polling.DataEnabled)
		r.Client.EnableEventTransmission(cfg.Polling.EventEnabled)
	}
	if r.Journal != nil {
		r.Journal.SetRecordData(cfg.Journal.RecordData)
	}
	if prev.Timing != cfg.Timing || prev.Journal.Enabled != cfg.Journal.Enabled {
		slog.Info("timing and journal changes apply after restart")
	}

	return nil
}

func (r *Runtime) applyConnection(prev, next config.ConnectionConfig) error {
	if r.ConnectionTransport == nil || r.Client == nil {
		return nil
	}

	if prev.Connector == config.ConnectorIP && next.Connector == config.ConnectorIP {
		if prev.Host != next.Host || prev.Port != next.Port {
			if err := r.Client.SetServerAddress(next.Host, next.Port); err != nil {
				return err
			}
		}
	}

	changed, err := r.ConnectionTransport.Apply(next)
	if err != nil {
		return err
	}
	if changed {
		slog.Info("connector changed, restarting connection", "transport", r.ConnectionTransport.Name(), "target", r.ConnectionTransport.Target())
		r.Client.Stop()
		r.Client.Start()
	}

	return nil
}

func (r *Runtime) ClearJournal() error {
	if r.DB == nil {
		return fmt.Errorf("journal is not enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("journal cleared")

	return nil
}

// PruneJournal removes journal rows older than maxAge.
func (r *Runtime) PruneJournal(maxAge time.Duration) (int64, error) {
	if r.DB == nil {
		return 0, fmt.Errorf("journal is not enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	removed, err := persistence.PruneBefore(ctx, r.DB, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	slog.Info("journal pruned", "rows", removed, "max_age", maxAge)

	return removed, nil
}

func (r *Runtime) Close() error {
	if r.Client != nil {
		r.Client.Close()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.WriterQueue != nil {
		<-r.WriterQueue.Stopped()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return nil
}
