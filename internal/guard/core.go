// Package guard wires the gate, identity, session, audit and snapshot
// components into one core with an explicit lifecycle.
package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	auditPostgres "github.com/frahmantamala/familyguard/internal/audit/postgres"
	"github.com/frahmantamala/familyguard/internal/core/events"
	"github.com/frahmantamala/familyguard/internal/gate"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/internal/notify"
	"github.com/frahmantamala/familyguard/internal/session"
	"github.com/frahmantamala/familyguard/internal/snapshot"
	snapshotPostgres "github.com/frahmantamala/familyguard/internal/snapshot/postgres"
)

// Deps are the optional external resources. Nil fields disable the
// component that needs them.
type Deps struct {
	Logger  *slog.Logger
	AuditDB *sqlx.DB
	StateDB *gorm.DB
	NATS    notify.Conn
	Clock   func() time.Time
}

type Core struct {
	Config *internal.Config
	Logger *slog.Logger

	Bus        *events.EventBus
	Audit      *audit.Pipeline
	Dispatcher *audit.Dispatcher
	Sweeper    *audit.Sweeper
	Notifier   *notify.Notifier

	Roles         *identity.RoleTable
	Users         *identity.Store
	Lockout       *identity.LockoutTracker
	Credentials   *identity.BcryptVerifier
	Authenticator *identity.Authenticator
	Admin         *identity.Admin

	Sessions  *session.Manager
	Rules     *gate.RuleTable
	Gate      *gate.Gate
	Protector Protector
	Snapshots *snapshot.Service

	snapshotsOn   bool
	fileLogCloser io.Closer
	natsChannel   *notify.NATSChannel
}

func New(cfg *internal.Config, deps Deps) (*Core, error) {
	if cfg == nil {
		cfg = internal.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	c := &Core{Config: cfg, Logger: lg}

	if err := c.buildAudit(cfg, deps, now); err != nil {
		return nil, err
	}
	if err := c.buildIdentity(cfg, now); err != nil {
		c.closeResources()
		return nil, err
	}

	c.Sessions = session.NewManager(c.Roles, lg.With("component", "session"),
		session.WithTimeout(cfg.Session.Timeout),
		session.WithClock(now),
		session.WithRecorder(c.Audit),
	)

	rules, err := gate.NewRuleTable(gate.DefaultRules(), cfg.Gate.Blacklist, cfg.Gate.Whitelist)
	if err != nil {
		c.closeResources()
		return nil, err
	}
	c.Rules = rules
	c.Gate = gate.New(rules, lg.With("component", "gate"),
		gate.WithClock(now),
		gate.WithRecorder(c.Audit),
		gate.WithMaxOperationsPerMinute(cfg.Gate.MaxOperationsPerMinute),
		gate.WithMaxSecurityEvents(cfg.Gate.MaxSecurityEvents),
		gate.WithMaxUserHistory(cfg.Gate.MaxUserHistory),
		gate.WithPolicy(gate.Policy{
			RequireApprovalForCritical: cfg.Gate.RequireApprovalForCritical,
			AutoBlockHighRisk:          cfg.Gate.AutoBlockHighRisk,
			OperationTimeout:           cfg.Gate.OperationTimeout,
		}),
	)

	c.Protector, err = NewProtector(cfg.Integration.Mode, c.Gate, c.Sessions)
	if err != nil {
		c.closeResources()
		return nil, err
	}

	c.Sweeper = audit.NewSweeper(c.Audit, lg.With("component", "audit_sweeper"),
		audit.WithRetention(cfg.Audit.Retention()),
		audit.WithInterval(cfg.Audit.SweepInterval),
		audit.WithBatchSize(cfg.Audit.SweepBatchSize),
		audit.WithSweepClock(now),
		audit.WithSinkPurge(c.Dispatcher),
		audit.WithHousekeeper(c.Sessions),
		audit.WithHousekeeper(c.Gate.Limiter()),
	)

	snapOpts := []snapshot.Option{snapshot.WithRetain(cfg.Snapshot.RetainSnapshots), snapshot.WithClock(now)}
	if cfg.Snapshot.Enabled && deps.StateDB != nil {
		c.snapshotsOn = true
		snapOpts = append(snapOpts, snapshot.WithRepository(snapshotPostgres.NewSnapshotRepository(deps.StateDB)))
	}
	c.Snapshots = snapshot.NewService(lg.With("component", "snapshot"), snapOpts...)
	if err := c.Snapshots.Register(
		c.Roles,
		c.Users,
		c.Credentials,
		c.Sessions,
		c.Rules,
		c.Gate,
		c.Audit,
	); err != nil {
		c.closeResources()
		return nil, err
	}

	lg.Info("security core assembled",
		"integration_mode", c.Protector.Mode(),
		"audit_sink", c.Dispatcher != nil,
		"snapshots", c.snapshotsOn,
		"nats", c.natsChannel != nil)
	return c, nil
}

func (c *Core) buildAudit(cfg *internal.Config, deps Deps, now func() time.Time) error {
	lg := c.Logger

	fileLog, closer := audit.NewFileLogger(cfg.Audit.LogFile, lg)
	c.fileLogCloser = closer

	c.Bus = events.NewEventBus(lg.With("component", "event_bus"))

	channels := []notify.Channel{notify.NewLogChannel(lg.With("component", "notify"))}
	switch {
	case deps.NATS != nil:
		c.natsChannel = notify.NewNATSChannel(deps.NATS, cfg.Notify.SubjectPrefix)
	case cfg.Notify.NATSEnabled:
		ch, err := notify.ConnectNATS(notify.NATSConfig{
			URL:           cfg.Notify.NATSURL,
			SubjectPrefix: cfg.Notify.SubjectPrefix,
			Timeout:       cfg.Notify.Timeout,
		}, lg)
		if err != nil {
			c.closeResources()
			return err
		}
		c.natsChannel = ch
	}
	if c.natsChannel != nil {
		channels = append(channels, c.natsChannel)
	}
	c.Notifier = notify.NewNotifier(lg, cfg.Notify.Timeout, channels...)
	c.Notifier.Register(c.Bus)

	opts := []audit.Option{
		audit.WithMaxEvents(cfg.Audit.MaxEventsInMemory),
		audit.WithClock(now),
		audit.WithFileLogger(fileLog),
		audit.WithPublisher(c.Bus),
	}
	if cfg.Audit.SinkEnabled && deps.AuditDB != nil {
		c.Dispatcher = audit.NewDispatcher(auditPostgres.NewSink(deps.AuditDB), audit.DispatcherConfig{
			MaxWorkers: cfg.Audit.SinkWorkers,
			QueueSize:  cfg.Audit.SinkQueueSize,
		}, fileLog, lg.With("component", "audit_sink"))
		opts = append(opts, audit.WithDispatcher(c.Dispatcher))
	}
	c.Audit = audit.NewPipeline(lg.With("component", "audit"), opts...)
	return nil
}

func (c *Core) buildIdentity(cfg *internal.Config, now func() time.Time) error {
	filter, err := identity.NewIPFilter(cfg.Identity.IPBlacklist, cfg.Identity.IPWhitelist)
	if err != nil {
		return err
	}

	c.Roles = identity.NewRoleTable()
	c.Users = identity.NewStore(c.Roles, identity.WithStoreClock(now))
	c.Lockout = identity.NewLockoutTracker(c.Users,
		identity.WithMaxAttempts(cfg.Identity.MaxFailedAttempts),
		identity.WithLockoutDuration(cfg.Identity.LockoutDuration),
		identity.WithLockoutClock(now),
	)
	c.Credentials = identity.NewBcryptVerifier(cfg.Identity.BCryptCost)
	c.Authenticator = identity.NewAuthenticator(c.Users, c.Lockout, c.Credentials, c.Logger.With("component", "auth"),
		identity.WithAuthClock(now),
		identity.WithIPFilter(filter),
		identity.WithAuditRecorder(c.Audit),
	)
	c.Admin = identity.NewAdmin(c.Users, c.Lockout, c.Credentials, c.Audit)
	return nil
}

// SnapshotsEnabled reports whether a snapshot store is attached.
func (c *Core) SnapshotsEnabled() bool { return c.snapshotsOn }

// Start restores the latest snapshot when configured and launches the
// background sweeper and snapshot loop.
func (c *Core) Start(ctx context.Context) error {
	if c.snapshotsOn && c.Config.Snapshot.RestoreOnStart {
		restored, err := c.Snapshots.RestoreLatest(ctx)
		if err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		c.Logger.Info("snapshot restore on start", "restored", restored)
	}

	c.Sweeper.Start(ctx)
	if c.snapshotsOn {
		c.Snapshots.Start(ctx, c.Config.Snapshot.Interval)
	}
	return nil
}

// Shutdown stops the sweeper, drains the sink dispatcher, optionally saves
// a final snapshot and releases connections, each bounded by ctx.
func (c *Core) Shutdown(ctx context.Context) error {
	var errs []error

	if err := c.Sweeper.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop sweeper: %w", err))
	}
	if err := c.Snapshots.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop snapshot loop: %w", err))
	}
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain audit sink: %w", err))
		}
	}
	if c.snapshotsOn && c.Config.Snapshot.SaveOnShutdown {
		if _, err := c.Snapshots.Save(ctx, "shutdown"); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}
	if err := c.Bus.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for notifications: %w", err))
	}
	c.closeResources()

	if err := errors.Join(errs...); err != nil {
		c.Logger.Error("security core shutdown incomplete", "error", err)
		return err
	}
	c.Logger.Info("security core stopped")
	return nil
}

func (c *Core) closeResources() {
	if c.natsChannel != nil {
		if err := c.natsChannel.Close(); err != nil {
			c.Logger.Warn("failed to close NATS connection", "error", err)
		}
		c.natsChannel = nil
	}
	if c.fileLogCloser != nil {
		if err := c.fileLogCloser.Close(); err != nil {
			c.Logger.Warn("failed to close audit log", "error", err)
		}
		c.fileLogCloser = nil
	}
}
