// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/volunteerhub/internal/app/engine/attendance"
	"github.com/dalemusser/volunteerhub/internal/app/engine/checkin"
	"github.com/dalemusser/volunteerhub/internal/app/engine/identity"
	"github.com/dalemusser/volunteerhub/internal/app/engine/progress"
	"github.com/dalemusser/volunteerhub/internal/app/engine/taskflow"
	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	attendancestore "github.com/dalemusser/volunteerhub/internal/app/store/attendance"
	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	eventstore "github.com/dalemusser/volunteerhub/internal/app/store/events"
	ledgerstore "github.com/dalemusser/volunteerhub/internal/app/store/ledger"
	loginstore "github.com/dalemusser/volunteerhub/internal/app/store/logins"
	scansessionstore "github.com/dalemusser/volunteerhub/internal/app/store/scansessions"
	taskstore "github.com/dalemusser/volunteerhub/internal/app/store/tasks"
	tierstore "github.com/dalemusser/volunteerhub/internal/app/store/tiers"
	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"github.com/dalemusser/volunteerhub/internal/app/system/leveling"
	"github.com/dalemusser/volunteerhub/internal/app/system/qrtoken"
	"github.com/dalemusser/volunteerhub/internal/app/system/ratelimit"
	"github.com/dalemusser/volunteerhub/internal/app/system/tasks"
	"github.com/dalemusser/volunteerhub/internal/app/system/telemetry"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"github.com/dalemusser/volunteerhub/internal/app/system/txn"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Runtime holds the services built once at startup.
type Runtime struct {
	Metrics *telemetry.Metrics
	Audit   *auditlog.Logger
	AuditDB *audit.Store

	Ledger   *xpledger.Service
	CheckIn  *checkin.Service
	Identity *identity.Service
	Tasks    *taskflow.Service
	Progress *progress.Service

	Logins *loginstore.Store

	limiter   ratelimit.Policy
	scheduler *tasks.Scheduler
}

// Startup seeds reference data, builds the engine services and starts the
// background jobs. It runs after ConnectDB and EnsureSchema.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Runtime == nil {
		return errors.New("startup: DBDeps.Runtime is nil")
	}

	seedCtx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()

	seeded, err := tierstore.New(deps.MongoDatabase).SeedIfEmpty(seedCtx, leveling.DefaultCatalog())
	if err != nil {
		return fmt.Errorf("seed level tiers: %w", err)
	}
	if seeded {
		logger.Info("seeded default level tiers")
	}

	if appCfg.SuperAdminEmail != "" {
		if err := ensureSuperAdmin(seedCtx, deps, appCfg.SuperAdminEmail, logger); err != nil {
			return fmt.Errorf("ensure superadmin: %w", err)
		}
	}

	rt, err := buildRuntime(appCfg, deps, logger)
	if err != nil {
		return err
	}

	sched, err := tasks.NewScheduler(logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	jobs := []tasks.Job{
		tasks.XPReconcileJob(rt.Ledger, rt.Tasks, logger, appCfg.ReconcileInterval),
		tasks.ScanSessionSweepJob(scansessionstore.New(deps.MongoDatabase), logger, appCfg.ScanSweepInterval),
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			_ = sched.Stop()
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
	}
	sched.Start()
	rt.scheduler = sched

	*deps.Runtime = *rt
	return nil
}

// buildRuntime wires stores into the engine services.
func buildRuntime(appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*Runtime, error) {
	db := deps.MongoDatabase
	metrics := telemetry.New()

	users := userstore.New(db)
	ledger := xpledger.New(ledgerstore.New(db, users, logger), users, logger, metrics)
	roster := attendancestore.New(db)
	recorder := attendance.NewRecorder(roster, ledger, appCfg.XPEventAttended, logger)
	events := eventstore.New(db)

	key, err := qrKey(appCfg)
	if err != nil {
		return nil, err
	}
	codec, err := qrtoken.New(key, appCfg.QRIssuer, appCfg.QRTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("qr codec: %w", err)
	}

	limiter := scanLimiter(appCfg, deps, logger)

	auditStore := audit.New(db)
	auditLog := auditlog.New(auditStore, logger, auditlog.Config{
		Auth:  appCfg.AuditAuth,
		Admin: appCfg.AuditAdmin,
	})
	identitySvc := identity.New(identity.Deps{
		Sessions:   scansessionstore.New(db),
		Users:      users,
		Events:     events,
		Recorder:   recorder,
		Codec:      codec,
		Limiter:    limiter,
		SessionTTL: appCfg.ScanSessionTTL,
		Logger:     logger,
		Metrics:    metrics,
	})
	bonus := progress.Bonus{Every: appCfg.StreakBonusEvery, XP: appCfg.StreakBonusXP}

	rt := &Runtime{
		Metrics:  metrics,
		Audit:    auditLog,
		AuditDB:  auditStore,
		Ledger:   ledger,
		CheckIn:  checkin.New(events, recorder, roster, logger, metrics),
		Identity: identitySvc,
		Tasks:    taskflow.New(taskstore.New(db), ledger, txn.Runner{Client: db.Client()}, appCfg.XPTaskDefault, logger, metrics),
		Progress: progress.New(users, tierstore.New(db), ledger, bonus, logger),
		Logins:   loginstore.New(db),
		limiter:  limiter,
	}
	return rt, nil
}

// qrKey returns the configured QR secret, or one derived from the session
// key so a dev setup needs no extra secret.
func qrKey(appCfg AppConfig) ([]byte, error) {
	if appCfg.QRSecret != "" {
		return []byte(appCfg.QRSecret), nil
	}
	key, err := qrtoken.DeriveKey(appCfg.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("derive qr key: %w", err)
	}
	return key, nil
}

// scanLimiter picks the scan rate limit backend: shared through Redis when
// it is configured, otherwise per instance.
func scanLimiter(appCfg AppConfig, deps DBDeps, logger *zap.Logger) ratelimit.Policy {
	switch {
	case appCfg.ScanRateLimit <= 0:
		logger.Warn("scan rate limit disabled")
		return ratelimit.Disabled{}
	case deps.Redis != nil:
		return ratelimit.NewRedis(deps.Redis, appCfg.ScanRateLimit, appCfg.ScanRateWindow)
	default:
		return ratelimit.New(appCfg.ScanRateLimit, appCfg.ScanRateWindow)
	}
}

// ensureSuperAdmin promotes the user with email to superadmin, creating
// the account when it does not exist yet.
func ensureSuperAdmin(ctx context.Context, deps DBDeps, email string, logger *zap.Logger) error {
	users := userstore.New(deps.MongoDatabase)

	u, err := users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		created, err := users.Create(ctx, models.User{
			FullName: "Super Admin",
			Email:    email,
			Role:     models.RoleSuperAdmin,
			Status:   "active",
			Approved: true,
		})
		if err != nil {
			return err
		}
		logger.Info("created superadmin", zap.String("email", created.Email))
		return nil
	case err != nil:
		return err
	}

	if u.Role == models.RoleSuperAdmin && u.Status == "active" {
		return nil
	}
	if err := users.SetRole(ctx, u.ID, models.RoleSuperAdmin); err != nil {
		return err
	}
	logger.Info("promoted user to superadmin",
		zap.String("email", u.Email),
		zap.String("previous_role", u.Role))
	return nil
}
