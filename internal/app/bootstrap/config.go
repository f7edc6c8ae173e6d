// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for VolunteerHub.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: VOLUNTEERHUB_MONGO_URI, VOLUNTEERHUB_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "volunteer_hub", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	{Name: "redis_addr", Default: "", Desc: "Redis address for the shared scan rate limit (blank disables)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},

	{Name: "session_key", Default: defaultSessionKey, Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "volunteerhub-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime"},
	{Name: "trust_login", Default: false, Desc: "Enable email-only login (dev only; refused in prod)"},

	// QR identity tokens
	{Name: "qr_secret", Default: "", Desc: "QR token signing key, 32+ bytes (blank derives from session_key)"},
	{Name: "qr_issuer", Default: "volunteerhub", Desc: "QR token issuer claim"},
	{Name: "qr_token_ttl", Default: "2m", Desc: "Lifetime of a displayed QR code"},

	// Scanning
	{Name: "scan_session_ttl", Default: "10m", Desc: "Time staff have to approve a verified scan"},
	{Name: "scan_rate_limit", Default: 30, Desc: "Scans allowed per window per staff device (0 disables)"},
	{Name: "scan_rate_window", Default: "1m", Desc: "Scan rate limit window"},

	// XP economy
	{Name: "xp_task_default", Default: 100, Desc: "XP for tasks published without a reward"},
	{Name: "xp_event_attended", Default: 50, Desc: "XP for attending events without their own reward"},
	{Name: "streak_bonus_every", Default: 7, Desc: "Grant a streak bonus every N consecutive days (0 disables)"},
	{Name: "streak_bonus_xp", Default: 25, Desc: "XP per streak bonus"},

	// Audit logging
	{Name: "audit_auth", Default: "all", Desc: "Audit login/logout events: all, db, log or off"},
	{Name: "audit_admin", Default: "all", Desc: "Audit staff actions (XP, scans, tasks, tiers): all, db, log or off"},

	// Background jobs
	{Name: "reconcile_interval", Default: "15m", Desc: "How often cached XP counters are reconciled with the ledger"},
	{Name: "scan_sweep_interval", Default: "1m", Desc: "How often expired scan sessions are closed"},

	// Timeouts
	{Name: "timeout_short", Default: "5s", Desc: "Timeout for single-document reads"},
	{Name: "timeout_medium", Default: "10s", Desc: "Timeout for single writes and transitions"},
	{Name: "timeout_long", Default: "30s", Desc: "Timeout for multi-collection operations"},

	// SuperAdmin bootstrap
	{Name: "superadmin_email", Default: "", Desc: "Email of the superadmin user (promotes/creates on startup)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, VOLUNTEERHUB_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "VOLUNTEERHUB", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 30*24*time.Hour),
		TrustLogin:    appValues.Bool("trust_login"),

		QRSecret:   appValues.String("qr_secret"),
		QRIssuer:   appValues.String("qr_issuer"),
		QRTokenTTL: appValues.Duration("qr_token_ttl", 2*time.Minute),

		ScanSessionTTL:  appValues.Duration("scan_session_ttl", 10*time.Minute),
		ScanRateLimit:   appValues.Int("scan_rate_limit"),
		ScanRateWindow:  appValues.Duration("scan_rate_window", time.Minute),
		SuperAdminEmail: appValues.String("superadmin_email"),

		XPTaskDefault:    int64(appValues.Int("xp_task_default")),
		XPEventAttended:  int64(appValues.Int("xp_event_attended")),
		StreakBonusEvery: appValues.Int("streak_bonus_every"),
		StreakBonusXP:    int64(appValues.Int("streak_bonus_xp")),

		AuditAuth:  appValues.String("audit_auth"),
		AuditAdmin: appValues.String("audit_admin"),

		ReconcileInterval: appValues.Duration("reconcile_interval", 15*time.Minute),
		ScanSweepInterval: appValues.Duration("scan_sweep_interval", time.Minute),

		TimeoutShort:  appValues.Duration("timeout_short", 0),
		TimeoutMedium: appValues.Duration("timeout_medium", 0),
		TimeoutLong:   appValues.Duration("timeout_long", 0),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// All problems are reported together.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	err := validateApp(coreCfg.Env, appCfg)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
	}
	return err
}

func validateApp(env string, appCfg AppConfig) error {
	var errs []error
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		errs = append(errs, fmt.Errorf("invalid MongoDB URI: %w", err))
	}
	if appCfg.MongoDatabase == "" {
		errs = append(errs, errors.New("mongo_database is required"))
	}
	if appCfg.SessionKey == "" {
		errs = append(errs, errors.New("session_key is required"))
	}
	if appCfg.QRSecret != "" && len(appCfg.QRSecret) < 32 {
		errs = append(errs, errors.New("qr_secret must be at least 32 bytes"))
	}

	for name, d := range map[string]time.Duration{
		"session_max_age":     appCfg.SessionMaxAge,
		"qr_token_ttl":        appCfg.QRTokenTTL,
		"scan_session_ttl":    appCfg.ScanSessionTTL,
		"reconcile_interval":  appCfg.ReconcileInterval,
		"scan_sweep_interval": appCfg.ScanSweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if !auditlog.ValidSetting(appCfg.AuditAuth) || !auditlog.ValidSetting(appCfg.AuditAdmin) {
		errs = append(errs, errors.New("audit_auth and audit_admin must be one of all, db, log, off"))
	}
	if appCfg.ScanRateLimit < 0 {
		errs = append(errs, errors.New("scan_rate_limit cannot be negative"))
	}
	if appCfg.ScanRateLimit > 0 && appCfg.ScanRateWindow <= 0 {
		errs = append(errs, errors.New("scan_rate_window must be positive when scan_rate_limit is set"))
	}
	if appCfg.XPTaskDefault <= 0 || appCfg.XPEventAttended <= 0 {
		errs = append(errs, errors.New("xp_task_default and xp_event_attended must be positive"))
	}
	if appCfg.StreakBonusEvery < 0 || appCfg.StreakBonusXP < 0 {
		errs = append(errs, errors.New("streak bonus settings cannot be negative"))
	}

	if env == "prod" {
		if appCfg.TrustLogin {
			errs = append(errs, errors.New("trust_login cannot be enabled in prod"))
		}
		if appCfg.SessionKey == defaultSessionKey {
			errs = append(errs, errors.New("session_key must be changed from the default in prod"))
		}
	}
	return errors.Join(errs...)
}

const defaultSessionKey = "dev-only-change-me-please-0123456789ABCDEF"
