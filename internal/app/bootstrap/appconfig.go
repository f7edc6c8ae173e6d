// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//
// AppConfig carries the database, session, identity token, rate limit,
// XP economy and background job settings.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Optional Redis, used for the shared scan rate limit
	RedisAddr     string // blank disables Redis
	RedisPassword string

	// Session management configuration
	SessionKey    string        // Secret key for signing session cookies (must be strong in production)
	SessionName   string        // Cookie name for sessions (default: volunteerhub-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Cookie lifetime
	TrustLogin    bool          // Enables POST /login by email alone (dev only)

	// QR identity tokens
	QRSecret   string        // HS256 key; blank derives one from SessionKey
	QRIssuer   string        // iss claim
	QRTokenTTL time.Duration // lifetime of a displayed code

	// Scan sessions and rate limiting
	ScanSessionTTL  time.Duration // time staff have to approve a verified scan
	ScanRateLimit   int           // scans per window per staff device; 0 disables
	ScanRateWindow  time.Duration
	SuperAdminEmail string // promoted (or created) on startup

	// XP economy
	XPTaskDefault    int64 // reward for tasks published without one
	XPEventAttended  int64 // reward for events without their own
	StreakBonusEvery int   // every Nth consecutive day earns a bonus; 0 disables
	StreakBonusXP    int64

	// Audit logging: "all", "db", "log" or "off" per category
	AuditAuth  string
	AuditAdmin string

	// Background jobs
	ReconcileInterval time.Duration
	ScanSweepInterval time.Duration

	// Operation timeouts (zero keeps the defaults)
	TimeoutShort  time.Duration
	TimeoutMedium time.Duration
	TimeoutLong   time.Duration
}
