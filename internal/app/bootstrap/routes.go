// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	auditlogfeature "github.com/dalemusser/volunteerhub/internal/app/features/auditlog"
	checkinfeature "github.com/dalemusser/volunteerhub/internal/app/features/checkin"
	healthfeature "github.com/dalemusser/volunteerhub/internal/app/features/health"
	identityfeature "github.com/dalemusser/volunteerhub/internal/app/features/identity"
	ledgerfeature "github.com/dalemusser/volunteerhub/internal/app/features/ledger"
	loginfeature "github.com/dalemusser/volunteerhub/internal/app/features/login"
	logoutfeature "github.com/dalemusser/volunteerhub/internal/app/features/logout"
	progressfeature "github.com/dalemusser/volunteerhub/internal/app/features/progress"
	tasksfeature "github.com/dalemusser/volunteerhub/internal/app/features/tasks"
	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed, so deps.Runtime holds the engine services.
//
// Public routes are /health and /metrics (plus /login when trust_login is
// on). Everything else requires a signed-in session; role checks for staff
// and admin actions happen inside the services.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	rt := deps.Runtime
	if rt == nil || rt.Ledger == nil {
		return nil, errors.New("build handler: runtime not initialized")
	}

	// Create the session manager using app config.
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	// LoadSessionUser fetches fresh user data on each request, so role
	// changes and disabled accounts take effect immediately.
	sessionMgr.SetUserFetcher(userstore.NewFetcher(deps.MongoDatabase))

	r := chi.NewRouter()
	r.Use(sessionMgr.LoadSessionUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Redis, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Handle("/metrics", rt.Metrics.Handler())

	// Authentication
	if appCfg.TrustLogin {
		logger.Warn("trust login enabled; any known email can sign in")
		loginHandler := loginfeature.NewHandler(userstore.New(deps.MongoDatabase), sessionMgr, rt.Progress, rt.Logins, rt.Audit, logger)
		r.Mount("/login", loginfeature.Routes(loginHandler))
	}

	logoutHandler := logoutfeature.NewHandler(sessionMgr, rt.Audit, logger)
	r.Mount("/logout", logoutfeature.Routes(logoutHandler, sessionMgr))

	r.Group(func(pr chi.Router) {
		pr.Use(sessionMgr.RequireSignedIn)

		checkinfeature.MountRoutes(pr, checkinfeature.NewHandler(rt.CheckIn, logger))
		identityfeature.MountRoutes(pr, identityfeature.NewHandler(rt.Identity, rt.Audit, logger))
		progressfeature.MountRoutes(pr, progressfeature.NewHandler(rt.Progress, rt.Logins, rt.Audit, logger))
		ledgerfeature.MountRoutes(pr, ledgerfeature.NewHandler(rt.Ledger, rt.Audit, logger))
		pr.Mount("/tasks", tasksfeature.Routes(tasksfeature.NewHandler(rt.Tasks, rt.Audit, logger)))
		pr.Mount("/audit", auditlogfeature.Routes(auditlogfeature.NewHandler(rt.AuditDB, logger)))
	})

	return r, nil
}
