// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
//
// Runtime is filled in by Startup; WAFFLE passes DBDeps by value, so the
// pointer is how BuildHandler and Shutdown reach the services and the
// scheduler that Startup created.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Redis is nil when redis_addr is blank.
	Redis redis.UniversalClient

	Runtime *Runtime
}
