// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/volunteerhub/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates collections (if missing) and tries to attach JSON-Schema
// validators. On servers that don't support collMod/validators (e.g. some
// DocumentDB versions), we log and skip gracefully.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("users", usersSchema())
	ensure("events", eventsSchema())

	// Ledger and attendance: the stores enforce these too, the validators
	// catch writes that bypass them.
	ensure("xp_transactions", xpTransactionsSchema())
	ensure("attendance_records", attendanceSchema())

	ensure("tasks", tasksSchema())
	ensure("scan_sessions", scanSessionsSchema())
	ensure("level_tiers", levelTiersSchema())

	ensure("login_records", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

// collectionExists returns true when <name> already exists.
// Uses ListCollectionNames to avoid "created collection" log when it didn't.
func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		zap.L().Info("collection exists", zap.String("collection", name))
		return false, nil
	}
	// If listing failed, fall back to create-and-handle-race.
	if err := db.CreateCollection(ctx, name); err != nil {
		// NamespaceExists / already exists is fine (race or prior run).
		if isNamespaceExistsErr(err) {
			zap.L().Info("collection exists", zap.String("collection", name))
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 48 || strings.Contains(strings.ToLower(ce.Message), "already exists")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || strings.Contains(strings.ToLower(ce.Message), "no such command")) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 115 ||
		strings.Contains(strings.ToLower(ce.Message), "not implemented") ||
		strings.Contains(strings.ToLower(ce.Message), "not supported")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

func usersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"full_name", "email", "role", "status", "xp"},
			"properties": bson.M{
				"full_name":    bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"full_name_ci": bson.M{"bsonType": "string"},
				"email":        bson.M{"bsonType": "string"},
				"role": bson.M{"enum": bson.A{
					models.RoleVolunteer, models.RoleSecretary, models.RoleDomainHead,
					models.RoleAssociateHead, models.RoleSuperAdmin,
				}},
				"status":        bson.M{"enum": bson.A{"active", "disabled"}},
				"xp":            bson.M{"bsonType": "number"},
				"streak":        bson.M{"bsonType": "number", "minimum": 0},
				"last_login_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func eventsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"title", "date"},
			"properties": bson.M{
				"title": bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"date":  bson.M{"bsonType": "date"},
				"geofence": bson.M{
					"bsonType": "object",
					"required": bson.A{"lat", "lon", "radius_m"},
					"properties": bson.M{
						"lat":      bson.M{"bsonType": "number", "minimum": -90, "maximum": 90},
						"lon":      bson.M{"bsonType": "number", "minimum": -180, "maximum": 180},
						"radius_m": bson.M{"bsonType": "number", "minimum": 0},
					},
				},
				"xp_reward": bson.M{"bsonType": "number", "minimum": 0},
			},
		},
	}
}

func xpTransactionsSchema() bson.M {
	sources := bson.A{}
	for _, s := range []models.XPSource{
		models.XPSourceTaskVerified, models.XPSourceEventAttended, models.XPSourceSpinWheel,
		models.XPSourceStreakBonus, models.XPSourceManualAdjustment,
	} {
		sources = append(sources, string(s))
	}

	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"user_id", "delta", "source", "created_at"},
			"properties": bson.M{
				"user_id":     bson.M{"bsonType": "objectId"},
				"delta":       bson.M{"bsonType": "number", "not": bson.M{"enum": bson.A{0}}},
				"source":      bson.M{"enum": sources},
				"dedupe_key":  bson.M{"bsonType": "string", "minLength": 1},
				"reversal_of": bson.M{"bsonType": "objectId"},
				"actor_id":    bson.M{"bsonType": "objectId"},
				"created_at":  bson.M{"bsonType": "date"},
			},
		},
	}
}

func attendanceSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"event_id", "user_id", "method", "created_at"},
			"properties": bson.M{
				"event_id":    bson.M{"bsonType": "objectId"},
				"user_id":     bson.M{"bsonType": "objectId"},
				"method":      bson.M{"enum": bson.A{string(models.AttendanceGeofence), string(models.AttendanceQR)}},
				"distance_m":  bson.M{"bsonType": "number", "minimum": 0},
				"approved_by": bson.M{"bsonType": "objectId"},
				"created_at":  bson.M{"bsonType": "date"},
			},
		},
	}
}

func tasksSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"title", "status", "assignees", "xp_reward"},
			"properties": bson.M{
				"title": bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"status": bson.M{"enum": bson.A{
					string(models.TaskOpen), string(models.TaskClaimed),
					string(models.TaskSubmitted), string(models.TaskVerified),
				}},
				"assignees": bson.M{"bsonType": "array", "items": bson.M{"bsonType": "objectId"}},
				"xp_reward": bson.M{"bsonType": "number", "minimum": 0},
				"deadline":  bson.M{"bsonType": "date"},
			},
		},
	}
}

func scanSessionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"staff_id", "event_id", "candidate_id", "state", "expires_at"},
			"properties": bson.M{
				"staff_id":     bson.M{"bsonType": "objectId"},
				"event_id":     bson.M{"bsonType": "objectId"},
				"candidate_id": bson.M{"bsonType": "objectId"},
				"state": bson.M{"enum": bson.A{
					string(models.ScanIdle), string(models.ScanScanned), string(models.ScanVerified),
					string(models.ScanApproved), string(models.ScanRejected),
				}},
				"expires_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func levelTiersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"level", "title", "min_xp", "max_xp"},
			"properties": bson.M{
				"level":  bson.M{"bsonType": "number", "minimum": 1, "maximum": 100},
				"title":  bson.M{"bsonType": "string", "minLength": 1},
				"min_xp": bson.M{"bsonType": "number", "minimum": 0},
				"max_xp": bson.M{"bsonType": "number"},
			},
		},
	}
}
