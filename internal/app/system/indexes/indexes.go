// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.
The unique indexes here are what the engine's exactly-once guarantees rest on.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	sets := []struct {
		name string
		fn   func(context.Context, *mongo.Database) error
	}{
		{"users", ensureUsers},
		{"xp_transactions", ensureXPTransactions},
		{"attendance_records", ensureAttendance},
		{"tasks", ensureTasks},
		{"events", ensureEvents},
		{"level_tiers", ensureLevelTiers},
		{"scan_sessions", ensureScanSessions},
		{"login_records", ensureLoginRecords},
		{"audit_events", ensureAuditEvents},
	}

	var problems []string
	for _, s := range sets {
		if err := s.fn(ctx, db); err != nil {
			problems = append(problems, s.name+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name        string `bson:"name"`
	Key         bson.D `bson:"key"`
	Unique      *bool  `bson:"unique,omitempty"`
	Sparse      *bool  `bson:"sparse,omitempty"`
	ExpireAfter *int32 `bson:"expireAfterSeconds,omitempty"`
}

// spec is the part of an index definition we reconcile on.
type spec struct {
	name   string
	keys   string
	unique bool
	sparse bool
	ttl    int32 // -1 when not a TTL index
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func desiredSpec(m mongo.IndexModel) spec {
	s := spec{keys: keySig(m.Keys.(bson.D)), ttl: -1}
	if o := m.Options; o != nil {
		if o.Name != nil {
			s.name = *o.Name
		}
		s.unique = o.Unique != nil && *o.Unique
		s.sparse = o.Sparse != nil && *o.Sparse
		if o.ExpireAfterSeconds != nil {
			s.ttl = *o.ExpireAfterSeconds
		}
	}
	return s
}

func (ix existingIndex) spec() spec {
	s := spec{name: ix.Name, keys: keySig(ix.Key), ttl: -1}
	s.unique = ix.Unique != nil && *ix.Unique
	s.sparse = ix.Sparse != nil && *ix.Sparse
	if ix.ExpireAfter != nil {
		s.ttl = *ix.ExpireAfter
	}
	return s
}

// sameOptions ignores the name.
func (s spec) sameOptions(o spec) bool {
	return s.unique == o.unique && s.sparse == o.sparse && s.ttl == o.ttl
}

// Best-effort duplicate-detector (works cross-vendors)
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "E11000") || strings.Contains(strings.ToLower(s), "duplicate key")
}

func listIndexes(ctx context.Context, coll *mongo.Collection) (map[string]existingIndex, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]existingIndex{}
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		out[keySig(idx.Key)] = idx
	}
	return out, cur.Err()
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	existing, err := listIndexes(ctx, coll)
	if err != nil {
		// A missing collection lists nothing; anything else is real.
		zap.L().Warn("list indexes failed; creating all",
			zap.String("collection", coll.Name()),
			zap.Error(err))
		existing = map[string]existingIndex{}
	}

	var errs []string
	for _, m := range models {
		want := desiredSpec(m)
		start := time.Now()

		if ex, ok := existing[want.keys]; ok {
			have := ex.spec()
			if have.sameOptions(want) && (want.name == "" || have.name == want.name) {
				zap.L().Debug("reusing existing index",
					zap.String("collection", coll.Name()),
					zap.String("name", have.name),
					zap.String("keys", want.keys))
				continue
			}

			// Options or name differ: drop & recreate.
			zap.L().Info("replacing index",
				zap.String("collection", coll.Name()),
				zap.String("from", have.name),
				zap.String("to", want.name),
				zap.String("keys", want.keys))
			if _, err := coll.Indexes().DropOne(ctx, have.name); err != nil {
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), want.name, err))
				continue
			}
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			if isDuplicateKeyErr(err) && want.unique {
				errs = append(errs, fmt.Sprintf("%s(%s): cannot create unique index on {%s} (duplicates present)",
					coll.Name(), want.name, want.keys))
			} else {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), want.name, err))
			}
			zap.L().Warn("index ensure failed",
				zap.String("collection", coll.Name()),
				zap.String("name", want.name),
				zap.String("keys", want.keys),
				zap.Error(err))
			continue
		}
		zap.L().Info("index ensured",
			zap.String("collection", coll.Name()),
			zap.String("name", want.name),
			zap.String("keys", want.keys),
			zap.Bool("unique", want.unique),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("users"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_users_email"),
		},
		{
			Keys:    bson.D{{Key: "role", Value: 1}, {Key: "status", Value: 1}, {Key: "full_name_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_users_role_status_fullnameci_id"),
		},
		// Leaderboards.
		{
			Keys:    bson.D{{Key: "xp", Value: -1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_users_xp_desc"),
		},
	})
}

func ensureXPTransactions(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("xp_transactions"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_xp_user_created"),
		},
		// One grant per (task,user), (event,user), (user,day) for streak bonuses.
		{
			Keys:    bson.D{{Key: "dedupe_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_xp_dedupe_key"),
		},
		// A transaction can be reversed at most once.
		{
			Keys:    bson.D{{Key: "reversal_of", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_xp_reversal_of"),
		},
	})
}

func ensureAttendance(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("attendance_records"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_attendance_event_user"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_attendance_user_created"),
		},
	})
}

func ensureTasks(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("tasks"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "deadline", Value: 1}},
			Options: options.Index().SetName("idx_tasks_status_deadline"),
		},
		{
			Keys:    bson.D{{Key: "assignees", Value: 1}},
			Options: options.Index().SetName("idx_tasks_assignees"),
		},
	})
}

func ensureEvents(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("events"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "date", Value: -1}},
			Options: options.Index().SetName("idx_events_date"),
		},
	})
}

func ensureLevelTiers(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("level_tiers"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "level", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_tiers_level"),
		},
		{
			Keys:    bson.D{{Key: "min_xp", Value: 1}},
			Options: options.Index().SetName("idx_tiers_min_xp"),
		},
	})
}

func ensureScanSessions(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("scan_sessions"), []mongo.IndexModel{
		// Expired sessions are removed by the server; the sweep job marks
		// them rejected first so late approvals see a terminal state.
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(3600).SetName("ttl_scan_sessions_expires"),
		},
		{
			Keys:    bson.D{{Key: "staff_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_scan_sessions_staff_created"),
		},
	})
}

// Helpful for streak history and recent activity.
func ensureLoginRecords(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("login_records"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_logins_user_created"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_logins_created"),
		},
	})
}

func ensureAuditEvents(ctx context.Context, db *mongo.Database) error {
	return ensureIndexSet(ctx, db.Collection("audit_events"), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_user_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "actor_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_actor_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "category", Value: 1}, {Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_category_type_timestamp"),
		},
	})
}
