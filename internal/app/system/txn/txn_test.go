package txn_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dalemusser/volunteerhub/internal/app/system/txn"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestIsNotSupported(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":                   {nil, false},
		"duplicate key":         {mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error"}, false},
		"standalone (20)":       {mongo.CommandError{Code: 20, Message: "Transaction numbers are only allowed on a replica set member or mongos"}, true},
		"old illegal op (51)":   {mongo.CommandError{Code: 51}, true},
		"txn op (263)":          {mongo.CommandError{Code: 263}, true},
		"wrapped command error": {fmt.Errorf("append xp: %w", mongo.CommandError{Code: 20}), true},
		"replica set message":   {errors.New("Transaction numbers are only allowed on a Replica Set member"), true},
		"sessions unsupported":  {errors.New("sessions are not supported by this deployment"), true},
		"txn in session state":  {errors.New("cannot start transaction in current session state"), true},
		"txn word alone":        {errors.New("transaction aborted"), false},
		"deadline":              {errors.New("context deadline exceeded"), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := txn.IsNotSupported(tc.err); got != tc.want {
				t.Errorf("IsNotSupported(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// supportsTransactions reports whether the test server accepts a transaction.
func supportsTransactions(t *testing.T, db *mongo.Database) bool {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	err := txn.Run(ctx, db.Client(), func(sc mongo.SessionContext) error {
		_, err := db.Collection("txn_check").InsertOne(sc, bson.M{"ok": true})
		return err
	})
	if errors.Is(err, txn.ErrNotSupported) {
		return false
	}
	if err != nil {
		t.Fatalf("check transaction: %v", err)
	}
	return true
}

func TestRun_StandaloneReportsNotSupported(t *testing.T) {
	db := testutil.SetupTestDB(t)
	if supportsTransactions(t, db) {
		t.Skip("server supports transactions")
	}
	ctx, cancel := testutil.TestContext()
	defer cancel()

	err := txn.Run(ctx, db.Client(), func(sc mongo.SessionContext) error {
		_, err := db.Collection("xp_transactions").InsertOne(sc, bson.M{"delta": 10})
		return err
	})
	if !errors.Is(err, txn.ErrNotSupported) {
		t.Fatalf("Run err = %v, want ErrNotSupported", err)
	}
	n, err := db.Collection("xp_transactions").CountDocuments(ctx, bson.M{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("documents written = %d, want 0", n)
	}
}

func TestRun_CommitsAndRollsBack(t *testing.T) {
	db := testutil.SetupTestDB(t)
	if !supportsTransactions(t, db) {
		t.Skip("server does not support transactions")
	}
	ctx, cancel := testutil.TestContext()
	defer cancel()
	ledger := db.Collection("xp_transactions")

	if err := txn.Run(ctx, db.Client(), func(sc mongo.SessionContext) error {
		_, err := ledger.InsertOne(sc, bson.M{"delta": 10})
		return err
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	boom := errors.New("counter update failed")
	err := txn.Run(ctx, db.Client(), func(sc mongo.SessionContext) error {
		if _, err := ledger.InsertOne(sc, bson.M{"delta": 5}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want %v", err, boom)
	}

	n, err := ledger.CountDocuments(ctx, bson.M{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("committed documents = %d, want 1", n)
	}
}

func TestRunner_StoresJoinTheTransaction(t *testing.T) {
	if txn.InSession(context.Background()) {
		t.Fatal("InSession(background) = true")
	}
	db := testutil.SetupTestDB(t)
	if !supportsTransactions(t, db) {
		t.Skip("server does not support transactions")
	}
	ctx, cancel := testutil.TestContext()
	defer cancel()
	tasks := db.Collection("tasks")

	boom := errors.New("grant failed")
	err := txn.Runner{Client: db.Client()}.Do(ctx, func(ctx context.Context) error {
		if !txn.InSession(ctx) {
			t.Error("InSession = false inside Do")
		}
		if _, err := tasks.InsertOne(ctx, bson.M{"status": "verified"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do err = %v, want %v", err, boom)
	}
	if n, _ := tasks.CountDocuments(ctx, bson.M{}); n != 0 {
		t.Errorf("documents after rollback = %d, want 0", n)
	}
}
