// Package txn runs multi-document writes inside a MongoDB transaction when
// the deployment supports one.
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNotSupported is returned by Run when the server cannot run transactions
// (standalone mongod). Callers decide how to fall back.
var ErrNotSupported = errors.New("transactions not supported by this deployment")

// IsNotSupported reports whether err means "this server can't do transactions".
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 20, // IllegalOperation: transaction numbers only allowed on replica set members
			51,  // IllegalOperation (older servers)
			263: // OperationNotSupportedInTransaction
			return true
		}
	}
	s := strings.ToLower(err.Error())
	hasTxn := strings.Contains(s, "transaction")
	switch {
	case hasTxn && strings.Contains(s, "replica set"):
		return true
	case strings.Contains(s, "session") && strings.Contains(s, "not supported"):
		return true
	case hasTxn && strings.Contains(s, "session"):
		return true
	case strings.Contains(s, "illegal operation") && hasTxn:
		return true
	}
	return false
}

// Run executes fn inside a transaction on client. If the server rejects
// transactions, Run returns ErrNotSupported without having applied fn's writes.
func Run(ctx context.Context, client *mongo.Client, fn func(sc mongo.SessionContext) error) error {
	sess, err := client.StartSession()
	if err != nil {
		if IsNotSupported(err) {
			return ErrNotSupported
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if IsNotSupported(err) {
		return ErrNotSupported
	}
	return err
}

// InSession reports whether ctx already carries a session, meaning writes
// made with it belong to the caller's transaction.
func InSession(ctx context.Context) bool {
	return mongo.SessionFromContext(ctx) != nil
}

// Runner lets engines that only pass a context through to stores group
// their writes into one transaction.
type Runner struct {
	Client *mongo.Client
}

// Do runs fn in a transaction. Stores called with the ctx fn receives join
// it. Returns ErrNotSupported on a standalone server.
func (r Runner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return Run(ctx, r.Client, func(sc mongo.SessionContext) error {
		return fn(sc)
	})
}
