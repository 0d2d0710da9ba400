package docstore

import (
	"context"
	"fmt"
)

type actorKey struct{}

// WithActor attaches the calling identity to ctx for access rules.
func WithActor(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, actorKey{}, uid)
}

// ActorFrom returns the identity attached by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	uid, _ := ctx.Value(actorKey{}).(string)
	return uid
}

// SetRule replaces the owner fields of a collection. An empty list
// removes the rule.
func (db *DB) SetRule(collection string, ownerFields ...string) {
	db.subsMu.Lock()
	defer db.subsMu.Unlock()
	if len(ownerFields) == 0 {
		delete(db.rules, collection)
		return
	}
	db.rules[collection] = ownerFields
}

func (db *DB) checkRules(ctx context.Context, q Query) error {
	db.subsMu.Lock()
	fields, ruled := db.rules[q.Collection]
	db.subsMu.Unlock()
	if !ruled {
		return nil
	}

	actor := ActorFrom(ctx)
	if actor == "" {
		return fmt.Errorf("%w: %s requires a signed-in identity", ErrPermissionDenied, q.Collection)
	}
	for _, f := range q.Filters {
		if f.Op != OpEqual {
			continue
		}
		for _, owner := range fields {
			if f.Field == owner && bindValue(f.Value) == actor {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: query on %s must be scoped to the caller", ErrPermissionDenied, q.Collection)
}
