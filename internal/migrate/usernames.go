package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// UsernameEntry is one row of ListUsernames.
type UsernameEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// FixUsernames rewrites every stored username that is not already in
// normalized form and returns how many profiles changed. Profiles that
// were created before usernames were lowercased cannot be found by
// invitation lookups until this has run.
func FixUsernames(ctx context.Context, store Store) (int, error) {
	docs, err := store.Query(ctx, docstore.Collection(schema.CollectionUsers))
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	updated := 0
	for _, doc := range docs {
		username, _ := doc.Field("username").(string)
		if username == "" {
			continue
		}
		fixed := schema.NormalizeUsername(username)
		if fixed == username {
			continue
		}
		if err := store.Update(ctx, schema.CollectionUsers, doc.ID, docstore.Fields{"username": fixed}); err != nil {
			return updated, fmt.Errorf("failed to fix username of %s: %w", doc.ID, err)
		}
		updated++
	}
	return updated, nil
}

// ListUsernames returns every profile's identifying fields, sorted by
// username.
func ListUsernames(ctx context.Context, store Store) ([]UsernameEntry, error) {
	docs, err := store.Query(ctx, docstore.Collection(schema.CollectionUsers))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	entries := make([]UsernameEntry, 0, len(docs))
	for _, doc := range docs {
		var e UsernameEntry
		if err := doc.DataTo(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Username < entries[j].Username })
	return entries, nil
}
