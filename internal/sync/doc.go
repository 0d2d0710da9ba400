// Package sync keeps in-memory mirrors of a signed-in identity's tasks,
// projects, team invitations and team roster consistent with the
// document store.
//
// Overview
//
// Each synchronizer owns one Mirror. Views read mirrors (List, Pending,
// Members, ...) and call synchronizer operations to change them; they
// never write a mirror directly.
//
//	view ──op──▶ synchronizer ──optimistic change──▶ Mirror ──▶ listeners
//	                  │
//	                  └──remote write──▶ Store ──push snapshot──▶ Mirror
//
// Tasks and projects are fed by push subscriptions: every snapshot
// replaces the mirror wholesale, superseding any optimistic state.
// Invitations and the roster are polled.
//
// Optimistic writes
//
// Task operations apply their change to the mirror before the remote
// write starts and restore the pre-change snapshot if the write fails:
//
//	id, err := tasks.Create(ctx, schema.Task{Title: "Write report"})
//	// tasks.List() already contains id (a "temp-" id) here
//	if err != nil {
//	    // the temporary entry is gone again
//	}
//
// Project and invitation operations are not optimistic; they write and
// wait for the next snapshot or refresh.
//
// Identity
//
// A Scope carries the acting identity into every synchronizer. The
// Workspace builds a Bundle of synchronizers when an identity signs in
// and closes it on sign-out:
//
//	ws := sync.NewWorkspace(store, sync.DefaultConfig())
//	stop := ws.Follow(provider)
//	defer stop()
//
//	if b := ws.Current(); b != nil {
//	    fmt.Println(len(b.Tasks.List()))
//	}
//
// Concurrency
//
// All types are safe for concurrent use. Operations block on the remote
// call; concurrent mutations of the same entity are not serialized and
// each reverts to its own snapshot.
package sync
