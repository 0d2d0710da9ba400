// Package daemon runs a long-lived workspace for the signed-in identity.
//
// The daemon keeps one Workspace open, follows the CLI session and the
// config files on disk, and publishes every mirror change to the
// dashboard.
//
// # Architecture
//
//   - Session following: the session file's directory is watched with
//     fsnotify. Changes are debounced and then reloaded, so `tb login`
//     and `tb logout` in another process switch the workspace.
//   - Config following: a config.Watcher reports reloaded settings and
//     the daemon applies the new polling intervals to the workspace.
//   - Dashboard: an optional dashboard.Server streams mirror snapshots
//     to websocket clients.
//
// # Usage
//
//	d, err := daemon.New(daemon.Options{
//	    Workspace:   ws,
//	    Session:     provider,
//	    SessionFile: cfg.Session.File,
//	    Server:      dashboard.NewServer(&dashboard.Config{Port: cfg.Dashboard.Port}),
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = d.Start(ctx) // blocks until ctx is cancelled
//
// # Logging
//
// LogWriter returns a size-rotated file writer for the daemon's loggers
// when a log file is configured, stderr otherwise.
//
// # Graceful Shutdown
//
// Stop is safe to call more than once. It stops the watchers, the
// dashboard, and the workspace's synchronizers in that order. The
// document store is owned by the caller and left open.
package daemon
