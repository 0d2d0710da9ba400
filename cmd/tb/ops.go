package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/taskboard/internal/config"
	"github.com/Mschirtzinger/taskboard/internal/daemon"
	"github.com/Mschirtzinger/taskboard/internal/dashboard"
	"github.com/Mschirtzinger/taskboard/internal/loadtest"
	"github.com/Mschirtzinger/taskboard/internal/migrate"
	"github.com/Mschirtzinger/taskboard/internal/schema"
	"github.com/Mschirtzinger/taskboard/internal/session"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
	"github.com/Mschirtzinger/taskboard/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "ops",
	Short:   "Run the live dashboard daemon",
	Long: `Run the dashboard daemon.

The daemon follows the session of 'tb login' and 'tb logout', keeps the
task, project, invite and roster mirrors of that identity live, and
streams them to websocket clients on /ws. Read-only JSON views are
served under /api. Config changes to the refresh intervals apply without
a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("log-file") {
			cfg.Log.File, _ = cmd.Flags().GetString("log-file")
		}

		out := daemon.LogWriter(cfg.Log)
		defer out.Close()
		logger := func(prefix string) *log.Logger {
			return log.New(out, prefix, log.LstdFlags)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openStore(ctx, cfg, logger("[docstore] "))
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		provider := session.New(db, cfg.Session.File, logger("[session] "))
		ws := tbsync.NewWorkspace(db, &tbsync.Config{
			TeamRefreshInterval:   cfg.Sync.TeamRefreshInterval,
			InviteRefreshInterval: cfg.Sync.InviteRefreshInterval,
			Logger:                logger("[sync] "),
		})
		server := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Host:   "127.0.0.1",
			Logger: logger("[dashboard] "),
		})

		watcher, err := config.NewWatcher(config.DefaultLoader(), 0)
		if err != nil {
			warnf("config changes will not be followed: %v", err)
			watcher = nil
		}

		d, err := daemon.New(daemon.Options{
			Workspace:     ws,
			Session:       provider,
			SessionFile:   cfg.Session.File,
			Server:        server,
			ConfigWatcher: watcher,
		}, &daemon.Config{Logger: logger("[daemon] ")})
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Dashboard on http://127.0.0.1:%d (Ctrl+C to stop)\n", ui.RenderPass("●"), cfg.Dashboard.Port)
		if err := d.Start(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "ops",
	Short:   "Write a config file and create the document store",
	Run: func(cmd *cobra.Command, args []string) {
		loader := config.DefaultLoader()
		path := loader.GlobalPath()
		if project, _ := cmd.Flags().GetBool("project"); project {
			path = loader.ProjectPath()
		}
		force, _ := cmd.Flags().GetBool("force")

		cfg := config.DefaultConfig(loader.Home)
		if store, _ := cmd.Flags().GetString("store"); store != "" {
			abs, err := filepath.Abs(store)
			if err != nil {
				fatalf("%v", err)
			}
			cfg.Store.Path = abs
		}

		if err := config.Write(path, cfg, force); err != nil {
			fatalf("%v (use --force to replace it)", err)
		}

		db, err := openStore(cmd.Context(), cfg, commandLogger(cmd, "[docstore] "))
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("%s Store ready at %s\n", ui.RenderPass("✓"), cfg.Store.Path)
		fmt.Println("\nNext: tb signup")
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "ops",
	Short:   "Show store, config and session state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		fmt.Printf("%s\n", ui.RenderHeader("Store"))
		fmt.Printf("  Path:  %s\n", cfg.Store.Path)
		info, err := os.Stat(cfg.Store.Path)
		if err != nil {
			fmt.Printf("  %s\n", ui.RenderWarn("not created yet (run 'tb init')"))
			return
		}
		fmt.Printf("  Size:  %s\n", humanize.Bytes(uint64(info.Size())))
		rules := ui.RenderPass("on")
		if !cfg.Store.Rules {
			rules = ui.RenderWarn("off")
		}
		fmt.Printf("  Rules: %s\n", rules)

		db, err := openStore(cmd.Context(), cfg, commandLogger(cmd, "[docstore] "))
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		for _, coll := range []string{
			schema.CollectionTasks,
			schema.CollectionProjects,
			schema.CollectionUsers,
			schema.CollectionInvites,
			schema.CollectionMemberships,
		} {
			n, err := db.Count(cmd.Context(), coll)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("  %s %s\n", ui.PadRight(coll+":", 13), humanize.Comma(int64(n)))
		}

		fmt.Printf("\n%s\n", ui.RenderHeader("Sync"))
		fmt.Printf("  Team refresh:   %s\n", cfg.Sync.TeamRefreshInterval)
		fmt.Printf("  Invite refresh: %s\n", cfg.Sync.InviteRefreshInterval)

		fmt.Printf("\n%s\n", ui.RenderHeader("Session"))
		f, err := session.ReadFile(cfg.Session.File)
		switch {
		case err != nil:
			fmt.Printf("  %s\n", ui.RenderFail(err.Error()))
		case f == nil:
			fmt.Printf("  %s\n", ui.RenderMuted("not logged in"))
		default:
			fmt.Printf("  %s, logged in %s\n", f.Email, humanize.Time(f.SignedInAt))
		}
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "ops",
	Short:   "Export your projects and tasks to JSONL",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		user, err := a.session.Require()
		if err != nil {
			fatalf("not logged in (run 'tb login' or 'tb signup')")
		}

		out, _ := cmd.Flags().GetString("out")
		backup, _ := cmd.Flags().GetBool("backup")
		result, err := migrate.Export(cmd.Context(), a.db, migrate.ExportOptions{
			OwnerID: user.ID,
			ToJSONL: out,
			Backup:  backup,
		})
		if err != nil {
			fatalf("%v", err)
		}

		if result.BackupCreated != "" {
			fmt.Printf("%s Backed up previous export to %s\n", ui.RenderMuted("•"), result.BackupCreated)
		}
		fmt.Printf("%s Exported %d project(s) and %d task(s) to %s\n", ui.RenderPass("✓"), result.Projects, result.Tasks, out)
		reportErrors(result)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "ops",
	Short:   "Import projects and tasks from a JSONL export",
	Long: `Import projects and tasks from a JSONL export.

Imported documents are owned by the logged-in identity. Ids are kept,
so importing the same file twice does not duplicate anything.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		user, err := a.session.Require()
		if err != nil {
			fatalf("not logged in (run 'tb login' or 'tb signup')")
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		result, err := migrate.Import(cmd.Context(), a.db, migrate.ImportOptions{
			OwnerID:   user.ID,
			FromJSONL: args[0],
			DryRun:    dryRun,
		})
		if err != nil {
			fatalf("%v", err)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d project(s) and %d task(s)", ui.RenderPass("✓"), verb, result.Projects, result.Tasks)
		if result.Skipped > 0 {
			fmt.Printf(", skipped %d", result.Skipped)
		}
		fmt.Println()
		reportErrors(result)
	},
}

func reportErrors(result *migrate.Result) {
	for _, msg := range result.Errors {
		warnf("%s", msg)
	}
}

var usersCmd = &cobra.Command{
	Use:     "users",
	GroupID: "ops",
	Short:   "Inspect and repair user profiles",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every profile with its username",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()

		entries, err := migrate.ListUsernames(cmd.Context(), a.db)
		if err != nil {
			fatalf("%v", err)
		}
		for _, e := range entries {
			username := e.Username
			if username == "" {
				username = ui.RenderWarn("(none)")
			}
			fmt.Printf("  %s %s %s\n", ui.PadRight(username, 18), ui.PadRight(e.Name, 24), ui.RenderMuted(e.Email))
		}
		fmt.Printf("\n%s user(s)\n", humanize.Comma(int64(len(entries))))
	},
}

var usersFixCmd = &cobra.Command{
	Use:   "fix-usernames",
	Short: "Lowercase stored usernames so invitations can find them",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()

		n, err := migrate.FixUsernames(cmd.Context(), a.db)
		if err != nil {
			fatalf("%v", err)
		}
		if n == 0 {
			fmt.Println("All usernames are already lowercase")
			return
		}
		fmt.Printf("%s Fixed %d username(s)\n", ui.RenderPass("✓"), n)
	},
}

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "ops",
	Short:   "Load-test the sync layer on a scratch store",
	Long: `Seed a throwaway store with users and tasks, then have every user
create, move and comment on tasks at the same time through its own
mirror. Reports mutation latency and fails if a mirror does not
converge or shows another user's task.`,
	Run: func(cmd *cobra.Command, args []string) {
		users, _ := cmd.Flags().GetInt("users")
		tasks, _ := cmd.Flags().GetInt("tasks")
		ops, _ := cmd.Flags().GetInt("ops")

		dir, err := os.MkdirTemp("", "tb-bench-")
		if err != nil {
			fatalf("%v", err)
		}
		defer os.RemoveAll(dir)

		cfg := config.DefaultConfig(dir)
		cfg.Store.Path = filepath.Join(dir, "bench.db")
		db, err := openStore(cmd.Context(), cfg, commandLogger(cmd, "[docstore] "))
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()

		logger := commandLogger(cmd, "[bench] ")
		board, err := loadtest.Seed(cmd.Context(), db, users, tasks, logger)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("Running %d users × %d mutations over %s seeded tasks...\n\n",
			users, ops, humanize.Comma(int64(users*tasks)))
		stats, err := board.Run(cmd.Context(), ops)
		if err != nil {
			fatalf("%v", err)
		}
		stats.Print(os.Stdout)
		if stats.Errors > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	benchCmd.Flags().Int("users", 10, "Concurrent users")
	benchCmd.Flags().Int("tasks", 50, "Seeded tasks per user")
	benchCmd.Flags().Int("ops", 20, "Mutations per user")

	serveCmd.Flags().Int("port", 8080, "Dashboard port (overrides dashboard.port)")
	serveCmd.Flags().String("log-file", "", "Rotate daemon logs into this file (overrides log.file)")

	initCmd.Flags().Bool("project", false, "Write ./.taskboard/config.yaml instead of the global config")
	initCmd.Flags().Bool("force", false, "Replace an existing config file")

	exportCmd.Flags().StringP("out", "o", "taskboard.jsonl", "Output file")
	exportCmd.Flags().Bool("backup", false, "Keep a timestamped copy of an existing output file")

	importCmd.Flags().Bool("dry-run", false, "Validate without writing")

	usersCmd.AddCommand(usersListCmd, usersFixCmd)
	rootCmd.AddCommand(serveCmd, initCmd, benchCmd, statusCmd, exportCmd, importCmd, usersCmd)
}
