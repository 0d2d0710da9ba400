// Command tb is a terminal client for the task board.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/taskboard/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Task board: tasks, projects and teams from the terminal",
	Long: `tb manages your tasks, projects and team from the terminal.

Data lives in a local document store (see 'tb init' and 'tb status').
Sign up or log in once; the session is remembered until 'tb logout'.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "projects", Title: "Projects:"},
		&cobra.Group{ID: "team", Title: "Team:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	rootCmd.PersistentFlags().String("store", "", "Document store path (overrides store.path)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log store and sync activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
