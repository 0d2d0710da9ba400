package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/taskboard/internal/schema"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
	"github.com/Mschirtzinger/taskboard/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "projects",
	Short:   "Manage projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		draft := schema.Project{Name: args[0]}
		draft.Color, _ = cmd.Flags().GetString("color")
		draft.Description, _ = cmd.Flags().GetString("desc")

		id, err := b.Projects.Create(cmd.Context(), draft)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created project: %s %s\n", ui.RenderPass("✓"), ui.RenderBold(draft.Name), ui.RenderMuted(id))
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects with their task counts",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		projects := b.Projects.List()
		if len(projects) == 0 {
			fmt.Println("No projects yet (create one with 'tb project add <name>')")
			return
		}
		for _, p := range projects {
			fmt.Printf("%s %s %s %s\n",
				ui.RenderSwatch(p.Color),
				ui.PadRight(ui.RenderBold(ui.Truncate(p.Name, 24)), 24),
				ui.PadRight(ui.RenderMuted(shortID(p.ID)), 10),
				fmt.Sprintf("%d task(s)", p.TaskCount))
			if p.Description != "" {
				fmt.Printf("  %s\n", ui.RenderMuted(ui.Truncate(p.Description, 60)))
			}
		}
	},
}

var projectEditCmd = &cobra.Command{
	Use:   "edit <project>",
	Short: "Rename or recolor a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		p := resolveProject(b, args[0])
		flags := cmd.Flags()
		var changes tbsync.ProjectChanges
		if flags.Changed("name") {
			v, _ := flags.GetString("name")
			changes.Name = &v
		}
		if flags.Changed("color") {
			v, _ := flags.GetString("color")
			changes.Color = &v
		}
		if flags.Changed("desc") {
			v, _ := flags.GetString("desc")
			changes.Description = &v
		}
		if changes.Name == nil && changes.Color == nil && changes.Description == nil {
			fatalf("nothing to change; pass --name, --color or --desc")
		}

		if err := b.Projects.Update(cmd.Context(), p.ID, changes); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Updated project: %s\n", ui.RenderPass("✓"), p.Name)
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "rm <project>",
	Aliases: []string{"delete"},
	Short:   "Delete a project (its tasks are kept)",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		p := resolveProject(b, args[0])
		if err := b.Projects.Remove(cmd.Context(), p.ID); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted project: %s\n", ui.RenderPass("✓"), p.Name)
		if p.TaskCount > 0 {
			warnf("%d task(s) still reference this project", p.TaskCount)
		}
	},
}

func init() {
	projectAddCmd.Flags().String("color", "", "Hex color (default "+schema.DefaultProjectColor+")")
	projectAddCmd.Flags().String("desc", "", "Description")

	projectEditCmd.Flags().String("name", "", "New name")
	projectEditCmd.Flags().String("color", "", "New hex color")
	projectEditCmd.Flags().String("desc", "", "New description")

	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectEditCmd, projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}
