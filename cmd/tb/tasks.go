package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/taskboard/internal/board"
	"github.com/Mschirtzinger/taskboard/internal/schema"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
	"github.com/Mschirtzinger/taskboard/internal/ui"
)

func parseStatus(s string) schema.Status {
	st := schema.Status(strings.ToLower(s))
	if !st.IsValid() {
		fatalf("invalid status %q (want pending, in-progress or completed)", s)
	}
	return st
}

func parsePriority(s string) schema.Priority {
	p := schema.Priority(strings.ToLower(s))
	if !p.IsValid() {
		fatalf("invalid priority %q (want low, medium or high)", s)
	}
	return p
}

func shortID(id string) string {
	if len(id) > 8 && !strings.HasPrefix(id, schema.TempIDPrefix) {
		return id[:8]
	}
	return id
}

func projectName(b *tbsync.Bundle, id string) string {
	if id == "" {
		return "-"
	}
	if p, ok := b.Projects.Get(id); ok {
		return p.Name
	}
	return shortID(id)
}

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "tasks",
	Short:   "Create, list and edit tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		draft := schema.Task{Title: strings.Join(args, " ")}
		draft.Description, _ = cmd.Flags().GetString("desc")
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			draft.Status = parseStatus(s)
		}
		if p, _ := cmd.Flags().GetString("priority"); p != "" {
			draft.Priority = parsePriority(p)
		}
		if who, _ := cmd.Flags().GetString("assign"); who != "" {
			draft.AssignedTo = resolveAssignee(cmd.Context(), b, who)
		}
		if ref, _ := cmd.Flags().GetString("project"); ref != "" {
			draft.ProjectID = resolveProject(b, ref).ID
		}
		if due, _ := cmd.Flags().GetString("due"); due != "" {
			date, err := parseDue(due, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			draft.DueDate = date
		}
		if err := schema.ValidateDescription(draft.Description); err != nil {
			fatalf("%v", err)
		}

		if _, err := b.Tasks.Create(cmd.Context(), draft); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created task: %s\n", ui.RenderPass("✓"), ui.RenderBold(draft.Title))
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Long: `List the tasks you created, newest update first.

Sort fields: title, status, priority, dueDate, assignedTo, updatedAt.
Tasks without a due date always sort last.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		var f board.Filter
		if s, _ := cmd.Flags().GetString("status"); s != "" && s != "all" {
			f.Status = parseStatus(s)
		}
		if p, _ := cmd.Flags().GetString("priority"); p != "" && p != "all" {
			f.Priority = parsePriority(p)
		}
		if who, _ := cmd.Flags().GetString("assignee"); who != "" {
			f.AssigneeID = resolveAssignee(cmd.Context(), b, who)
		}
		if ref, _ := cmd.Flags().GetString("project"); ref != "" {
			f.ProjectID = resolveProject(b, ref).ID
		}
		f.Text, _ = cmd.Flags().GetString("search")

		tasks := board.Apply(b.Tasks.List(), f)
		if s, _ := cmd.Flags().GetString("sort"); s != "" {
			field, err := board.ParseSortField(s)
			if err != nil {
				fatalf("%v", err)
			}
			desc, _ := cmd.Flags().GetBool("desc")
			tasks = board.Sort(tasks, field, desc, func(id string) string { return displayUser(b, id) })
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(tasks); err != nil {
				fatalf("%v", err)
			}
			return
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return
		}
		if !b.Tasks.Ordered() {
			warnf("the updatedAt index is missing; showing tasks unordered")
		}

		fmt.Printf("%s %s %s %s %s %s\n",
			ui.RenderHeader(ui.PadRight("ID", 10)),
			ui.RenderHeader(ui.PadRight("TITLE", 32)),
			ui.RenderHeader(ui.PadRight("STATUS", 12)),
			ui.RenderHeader(ui.PadRight("PRIORITY", 9)),
			ui.RenderHeader(ui.PadRight("DUE", 11)),
			ui.RenderHeader("ASSIGNEE"))
		for _, t := range tasks {
			due := t.DueDate
			if due == "" {
				due = "-"
			}
			fmt.Printf("%s %s %s %s %s %s\n",
				ui.PadRight(ui.RenderMuted(shortID(t.ID)), 10),
				ui.PadRight(ui.Truncate(t.Title, 32), 32),
				ui.PadRight(ui.RenderStatus(t.Status), 12),
				ui.PadRight(ui.RenderPriority(t.Priority), 9),
				ui.PadRight(due, 11),
				displayUser(b, t.AssignedTo))
		}
		fmt.Printf("\n%d task(s)\n", len(tasks))
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its comments",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		t := resolveTask(b, args[0])
		fmt.Printf("%s %s\n", ui.RenderBold(t.Title), ui.RenderMuted(t.ID))
		fmt.Printf("   Status:   %s\n", ui.RenderStatus(t.Status))
		fmt.Printf("   Priority: %s\n", ui.RenderPriority(t.Priority))
		fmt.Printf("   Assignee: %s\n", displayUser(b, t.AssignedTo))
		fmt.Printf("   Project:  %s\n", projectName(b, t.ProjectID))
		if t.DueDate != "" {
			fmt.Printf("   Due:      %s\n", t.DueDate)
		}
		fmt.Printf("   Created:  %s\n", humanize.Time(t.CreatedAt))
		fmt.Printf("   Updated:  %s\n", humanize.Time(t.UpdatedAt))
		if t.Description != "" {
			fmt.Printf("\n%s\n", t.Description)
		}

		if len(t.Comments) > 0 {
			fmt.Printf("\n%s\n", ui.RenderHeader(fmt.Sprintf("Comments (%d)", len(t.Comments))))
			for _, c := range t.Comments {
				fmt.Printf("  %s %s\n", ui.RenderAccent(displayUser(b, c.UserID)), ui.RenderMuted(humanize.Time(c.Date)))
				fmt.Printf("    %s\n", c.Text)
			}
		}
	},
}

var taskMoveCmd = &cobra.Command{
	Use:   "move <id> <status>",
	Short: "Move a task to another board column",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		t := resolveTask(b, args[0])
		status := parseStatus(args[1])
		if err := b.Tasks.Move(cmd.Context(), t.ID, status); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s %s → %s\n", ui.RenderPass("✓"), t.Title, ui.RenderStatus(status))
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of a task",
	Long: `Change fields of a task. Only the flags given are changed.

Use --assign none, --project none or --due none to clear a field.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		t := resolveTask(b, args[0])
		flags := cmd.Flags()
		var changes tbsync.TaskChanges

		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			changes.Title = &v
		}
		if flags.Changed("desc") {
			v, _ := flags.GetString("desc")
			if err := schema.ValidateDescription(v); err != nil {
				fatalf("%v", err)
			}
			changes.Description = &v
		}
		if flags.Changed("status") {
			v, _ := flags.GetString("status")
			st := parseStatus(v)
			changes.Status = &st
		}
		if flags.Changed("priority") {
			v, _ := flags.GetString("priority")
			p := parsePriority(v)
			changes.Priority = &p
		}
		if flags.Changed("assign") {
			v, _ := flags.GetString("assign")
			id := resolveAssignee(cmd.Context(), b, v)
			changes.AssignedTo = &id
		}
		if flags.Changed("project") {
			v, _ := flags.GetString("project")
			id := ""
			if v != "none" {
				id = resolveProject(b, v).ID
			}
			changes.ProjectID = &id
		}
		if flags.Changed("due") {
			v, _ := flags.GetString("due")
			date, err := parseDue(v, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			changes.DueDate = &date
		}

		if changes.IsEmpty() {
			fatalf("nothing to change; pass at least one flag")
		}
		if err := b.Tasks.Update(cmd.Context(), t.ID, changes); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Updated task: %s\n", ui.RenderPass("✓"), t.Title)
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		t := resolveTask(b, args[0])
		if err := b.Tasks.Remove(cmd.Context(), t.ID); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted task: %s\n", ui.RenderPass("✓"), t.Title)
	},
}

var taskCommentCmd = &cobra.Command{
	Use:   "comment <id> <text...>",
	Short: "Add a comment to a task",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		t := resolveTask(b, args[0])
		if err := b.Tasks.AddComment(cmd.Context(), t.ID, strings.Join(args[1:], " ")); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Commented on %s\n", ui.RenderPass("✓"), t.Title)
	},
}

var boardCmd = &cobra.Command{
	Use:     "board",
	GroupID: "tasks",
	Short:   "Show tasks as kanban columns",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		width, _ := cmd.Flags().GetInt("width")
		cols := board.Kanban(b.Tasks.List())
		blocks := make([]string, len(cols))
		for i, col := range cols {
			var sb strings.Builder
			head := fmt.Sprintf("%s %s", ui.RenderStatus(col.Status), ui.RenderMuted(fmt.Sprintf("(%d)", len(col.Tasks))))
			sb.WriteString(ui.PadRight(head, width) + "\n")
			for _, t := range col.Tasks {
				line := priorityMark(t.Priority) + " " + ui.Truncate(t.Title, width-2)
				sb.WriteString(ui.PadRight(line, width) + "\n")
			}
			blocks[i] = strings.TrimSuffix(sb.String(), "\n")
		}
		fmt.Println(ui.Columns(2, blocks...))
	},
}

// priorityMark is the one-character priority cue used on the board.
func priorityMark(p schema.Priority) string {
	switch p {
	case schema.PriorityHigh:
		return ui.RenderFail("●")
	case schema.PriorityMedium:
		return ui.RenderWarn("●")
	}
	return ui.RenderMuted("●")
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "tasks",
	Short:   "Show board statistics",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		st := board.Summarize(b.Tasks.List(), b.Scope.UserID(), time.Now())
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(st); err != nil {
				fatalf("%v", err)
			}
			return
		}

		fmt.Printf("%s\n\n", ui.RenderHeader("Board Statistics"))
		fmt.Printf("  Total tasks:   %d\n", st.Total)
		fmt.Printf("  Due today:     %d\n", st.DueToday)
		fmt.Printf("  In progress:   %d (%.0f%%)\n", st.InProgress, st.Percent(st.InProgress))
		fmt.Printf("  Completed:     %s (%.0f%%)\n", ui.RenderPass(fmt.Sprint(st.Completed)), st.Percent(st.Completed))
		fmt.Printf("  Mine:          %d\n", st.Mine)
		fmt.Printf("  High priority: %s\n", ui.RenderFail(fmt.Sprint(st.HighPriority)))

		if len(st.Recent) > 0 {
			fmt.Printf("\n%s\n", ui.RenderHeader("Recently updated"))
			for _, t := range st.Recent {
				fmt.Printf("  %s %s %s\n", ui.PadRight(ui.RenderStatus(t.Status), 12), ui.Truncate(t.Title, 40), ui.RenderMuted(humanize.Time(t.UpdatedAt)))
			}
		}
	},
}

func init() {
	taskAddCmd.Flags().String("desc", "", "Description")
	taskAddCmd.Flags().StringP("priority", "p", "", "Priority (low, medium, high)")
	taskAddCmd.Flags().StringP("status", "s", "", "Status (pending, in-progress, completed)")
	taskAddCmd.Flags().StringP("assign", "a", "", "Assignee: me, a teammate's username, or none")
	taskAddCmd.Flags().String("project", "", "Project name or id")
	taskAddCmd.Flags().String("due", "", "Due date (YYYY-MM-DD or e.g. \"next friday\")")

	taskListCmd.Flags().StringP("status", "s", "", "Filter by status (or all)")
	taskListCmd.Flags().StringP("priority", "p", "", "Filter by priority (or all)")
	taskListCmd.Flags().StringP("assignee", "a", "", "Filter by assignee (me or a username)")
	taskListCmd.Flags().String("project", "", "Filter by project name or id")
	taskListCmd.Flags().StringP("search", "q", "", "Match title or description")
	taskListCmd.Flags().String("sort", "", "Sort field")
	taskListCmd.Flags().Bool("desc", false, "Sort descending")
	taskListCmd.Flags().Bool("json", false, "Output JSON")

	taskEditCmd.Flags().String("title", "", "New title")
	taskEditCmd.Flags().String("desc", "", "New description")
	taskEditCmd.Flags().StringP("status", "s", "", "New status")
	taskEditCmd.Flags().StringP("priority", "p", "", "New priority")
	taskEditCmd.Flags().StringP("assign", "a", "", "New assignee (me, username, or none)")
	taskEditCmd.Flags().String("project", "", "New project (name, id, or none)")
	taskEditCmd.Flags().String("due", "", "New due date (or none)")

	boardCmd.Flags().Int("width", 30, "Column width")
	statsCmd.Flags().Bool("json", false, "Output JSON")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskMoveCmd, taskEditCmd, taskRemoveCmd, taskCommentCmd)
	rootCmd.AddCommand(taskCmd, boardCmd, statsCmd)
}
