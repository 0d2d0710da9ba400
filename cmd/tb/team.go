package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/taskboard/internal/schema"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
	"github.com/Mschirtzinger/taskboard/internal/ui"
)

// resolvePending finds a pending invite by id or unique id prefix.
func resolvePending(b *tbsync.Bundle, ref string) schema.TeamInvite {
	var matches []schema.TeamInvite
	for _, inv := range b.Invites.Pending() {
		if inv.ID == ref {
			return inv
		}
		if strings.HasPrefix(inv.ID, ref) {
			matches = append(matches, inv)
		}
	}
	switch len(matches) {
	case 0:
		fatalf("no pending invite matches %q", ref)
	case 1:
		return matches[0]
	}
	fatalf("%q matches %d invites; use more of the id", ref, len(matches))
	return schema.TeamInvite{}
}

func refreshInvites(cmd *cobra.Command, b *tbsync.Bundle) {
	if err := b.Invites.Refresh(cmd.Context()); err != nil {
		fatalf("%v", err)
	}
}

var teamCmd = &cobra.Command{
	Use:     "team",
	GroupID: "team",
	Short:   "Invite teammates and manage your team",
}

var teamInviteCmd = &cobra.Command{
	Use:   "invite <username>",
	Short: "Invite a user to your team",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		err := b.Invites.Send(cmd.Context(), args[0])
		switch {
		case errors.Is(err, tbsync.ErrUserNotFound):
			fatalf("no user named %q", schema.NormalizeUsername(args[0]))
		case errors.Is(err, tbsync.ErrSelfInvite):
			fatalf("you cannot invite yourself")
		case err != nil:
			fatalf("%v", err)
		}
		fmt.Printf("%s Invitation sent to @%s\n", ui.RenderPass("✓"), schema.NormalizeUsername(args[0]))
	},
}

var teamInvitesCmd = &cobra.Command{
	Use:   "invites",
	Short: "List received and sent invitations",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()
		refreshInvites(cmd, b)

		pending := b.Invites.Pending()
		fmt.Printf("%s\n", ui.RenderHeader(fmt.Sprintf("Received (%d)", len(pending))))
		if len(pending) == 0 {
			fmt.Println("  " + ui.RenderMuted("none"))
		}
		for _, inv := range pending {
			fmt.Printf("  %s @%s %s\n", ui.PadRight(ui.RenderMuted(shortID(inv.ID)), 10),
				ui.RenderAccent(inv.FromUsername), ui.RenderMuted(humanize.Time(inv.CreatedAt)))
			if inv.Message != "" {
				fmt.Printf("    %s\n", inv.Message)
			}
		}

		sent := b.Invites.Sent()
		fmt.Printf("\n%s\n", ui.RenderHeader(fmt.Sprintf("Sent (%d)", len(sent))))
		if len(sent) == 0 {
			fmt.Println("  " + ui.RenderMuted("none"))
		}
		for _, inv := range sent {
			status := string(inv.Status)
			switch inv.Status {
			case schema.InviteAccepted:
				status = ui.RenderPass(status)
			case schema.InviteRejected:
				status = ui.RenderFail(status)
			default:
				status = ui.RenderWarn(status)
			}
			fmt.Printf("  @%s %s %s\n", ui.PadRight(inv.ToUsername, 16), ui.PadRight(status, 9),
				ui.RenderMuted(humanize.Time(inv.CreatedAt)))
		}
	},
}

var teamAcceptCmd = &cobra.Command{
	Use:   "accept <invite>",
	Short: "Accept a pending invitation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()
		refreshInvites(cmd, b)

		inv := resolvePending(b, args[0])
		err := b.Invites.Accept(cmd.Context(), inv.ID)
		switch {
		case errors.Is(err, tbsync.ErrMembershipNotRecorded):
			warnf("accepted, but the membership could not be recorded: %v", err)
		case err != nil:
			fatalf("%v", err)
		}
		fmt.Printf("%s Joined @%s's team\n", ui.RenderPass("✓"), inv.FromUsername)
	},
}

var teamRejectCmd = &cobra.Command{
	Use:   "reject <invite>",
	Short: "Decline a pending invitation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()
		refreshInvites(cmd, b)

		inv := resolvePending(b, args[0])
		if err := b.Invites.Reject(cmd.Context(), inv.ID); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Declined invitation from @%s\n", ui.RenderPass("✓"), inv.FromUsername)
	},
}

var teamMembersCmd = &cobra.Command{
	Use:     "members",
	Aliases: []string{"ls"},
	Short:   "List your teammates",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		if err := b.Roster.Refresh(cmd.Context()); err != nil {
			fatalf("%v", err)
		}
		members := b.Roster.Members()
		if len(members) <= 1 {
			fmt.Println("No teammates yet (invite one with 'tb team invite <username>')")
			return
		}
		me := b.Scope.UserID()
		for _, u := range members {
			name := u.DisplayName()
			if u.ID == me {
				name += ui.RenderMuted(" (you)")
			}
			fmt.Printf("  %s %s %s\n", ui.PadRight(ui.RenderAccent("@"+u.Username), 18), ui.PadRight(name, 28), ui.RenderMuted(u.Email))
		}
	},
}

var teamRemoveCmd = &cobra.Command{
	Use:   "remove <username>",
	Short: "Remove a teammate",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()
		b, done := a.bundle(cmd.Context())
		defer done()

		if err := b.Roster.Refresh(cmd.Context()); err != nil {
			fatalf("%v", err)
		}
		name := schema.NormalizeUsername(args[0])
		var target *schema.User
		for _, u := range b.Roster.Members() {
			if u.Username == name {
				target = &u
				break
			}
		}
		if target == nil {
			fatalf("@%s is not on your team", name)
		}
		if target.ID == b.Scope.UserID() {
			fatalf("you cannot remove yourself")
		}

		if err := b.Invites.RemoveMember(cmd.Context(), target.ID); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Removed @%s from your team\n", ui.RenderPass("✓"), target.Username)
	},
}

func init() {
	teamCmd.AddCommand(teamInviteCmd, teamInvitesCmd, teamAcceptCmd, teamRejectCmd, teamMembersCmd, teamRemoveCmd)
	rootCmd.AddCommand(teamCmd)
}
