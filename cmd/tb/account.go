package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/session"
	"github.com/Mschirtzinger/taskboard/internal/ui"
)

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var signupCmd = &cobra.Command{
	Use:     "signup",
	GroupID: "account",
	Short:   "Create an account and log in",
	Long: `Create an account with an email, password and unique username.

Usernames are stored in lowercase and are how teammates invite you.
Missing fields are prompted for when running in a terminal.`,
	Run: func(cmd *cobra.Command, args []string) {
		req := session.SignUpRequest{}
		req.Email, _ = cmd.Flags().GetString("email")
		req.Password, _ = cmd.Flags().GetString("password")
		req.Name, _ = cmd.Flags().GetString("name")
		req.Username, _ = cmd.Flags().GetString("username")

		if req.Email == "" || req.Password == "" || req.Username == "" {
			if !interactive() {
				fatalf("--email, --password and --username are required")
			}
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Email").Value(&req.Email),
				huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).
					Validate(func(s string) error {
						if len(s) < docstore.MinPasswordLength {
							return fmt.Errorf("at least %d characters", docstore.MinPasswordLength)
						}
						return nil
					}).Value(&req.Password),
				huh.NewInput().Title("Full name").Value(&req.Name),
				huh.NewInput().Title("Username").Description("Teammates invite you by this name").Value(&req.Username),
			))
			if err := form.Run(); err != nil {
				fatalf("%v", err)
			}
		}

		a := openApp(cmd)
		defer a.close()

		user, err := a.session.SignUp(cmd.Context(), req)
		switch {
		case errors.Is(err, session.ErrUsernameTaken):
			fatalf("username %q is already taken", req.Username)
		case errors.Is(err, docstore.ErrEmailTaken):
			fatalf("an account with that email already exists")
		case err != nil:
			fatalf("%v", err)
		}

		fmt.Printf("%s Welcome, %s (@%s)\n", ui.RenderPass("✓"), user.DisplayName(), ui.RenderAccent(user.Username))
	},
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "account",
	Short:   "Log in with email and password",
	Run: func(cmd *cobra.Command, args []string) {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if email == "" || password == "" {
			if !interactive() {
				fatalf("--email and --password are required")
			}
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Email").Value(&email),
				huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&password),
			))
			if err := form.Run(); err != nil {
				fatalf("%v", err)
			}
		}

		a := openApp(cmd)
		defer a.close()

		user, err := a.session.SignIn(cmd.Context(), email, password)
		switch {
		case errors.Is(err, docstore.ErrInvalidCredentials):
			fatalf("invalid email or password")
		case err != nil:
			fatalf("%v", err)
		}
		fmt.Printf("%s Logged in as %s (@%s)\n", ui.RenderPass("✓"), user.DisplayName(), ui.RenderAccent(user.Username))
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Forget the current session",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()

		if a.session.Current() == nil {
			fmt.Println("Not logged in")
			return
		}
		if err := a.session.SignOut(); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the logged-in user",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd)
		defer a.close()

		user := a.session.Current()
		if user == nil {
			fmt.Println("Not logged in")
			return
		}
		fmt.Printf("%s (@%s)\n", ui.RenderBold(user.DisplayName()), ui.RenderAccent(user.Username))
		fmt.Printf("   Email: %s\n", user.Email)
		fmt.Printf("   Role:  %s\n", user.Role)
		fmt.Printf("   ID:    %s\n", ui.RenderMuted(user.ID))
	},
}

func init() {
	signupCmd.Flags().String("email", "", "Email address")
	signupCmd.Flags().String("password", "", "Password (prompted when omitted)")
	signupCmd.Flags().String("name", "", "Full name")
	signupCmd.Flags().String("username", "", "Unique username")

	loginCmd.Flags().String("email", "", "Email address")
	loginCmd.Flags().String("password", "", "Password (prompted when omitted)")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd)
}
