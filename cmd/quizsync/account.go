package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quizapp/quizsync/internal/quiz/identity"
	"github.com/quizapp/quizsync/internal/quiz/schema"
	"github.com/quizapp/quizsync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "account",
	Short:   "Sign in as a user",
	Long: `Sign in by writing the session file, then refresh the cached profile from
the remote store.

The remote store is not an authentication service: the uid is trusted as given.`,
	Run: func(cmd *cobra.Command, args []string) {
		uid, _ := cmd.Flags().GetString("uid")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		if uid == "" {
			fatalf("--uid is required")
		}

		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		if err := a.identity.Login(identity.Session{UID: uid, Name: name, Email: email}); err != nil {
			fatalf("%v", err)
		}

		res := a.engine.FetchAndCacheUserData(ctx, uid)
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), uid)
		if !res.FromRemote() {
			fmt.Printf("%s Profile %s\n", ui.RenderWarn("⚠"), res)
		}
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Sign out (the local cache is kept)",
	Run: func(cmd *cobra.Command, args []string) {
		p := identity.NewFileProvider(cfg.Identity.Session)
		if err := p.Logout(); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

var registerCmd = &cobra.Command{
	Use:     "register",
	GroupID: "account",
	Short:   "Create or update a profile and sign in",
	Long: `Save a profile to the remote store and the local cache, then sign in.

Without --name the display name and email are asked for interactively.`,
	Run: func(cmd *cobra.Command, args []string) {
		uid, _ := cmd.Flags().GetString("uid")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")

		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		if uid == "" {
			uid = a.currentUser()
		}
		if name == "" {
			reg, err := ui.RegisterForm(ui.Registration{Name: name, Email: email})
			if errors.Is(err, ui.ErrNotInteractive) {
				fatalf("--name is required without a terminal")
			}
			if err != nil {
				fatalf("%v", err)
			}
			name, email = reg.Name, reg.Email
		}

		if err := register(ctx, a, uid, name, email); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Registered %s as %s\n", ui.RenderPass("✓"), uid, name)
	},
}

func register(ctx context.Context, a *app, uid, name, email string) error {
	var emailPtr *string
	if email != "" {
		emailPtr = schema.StringPtr(email)
	}
	if err := a.engine.SaveUserToRemoteAndCache(ctx, uid, schema.StringPtr(name), emailPtr); err != nil {
		return err
	}
	return a.identity.Login(identity.Session{UID: uid, Name: name, Email: email})
}

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "account",
	Short:   "Show or refresh the cached profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show [uid]",
	Short: "Show a cached profile (default: the signed-in user)",
	Long: `Show a profile from the local cache. A profile missing from the cache is
fetched from the remote store once.

With --follow the profile is reprinted whenever the cached copy changes,
including refreshes made by a running daemon.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		follow, _ := cmd.Flags().GetBool("follow")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := mustOpen(ctx, nil)
		defer a.close()

		uid := profileTarget(a, args)
		p, err := loadProfile(ctx, a.engine, uid)
		if err != nil {
			fatalf("%v", err)
		}
		if !follow {
			ui.PrintProfile(cmd.OutOrStdout(), p)
			return
		}

		if err := followProfile(ctx, a, uid); err != nil {
			fatalf("%v", err)
		}
	},
}

// profileReader is the part of the engine profile show needs.
type profileReader interface {
	GetUserName(ctx context.Context, userID string) (*string, error)
	Profile(ctx context.Context, userID string) (*schema.UserProfile, error)
}

// loadProfile resolves the display name cache-first, which fills the cache
// from the remote store on a miss, then reads the cached profile. A name
// with no cached row still yields a profile.
func loadProfile(ctx context.Context, r profileReader, uid string) (*schema.UserProfile, error) {
	name, err := r.GetUserName(ctx, uid)
	if err != nil {
		return nil, err
	}
	p, err := r.Profile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if p == nil && name != nil {
		p = &schema.UserProfile{UserID: uid, DisplayName: name}
	}
	return p, nil
}

func followProfile(ctx context.Context, a *app, uid string) error {
	stop, err := a.followExternalWrites()
	if err != nil {
		return err
	}
	defer stop()

	profiles, err := a.engine.WatchProfile(ctx, uid)
	if err != nil {
		return err
	}
	for p := range profiles {
		if ui.IsInteractive() {
			fmt.Print("\033[H\033[2J")
		}
		ui.PrintProfile(os.Stdout, p)
		fmt.Println(ui.RenderMuted("\nWatching for changes, Ctrl+C to stop"))
	}
	return nil
}

var profileRefreshCmd = &cobra.Command{
	Use:   "refresh [uid]",
	Short: "Fetch a profile from the remote store into the cache",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		uid := profileTarget(a, args)
		res := a.engine.FetchAndCacheUserData(ctx, uid)
		if res.FromRemote() {
			fmt.Printf("%s Profile %s\n", ui.RenderPass("✓"), res)
		} else {
			fmt.Printf("%s Profile %s\n", ui.RenderWarn("⚠"), res)
		}

		p, err := a.engine.Profile(ctx, uid)
		if err != nil {
			fatalf("%v", err)
		}
		ui.PrintProfile(cmd.OutOrStdout(), p)
	},
}

func profileTarget(a *app, args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return a.currentUser()
}

func init() {
	loginCmd.Flags().String("uid", "", "user id")
	loginCmd.Flags().String("name", "", "display name used when the profile has none")
	loginCmd.Flags().String("email", "", "email used when the profile has none")

	registerCmd.Flags().String("uid", "", "user id (default: the signed-in user)")
	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("email", "", "email")

	profileShowCmd.Flags().BoolP("follow", "f", false, "reprint on every change")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileRefreshCmd)

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(profileCmd)
}
