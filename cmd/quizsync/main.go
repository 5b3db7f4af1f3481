// Command quizsync is the command-line front end of the quiz sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quizapp/quizsync/internal/config"
	"github.com/quizapp/quizsync/internal/ui"
)

var (
	v   = config.NewViper()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "quizsync",
	Short: "Local-first quiz history with remote sync",
	Long: `quizsync keeps quiz attempts and profiles in a local SQLite cache and
reconciles them with a remote document store.

Attempts are saved locally first and pushed in the background. Anything that
could not be pushed is retried by 'quizsync sync' or by the daemon.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "quiz", Title: "Quiz Commands:"},
		&cobra.Group{ID: "account", Title: "Account Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("home", config.DefaultHome(), "quizsync home directory")
	flags.String("local", "", "local cache database path")
	flags.String("remote-driver", "", "remote store driver (sqlite3, libsql, postgres)")
	flags.String("remote-dsn", "", "remote store connection string")
	flags.String("session", "", "session file path")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")
	flags.BoolP("quiet", "q", false, "discard log output")

	bindFlag(v, "home", "home")
	bindFlag(v, "local.path", "local")
	bindFlag(v, "remote.driver", "remote-driver")
	bindFlag(v, "remote.dsn", "remote-dsn")
	bindFlag(v, "identity.session", "session")
	bindFlag(v, "log.file", "log-file")
	bindFlag(v, "log.quiet", "quiet")
}

func bindFlag(v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]any{ui.RenderFail("Error:")}, args...)...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
