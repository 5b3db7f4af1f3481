package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quizapp/quizsync/internal/config"
	"github.com/quizapp/quizsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage quizsync configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml into the home directory",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		path, err := config.WriteDefault(cfg.Home, force)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after defaults, config.yaml, QUIZSYNC_* environment
variables and flags have been applied.`,
	Run: func(cmd *cobra.Command, args []string) {
		data, err := cfg.YAML()
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("# home: %s\n", cfg.Home)
		os.Stdout.Write(data)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
