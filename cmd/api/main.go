package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/remindly/core/cmd/api/commands"
)

// @title Remindly API
// @version 1.0
// @description Reminder scheduling, delivery and calendar synchronization

// @host localhost:8080
// @BasePath /api/v1

func main() {
	rootCmd := &cobra.Command{
		Use:          "remindly",
		Short:        "Remindly reminder engine",
		Long:         `Remindly stores one-off and recurring reminders, delivers them on time and mirrors them into an external calendar.`,
		SilenceUsage: true,
	}

	// Add commands
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewWorkerCommand())
	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewReconcileCommand())
	rootCmd.AddCommand(commands.NewMaterializeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Command execution failed: %v", err)
		os.Exit(1)
	}
}
