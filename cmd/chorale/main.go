package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("chorale %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "submit":
		if err := runSubmit(os.Args[2:]); err != nil {
			slog.Error("submit failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	case "schedule":
		if err := runSchedule(os.Args[2:]); err != nil {
			slog.Error("schedule command failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			slog.Error("vault command failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: chorale <command>\n\nCommands:\n  serve      Start the Chorale orchestrator service\n  submit     Submit a one-off job to a running server\n  schedule   Manage recurring jobs on a running server\n  backup     Archive the data directory\n  restore    Restore the data directory from an archive\n  vault      Manage encrypted secrets\n  version    Print version\n")
}
