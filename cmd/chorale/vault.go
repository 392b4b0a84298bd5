package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/store"
	"github.com/chorale-dev/chorale/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("vault passphrase is required (vault.passphrase or CHORALE_VAULT_PASSPHRASE)")
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	keeper := vault.NewKeeper(cfg.Vault.Passphrase, db)
	ctx := context.Background()

	switch args[0] {
	case "list":
		return vaultList(ctx, keeper)
	case "set":
		return vaultSet(ctx, keeper, args[1:])
	case "get":
		return vaultGet(ctx, keeper, args[1:])
	case "delete":
		return vaultDelete(ctx, keeper, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: chorale vault <command>

Commands:
  list                       List secret names
  set <name> --value <str>   Store a secret from the command line
  set <name> --file <path>   Store a secret from a file
  get <name>                 Retrieve and decrypt a secret
  delete <name>              Delete a secret

Tool configs reference secrets as vault:<name> in their credential field.

Environment:
  CHORALE_VAULT_PASSPHRASE   Encryption passphrase, unless set in config.
`)
}

func vaultList(ctx context.Context, keeper *vault.Keeper) error {
	names, err := keeper.List(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tREF")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s%s\n", name, vault.RefPrefix, name)
	}
	return w.Flush()
}

func vaultSet(ctx context.Context, keeper *vault.Keeper, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: chorale vault set <name> --value <string> | --file <path>")
	}

	name := args[0]
	var value string

	switch args[1] {
	case "--value":
		value = args[2]
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = string(data)
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	if err := keeper.Set(ctx, name, value); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved\n", name)
	return nil
}

func vaultGet(ctx context.Context, keeper *vault.Keeper, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chorale vault get <name>")
	}

	value, err := keeper.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Print(value)
	if len(value) > 0 && value[len(value)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func vaultDelete(ctx context.Context, keeper *vault.Keeper, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chorale vault delete <name>")
	}
	if err := keeper.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}
