package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kin-go/internal/app"
)

// readPassphrase prompts on stderr and reads without echo from a terminal,
// or reads one line from piped stdin. KIN_PASSPHRASE takes precedence.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("KIN_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(raw), nil
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive key pair and upload it to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("KIN_PASSPHRASE") == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			again, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != pass {
				return fmt.Errorf("passphrases do not match")
			}
		}
		if err := app.InitKeys(cmd.Context(), cfg, pass, os.Stderr); err != nil {
			return err
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Archive.Encryption.PublicKeyPath, cfg.Archive.Encryption.PrivateKeyPath)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Push or restore the encrypted registry archive",
}

var archivePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the registry now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "archive-push", func(ctx context.Context, a *app.App) error {
			version, err := a.PushArchive(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Pushed archive version %d\n", version)
			return nil
		})
	},
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local registry with the archived one",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		res, err := app.Restore(cmd.Context(), cfg, pass, force, os.Stderr)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("Restored archive version %d (people snapshot: %v)\n", res.Version, res.People)
		return nil
	},
}

func init() {
	archiveRestoreCmd.Flags().Bool("force", false, "Replace an existing local database")

	keysCmd.AddCommand(keysInitCmd)
	archiveCmd.AddCommand(archivePushCmd)
	archiveCmd.AddCommand(archiveRestoreCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(archiveCmd)
}
