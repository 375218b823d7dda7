package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/ahyattdev/fxa-sync-client/autoconfig"
	"github.com/ahyattdev/fxa-sync-client/config"
	"github.com/ahyattdev/fxa-sync-client/database"
	"github.com/ahyattdev/fxa-sync-client/fxa"
	"github.com/ahyattdev/fxa-sync-client/keyring"
	"github.com/ahyattdev/fxa-sync-client/synccrypto"
	"github.com/ahyattdev/fxa-sync-client/syncservice"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger(os.Stderr))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "discover":
		discover(ctx, cfg)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	svc := newService(ctx, cfg)

	switch os.Args[1] {
	case "login":
		login(ctx, svc, emailArg("login"))

	case "keys":
		reveal := len(os.Args) > 3 && os.Args[3] == "--reveal"
		showKeys(ctx, svc, emailArg("keys"), reveal)

	case "status":
		status(ctx, svc, emailArg("status"))

	case "logout":
		logout(ctx, svc, emailArg("logout"))

	case "list":
		listAccounts(ctx, svc)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`fxa-sync - Firefox Sync sign-in client

Usage:
  fxa-sync <command> [arguments]

Commands:
  login <email>            Sign in and fetch Sync keys (will prompt for password)
  keys <email> [--reveal]  Show key fingerprints, or the raw keys with --reveal
  status <email>           Check the stored session with the auth server
  logout <email>           Destroy the session and forget stored secrets
  list                     List signed-in accounts
  discover                 Show the client configuration published at FXA_CONFIG_URL

Environment:
  FXA_SERVER_URL        Auth server base URL (default: https://api.accounts.firefox.com)
  FXA_CONFIG_URL        Server publishing /.well-known/fxa-client-configuration (overrides FXA_SERVER_URL)
  FXA_DATABASE_URI      Keyring database, SQLite DSN or postgres:// URI (default: file:fxa-sync.db)
  FXA_TIMEOUT           HTTP timeout (default: 15s)
  FXA_LOG_FORMAT        text or json (default: text)
  FXA_LOG_LEVEL         debug, info, warn or error (default: info)`)
}

func emailArg(command string) string {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: fxa-sync %s <email>\n", command)
		os.Exit(1)
	}
	return os.Args[2]
}

func newService(ctx context.Context, cfg *config.Config) *syncservice.Service {
	serverURL := cfg.ServerURL
	if cfg.ConfigURL != "" {
		clientCfg, err := autoconfig.Fetch(ctx, cfg.ConfigURL, cfg.Timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover auth server: %v\n", err)
			os.Exit(1)
		}
		serverURL = clientCfg.AuthServerBaseURL
	}

	db, err := database.Connect(cfg.DatabaseURI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open keyring database: %v\n", err)
		os.Exit(1)
	}
	go database.StartCleanup(ctx, db, cfg.CleanupInterval)

	client := fxa.NewClient(fxa.Config{ServerURL: serverURL, Timeout: cfg.Timeout})
	return syncservice.New(client, keyring.NewGormStore(db))
}

func discover(ctx context.Context, cfg *config.Config) {
	if cfg.ConfigURL == "" {
		fmt.Fprintf(os.Stderr, "FXA_CONFIG_URL is not set\n")
		os.Exit(1)
	}

	clientCfg, err := autoconfig.Fetch(ctx, cfg.ConfigURL, cfg.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fetch client configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%-14s  %s\n", "Auth server", clientCfg.AuthServerBaseURL)
	fmt.Printf("%-14s  %s\n", "OAuth server", clientCfg.OAuthServerBaseURL)
	fmt.Printf("%-14s  %s\n", "Profile server", clientCfg.ProfileServerBaseURL)
	fmt.Printf("%-14s  %s\n", "Token server", clientCfg.TokenServerBaseURL)
}

func login(ctx context.Context, svc *syncservice.Service, email string) {
	password, err := promptPassword("Password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
		os.Exit(1)
	}

	account, err := svc.SignIn(ctx, email, password)
	if err != nil {
		if syncservice.IsFatal(err) {
			fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Sign-in failed, try again later: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Signed in: %s (UID: %s)\n", account.Email, account.UID)
	if !account.Verified {
		fmt.Println("Account is not verified yet; confirm the sign-in email and log in again to fetch keys")
	}
}

func showKeys(ctx context.Context, svc *syncservice.Service, email string, reveal bool) {
	keys, err := svc.SyncKeys(ctx, email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load keys: %v\n", err)
		os.Exit(1)
	}
	defer keys.Zero()

	if reveal {
		fmt.Printf("kA  %s\n", synccrypto.HexEncode(keys.KA))
		fmt.Printf("kB  %s\n", synccrypto.HexEncode(keys.KB))
		return
	}
	fmt.Printf("kA  %s\n", fingerprint(keys.KA))
	fmt.Printf("kB  %s\n", fingerprint(keys.KB))
}

func fingerprint(key []byte) string {
	return synccrypto.HexEncode(synccrypto.SHA256(key)[:8])
}

func status(ctx context.Context, svc *syncservice.Service, email string) {
	account, err := svc.Status(ctx, email)
	if errors.Is(err, keyring.ErrNotFound) {
		fmt.Printf("%s is not signed in\n", email)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%-9s  %s\n", "Email", account.Email)
	fmt.Printf("%-9s  %s\n", "UID", account.UID)
	fmt.Printf("%-9s  %t\n", "Verified", account.Verified)
	fmt.Printf("%-9s  %t\n", "Sync keys", account.HasKeys)
}

func logout(ctx context.Context, svc *syncservice.Service, email string) {
	if err := svc.SignOut(ctx, email); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign out: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signed out: %s\n", email)
}

func listAccounts(ctx context.Context, svc *syncservice.Service) {
	emails, err := svc.Accounts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list accounts: %v\n", err)
		os.Exit(1)
	}

	if len(emails) == 0 {
		fmt.Println("No accounts signed in")
		return
	}
	for _, email := range emails {
		fmt.Println(email)
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}
