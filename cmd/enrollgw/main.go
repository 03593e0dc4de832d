package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ibam-learn/enrollgw/internal/config"
	"github.com/ibam-learn/enrollgw/internal/eventlog"
	"github.com/ibam-learn/enrollgw/internal/janitor"
	"github.com/ibam-learn/enrollgw/internal/lock"
	"github.com/ibam-learn/enrollgw/internal/log"
	"github.com/ibam-learn/enrollgw/internal/mailer"
	"github.com/ibam-learn/enrollgw/internal/provision"
	"github.com/ibam-learn/enrollgw/internal/storage"
	"github.com/ibam-learn/enrollgw/internal/tui/watch"
	"github.com/ibam-learn/enrollgw/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "config":
		return runConfigNoun(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// --- ACTION IMPLEMENTATIONS ---

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("enrollgw starting", "version", version, "config", *configPath)

	// Single instance only: the in-process rate limiter and event ring are
	// not shared, so a second gateway would silently weaken both.
	lockPath := filepath.Join(filepath.Dir(cfg.Database.Path), "enrollgw.lock")
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	cat, err := cfg.Catalog()
	if err != nil {
		logger.Error("failed to build tag catalog", "error", err)
		return 1
	}
	logger.Info("tag catalog loaded",
		"membership_tags", len(cat.MembershipTags()),
		"course_tags", len(cat.CourseTags()),
	)

	var provider mailer.Provider
	if cfg.Email.Mock {
		provider = mailer.NewMockProvider(log.WithComponent("mailer"))
		logger.Info("email delivery mocked")
	} else {
		provider = mailer.NewResendProvider(cfg.Email.APIKey, cfg.Email.From, log.WithComponent("mailer"))
	}
	sender := mailer.New(provider, log.WithComponent("mailer"), cfg.BaseURL)

	recorder := eventlog.NewRecorder(db, log.WithComponent("eventlog"))
	provisioner := provision.New(
		provision.NewSQLIdentityStore(db),
		provision.NewSQLProfileStore(db),
		cat,
		sender,
		log.WithComponent("provision"),
	)

	limiter := webhook.NewMemoryRateLimiter(
		time.Duration(cfg.Webhook.RateLimit.WindowSeconds)*time.Second,
		cfg.Webhook.RateLimit.MaxRequests,
	)
	pipeline := webhook.NewPipeline(
		cfg.Webhook.Secret,
		limiter,
		cat,
		provisioner,
		recorder,
		log.WithComponent("webhook"),
		cfg.Staging,
	)

	server := webhook.New(webhook.Config{
		Listen:          cfg.Listen,
		Secret:          cfg.Webhook.Secret,
		MaxBodySize:     cfg.Webhook.MaxBodySize,
		RateWindowSecs:  cfg.Webhook.RateLimit.WindowSeconds,
		RateMaxRequests: cfg.Webhook.RateLimit.MaxRequests,
		Staging:         cfg.Staging,
	}, pipeline, recorder, cat, log.WithComponent("webhook"))

	jan := janitor.New(db, log.WithComponent("janitor"), janitor.DefaultInterval, janitor.DefaultEventRetention)
	jan.Start(ctx)
	defer jan.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	logger.Info("enrollgw running (press Ctrl+C to stop)", "listen", cfg.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("webhook server failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("enrollgw stopped")
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Config: %s\n", *configPath)
		fmt.Printf("Status: Configuration check FAILED.\n")
		fmt.Fprintf(os.Stderr, "  %v\n", err)
		return 1
	}

	// Load already validated; report the resolved essentials.
	cat, _ := cfg.Catalog()
	fmt.Printf("Config: %s\n", *configPath)
	fmt.Printf("  listen:          %s\n", cfg.Listen)
	fmt.Printf("  database:        %s\n", cfg.Database.Path)
	fmt.Printf("  webhook secret:  set (%d chars)\n", len(cfg.Webhook.Secret))
	fmt.Printf("  rate limit:      %d requests / %ds window\n",
		cfg.Webhook.RateLimit.MaxRequests, cfg.Webhook.RateLimit.WindowSeconds)
	fmt.Printf("  membership tags: %s\n", strings.Join(cat.MembershipTags(), ", "))
	fmt.Printf("  course tags:     %s\n", strings.Join(cat.CourseTags(), ", "))
	if cfg.Email.Mock {
		fmt.Printf("  email:           mock (no delivery)\n")
	} else {
		fmt.Printf("  email:           %s\n", cfg.Email.From)
	}
	fmt.Println("Status: Configuration check PASSED.")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "Gateway base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*baseURL)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: enrollgw version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("enrollgw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- HELP ---

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`enrollgw - System.io enrollment webhook gateway

Usage:
  enrollgw <command> [flags]

Commands:
  serve             Start the webhook gateway in foreground
  config check      Validate configuration and tag tables
  watch             Live webhook decision TUI
  version           Show version information
  help              Show this help message

Use 'enrollgw <command> --help' for command-specific flags.
`)
}

func printServeHelp() {
	fmt.Println("Usage: enrollgw serve [--config PATH]")
	fmt.Println("Start the webhook gateway in the foreground.")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: enrollgw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: enrollgw config check [--config PATH]")
	fmt.Println("Validate configuration syntax, secret presence, and tag tables.")
}

func printWatchHelp() {
	fmt.Println("Usage: enrollgw watch [flags]")
	fmt.Println()
	fmt.Println("Live webhook decision TUI. Polls the gateway status endpoint and")
	fmt.Println("shows recent enrollment decisions as they happen.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL    Gateway base URL (default: http://localhost:8080)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C    Quit")
	fmt.Println("  ↑/↓, k/j     Scroll decisions")
}
