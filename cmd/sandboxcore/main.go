package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/sandboxcore/internal/audit"
	"github.com/basket/sandboxcore/internal/config"
	"github.com/basket/sandboxcore/internal/policy"
	"github.com/basket/sandboxcore/internal/sandbox"
	"github.com/basket/sandboxcore/internal/shared"
	"github.com/basket/sandboxcore/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s status                         Show the resolved config fingerprint and policy count
  %s validate path <path> [mode]    Run PathValidator (mode: read|write|delete, default read)
  %s validate command <cmd>         Run CommandValidator
  %s validate url <url>             Run UrlValidator
  %s exec <cmd...>                  Initialize the configured sandbox and run a command in it

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  SANDBOXCORE_HOME                   Data directory (default: ~/.sandboxcore)
  SANDBOXCORE_LOG_LEVEL              debug|info|warn|error
  SANDBOXCORE_SANDBOX_KIND           AppContainer|Bubblewrap|Container
  SANDBOXCORE_CONTAINER_IMAGE        Container backend base image
  SANDBOXCORE_CONTAINER_NAME         Windows AppContainer profile name
  SANDBOXCORE_COMMAND_MODE           Whitelist|Blacklist
  SANDBOXCORE_COMMAND_TIMEOUT_S      per-execution wall-clock ceiling
  SANDBOXCORE_MAX_FILE_SIZE_MB       fallback write ceiling
  SANDBOXCORE_ALLOWED_DIRECTORIES    comma-separated host directories
`)
}

func main() {
	quiet := flag.Bool("quiet", false, "suppress stdout logging (JSONL file only)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet, traceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if cfg.Audit.Enabled {
		if err := audit.Init(cfg.HomeDir); err != nil {
			logger.Error("audit init failed", "error", err)
			os.Exit(1)
		}
		defer audit.Close()

		if cfg.Audit.SQLite != "" {
			db, err := audit.OpenSQLiteDB(cfg.Audit.SQLite)
			if err != nil {
				logger.Error("audit sqlite init failed", "error", err)
				os.Exit(1)
			}
			audit.SetDB(db)
		}
	}

	engine, err := cfg.BuildEngine()
	if err != nil {
		logger.Error("build folder policy engine failed", "error", err)
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		runStatus(cfg, engine)
	case "validate":
		runValidate(ctx, cfg, engine, args[1:])
	case "exec":
		runExec(ctx, cfg, args[1:])
	default:
		printUsage()
		os.Exit(2)
	}
}

func runStatus(cfg config.Config, engine *policy.FolderPolicyEngine) {
	fmt.Printf("fingerprint:     %s\n", cfg.Fingerprint())
	fmt.Printf("sandbox.kind:    %s\n", cfg.Sandbox.Kind)
	fmt.Printf("command.mode:    %s\n", cfg.Command.Mode)
	fmt.Printf("folder_policies: %d declared\n", len(cfg.FolderPolicies))
	fmt.Printf("audit.enabled:   %v\n", cfg.Audit.Enabled)
}

func runValidate(ctx context.Context, cfg config.Config, engine *policy.FolderPolicyEngine, args []string) {
	if len(args) < 2 {
		printUsage()
		os.Exit(2)
	}

	onAudit := func(decision, capability, reason, subject string) {
		audit.Record(ctx, decision, capability, reason, cfg.Fingerprint(), subject)
	}

	var result policy.ValidationResult
	switch args[0] {
	case "path":
		mode := policy.ModeRead
		if len(args) > 2 {
			switch args[2] {
			case "write":
				mode = policy.ModeWrite
			case "delete":
				mode = policy.ModeDelete
			}
		}
		v := &policy.PathValidator{Engine: engine, RootDirs: cfg.AllowedDirectories, OnAudit: onAudit}
		result = v.Validate(args[1], mode)
	case "command":
		mode := policy.CommandBlacklist
		if cfg.Command.Mode == "Whitelist" {
			mode = policy.CommandWhitelist
		}
		v := &policy.CommandValidator{Mode: mode, Allowed: cfg.Command.Allowed, Denied: cfg.Command.Denied, OnAudit: onAudit}
		result = v.Validate(strings.Join(args[1:], " "))
	case "url":
		v := &policy.UrlValidator{AllowedDomains: cfg.Url.AllowedDomains, DeniedDomains: cfg.Url.DeniedDomains, OnAudit: onAudit}
		result = v.Validate(args[1])
	default:
		printUsage()
		os.Exit(2)
	}

	if result.Allowed {
		fmt.Println("allow")
		return
	}
	fmt.Printf("deny: %s\n", result.Reason)
	os.Exit(1)
}

func runExec(ctx context.Context, cfg config.Config, args []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	joined := strings.Join(args, " ")

	mode := policy.CommandBlacklist
	if cfg.Command.Mode == "Whitelist" {
		mode = policy.CommandWhitelist
	}
	cv := &policy.CommandValidator{
		Mode:    mode,
		Allowed: cfg.Command.Allowed,
		Denied:  cfg.Command.Denied,
		OnAudit: func(decision, capability, reason, subject string) {
			audit.Record(ctx, decision, capability, reason, cfg.Fingerprint(), subject)
		},
	}
	if result := cv.Validate(joined); !result.Allowed {
		fmt.Fprintf(os.Stderr, "deny: %s\n", result.Reason)
		os.Exit(1)
	}

	factory := sandbox.NewFactory(cfg.Sandbox, cfg.Command)
	provider, err := factory.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build sandbox: %v\n", err)
		os.Exit(1)
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := provider.Initialize(initCtx, cfg.AllowedDirectories); err != nil {
		fmt.Fprintf(os.Stderr, "initialize sandbox: %v\n", err)
		os.Exit(1)
	}
	defer provider.Dispose(context.Background())

	result, err := provider.ExecuteShell(ctx, joined, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "execute: %v\n", err)
		os.Exit(1)
	}

	// The sandboxed command's own output is the one place a leaked secret
	// (an env var a script prints, a token baked into a build log) reaches
	// the terminal without ever passing through the audit sink.
	fmt.Print(shared.Redact(result.Stdout))
	fmt.Fprint(os.Stderr, shared.Redact(result.Stderr))
	os.Exit(result.ExitCode)
}
