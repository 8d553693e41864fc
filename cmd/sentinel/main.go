package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelsec/sentinel/internal/alert"
	"github.com/sentinelsec/sentinel/internal/api"
	"github.com/sentinelsec/sentinel/internal/auth"
	"github.com/sentinelsec/sentinel/internal/config"
	"github.com/sentinelsec/sentinel/internal/confirm"
	"github.com/sentinelsec/sentinel/internal/event"
	"github.com/sentinelsec/sentinel/internal/pipeline"
	"github.com/sentinelsec/sentinel/internal/policy"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Security mediation layer for browser-driving AI agents",
		Long:  "Sentinel — a security intelligence pipeline that inspects, scores,\nand gates every action a browser-driving agent proposes.",
	}

	var configFile string
	var port int
	var devMode bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sentinel daemon and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: sentinel.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override API port (default: 7717)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate starter config and policy files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health, active sessions, and global stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Sentinel %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiGet(port, "/api/sessions")
		},
	}

	killCmd := &cobra.Command{
		Use:   "kill [session-id]",
		Short: "Force-terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			req, _ := http.NewRequest(http.MethodDelete,
				fmt.Sprintf("http://localhost:%d/api/sessions/%s", p, args[0]), nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to sentinel: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("terminate failed (HTTP %d)", resp.StatusCode)
			}
			fmt.Printf("✓ Session %s terminated\n", args[0])
			return nil
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report [session-id]",
		Short: "Export the forensic report for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			markdown, _ := cmd.Flags().GetBool("markdown")
			p := resolvePort(port)
			url := fmt.Sprintf("http://localhost:%d/api/sessions/%s/report", p, args[0])
			if markdown {
				url += "?format=markdown"
			}
			resp, err := http.Get(url)
			if err != nil {
				return fmt.Errorf("failed to connect to sentinel: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("export failed (HTTP %d)", resp.StatusCode)
			}
			if markdown {
				_, err = os.Stdout.ReadFrom(resp.Body)
				return err
			}
			var result map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	reportCmd.Flags().Bool("markdown", false, "Render the report as Markdown")

	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy management commands",
	}
	policyShowCmd := &cobra.Command{
		Use:   "show [scope]",
		Short: "Show the active policy for a scope (default: global)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "global"
			if len(args) == 1 {
				scope = args[0]
			}
			return apiGet(port, "/api/policy/"+scope)
		},
	}
	policyCmd.AddCommand(policyShowCmd)

	for _, c := range []*cobra.Command{statusCmd, sessionsCmd, killCmd, reportCmd, policyShowCmd} {
		c.Flags().IntVarP(&port, "port", "p", 0, "Sentinel API port (default: 7717)")
	}

	rootCmd.AddCommand(startCmd, initCmd, statusCmd, versionCmd, sessionsCmd, killCmd, reportCmd, policyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := cfgLoader.Get()
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logger := newLogger(cfg.Server.LogLevel)

	core, err := pipeline.New(pipeline.Config{
		DOMTimeout:        cfg.Pipeline.DOMTimeout,
		AnalyzerTimeout:   cfg.Pipeline.AnalyzerTimeout,
		ScreenshotTimeout: cfg.Pipeline.ScreenshotTimeout,
		ForensicCapacity:  cfg.Forensics.Capacity,
		ArchivePath:       cfg.Forensics.ArchivePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	// Policy file installs into the global scope and follows edits.
	if cfg.PolicyPath != "" {
		pw, err := policy.WatchFile(cfg.PolicyPath, policy.GlobalScope, core.Policies, logger)
		if err != nil {
			logger.Warn("policy file not installed", "path", cfg.PolicyPath, "error", err)
		} else {
			defer func() { _ = pw.Stop() }()
		}
	}

	// Static API tokens from config.
	tokenManager := auth.NewTokenManager(time.Hour, logger)
	for _, tc := range cfg.Server.Auth.Tokens {
		role := auth.Role(tc.Role)
		switch role {
		case auth.RoleDriver, auth.RoleViewer, auth.RoleOperator, auth.RoleAdmin:
			tokenManager.Register(tc.Name, tc.Secret, role)
		default:
			logger.Warn("skipping token with unknown role", "name", tc.Name, "role", tc.Role)
		}
	}

	alertMgr := alert.NewManager(cfg.Alerts, logger)
	confirms := confirm.NewQueue(alertMgr, logger)
	defer confirms.Close()

	apiServer := api.NewServer(cfg.Server, core, cfgLoader, confirms, tokenManager, logger)

	// Config file hot reload.
	if configFile != "" {
		cw, err := config.NewWatcher(cfgLoader, logger)
		if err != nil {
			logger.Warn("config watcher not started", "error", err)
		} else {
			cw.Start()
			defer func() { _ = cw.Stop() }()
		}
	}

	done := make(chan struct{})
	go runHousekeeping(core, alertMgr, done)

	fmt.Println()
	fmt.Println("  Sentinel " + version)
	fmt.Println("  Security mediation for browser-driving agents")
	fmt.Println()
	fmt.Printf("  → API:      http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("  → Events:   ws://localhost:%d/api/ws/events\n", cfg.Server.Port)
	if cfg.PolicyPath != "" {
		fmt.Printf("  → Policy:   %s\n", cfg.PolicyPath)
	}
	if cfg.Forensics.ArchivePath != "" {
		fmt.Printf("  → Archive:  %s\n", cfg.Forensics.ArchivePath)
	}
	fmt.Printf("  → Auth:     %v\n", cfg.Server.Auth.Enabled)
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		close(done)
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = apiServer.Shutdown(shutCtx)
	}()

	logger.Info("starting API server", "port", cfg.Server.Port)
	if err := apiServer.Start(api.APIAddr(cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// runHousekeeping drives periodic work: heartbeat events, alert-dedup
// pruning, and bridging each session's event stream onto the alert channels.
func runHousekeeping(core *pipeline.Core, alertMgr *alert.Manager, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	bridged := make(map[string]func())

	for {
		select {
		case <-done:
			for _, unsubscribe := range bridged {
				unsubscribe()
			}
			return

		case <-heartbeat.C:
			core.Events.Heartbeat()

		case <-prune.C:
			alertMgr.PruneDedup()

		case <-ticker.C:
			if !alertMgr.HasSenders() {
				continue
			}
			live := make(map[string]bool)
			for _, sess := range core.Sessions.List() {
				live[sess.ID] = true
				if _, ok := bridged[sess.ID]; ok {
					continue
				}
				bridged[sess.ID] = core.Events.Subscribe(sess.ID, func(env event.Envelope) {
					if a, ok := alert.FromEnvelope(env); ok {
						alertMgr.Send(a)
					}
				})
			}
			for id, unsubscribe := range bridged {
				if !live[id] {
					unsubscribe()
					delete(bridged, id)
				}
			}
		}
	}
}

func runInit() error {
	configPath := "sentinel.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
	} else {
		if err := config.GenerateDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("  ✓ Generated %s\n", configPath)
	}

	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    edit sentinel.yaml                # ports, auth tokens, alerts")
	fmt.Println("    sentinel start                    # start the daemon")
	fmt.Println("    sentinel status                   # check health")
	return nil
}

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/health", p))
	if err != nil {
		fmt.Printf("  ✗ Sentinel not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	fmt.Printf("  ✓ Sentinel running on port %d\n", p)
	fmt.Printf("    Sessions:   %v\n", health["sessions"])
	fmt.Printf("    WS clients: %v\n", health["ws_clients"])
	return nil
}

func apiGet(port int, path string) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s", p, path))
	if err != nil {
		return fmt.Errorf("failed to connect to sentinel: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func findConfigFile() string {
	for _, candidate := range []string{"sentinel.yaml", "sentinel.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port > 0 {
		return port
	}
	return config.DefaultConfig().Server.Port
}
