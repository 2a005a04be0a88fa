package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/npratt/dashlink/internal/adminapi"
	"github.com/npratt/dashlink/internal/agent"
	"github.com/npratt/dashlink/internal/auth"
	"github.com/npratt/dashlink/internal/backoff"
	"github.com/npratt/dashlink/internal/config"
	"github.com/npratt/dashlink/internal/daemon"
	"github.com/npratt/dashlink/internal/gateway"
	"github.com/npratt/dashlink/internal/shutdown"
)

var version = "dev"

// shutdownTimeout bounds how long start waits for the agent and the socket
// server to exit.
const shutdownTimeout = 30 * time.Second

// getDaemonClient creates a daemon client from --socket-path or by finding
// daemon.json in the project.
func getDaemonClient() (*daemon.Client, error) {
	if sock := viper.GetString(FlagSocketPath); sock != "" {
		return daemon.NewClient(sock), nil
	}
	info, err := daemon.FindDaemonInfo("")
	if err != nil {
		return nil, fmt.Errorf("agent not running: %w", err)
	}
	return daemon.NewClient(info.SocketPath), nil
}

// loadConfig loads layered config and applies flags (or their DASHLINK_*
// env equivalents) that were explicitly set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if viper.IsSet(FlagAPIURL) {
		cfg.API.BaseURL = viper.GetString(FlagAPIURL)
	}
	if viper.IsSet(FlagToken) {
		cfg.Auth.Token = viper.GetString(FlagToken)
	}
	if viper.IsSet(FlagRole) {
		cfg.Auth.Role = viper.GetString(FlagRole)
	}
	if viper.IsSet(FlagSessionFile) {
		cfg.Auth.SessionFile = viper.GetString(FlagSessionFile)
	}
	if viper.IsSet(FlagSocketPath) {
		cfg.Paths.Socket = viper.GetString(FlagSocketPath)
	}
	if viper.IsSet(FlagLogFile) {
		cfg.Paths.Log = viper.GetString(FlagLogFile)
	}
	if viper.IsSet(FlagTelemetryFile) {
		cfg.Paths.Telemetry = viper.GetString(FlagTelemetryFile)
	}
	if viper.GetBool(FlagNoRealtime) {
		cfg.Realtime.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// oneShotClient builds an admin API client outside the agent. The session
// file, when configured, wins over the static token.
func oneShotClient(cfg *config.Config, logger *slog.Logger) (*adminapi.Client, error) {
	token := cfg.Auth.Token
	if cfg.Auth.SessionFile != "" {
		sess, err := auth.LoadSessionFile(cfg.Auth.SessionFile)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		token = sess.Token
	}

	tr, err := gateway.NewHTTPTransport(cfg.API.BaseURL, cfg.API.Timeout, func() string { return token })
	if err != nil {
		return nil, err
	}
	table, err := adminapi.NewFallbackTable(cfg.API.Fallbacks)
	if err != nil {
		return nil, err
	}
	gw := gateway.New(tr, backoff.FromConfig(cfg.API.Retry), table, gateway.WithLogger(logger))
	return adminapi.New(gw), nil
}

// redacted returns a copy of cfg safe to print.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Auth.Token != "" {
		out.Auth.Token = "<redacted>"
	}
	return &out
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	logLevel := &slog.LevelVar{}
	logger := SetupStderrLogger(logLevel)

	viper.SetEnvPrefix("DASHLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "dashlink",
		Short: "Admin dashboard link: resilient REST and realtime notifications",
		Long: `dashlink keeps an admin session connected to the dashboard backend.

It wraps every REST call with bounded retries and safe fallbacks, holds a
realtime push channel open for admin sessions, and keeps a local
notification feed that the CLI can query while the agent runs.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if viper.GetBool(FlagVerbose) {
				logLevel.Set(slog.LevelDebug)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (default: .dashlink/config.yaml)")
	rootCmd.PersistentFlags().String(FlagLogFile, "", "Log file path (default: stderr)")
	rootCmd.PersistentFlags().String(FlagSocketPath, "", "Unix socket path for agent control")
	rootCmd.PersistentFlags().String(FlagAPIURL, "", "Admin API base URL")
	rootCmd.PersistentFlags().String(FlagToken, "", "Admin session token")
	rootCmd.PersistentFlags().String(FlagRole, "", "Session role (user, admin, super_admin)")
	rootCmd.PersistentFlags().String(FlagSessionFile, "", "Watched session file (overrides --token and --role)")

	// Bind all flags to viper
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dashlink %s\n", version)
		},
	}

	// Start command
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run the agent in the foreground",
		Long: `Run the agent in the foreground with its control socket.

The agent follows the admin session, keeps the realtime channel open while
the session is an authenticated admin, and keeps the notification feed in
sync. Other dashlink commands talk to it over the control socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Debug {
				logLevel.Set(slog.LevelDebug)
			}

			// Find project root for path resolution
			projectRoot := daemon.FindProjectRoot("")

			cfg.Paths, err = daemon.ResolvePaths(cfg.Paths, projectRoot)
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			client := daemon.NewClient(cfg.Paths.Socket)
			if client.IsRunning() {
				return fmt.Errorf("agent already running (socket: %s)", cfg.Paths.Socket)
			}

			// Log to a rotating file when asked, stderr otherwise
			if cfg.Paths.Log != "" {
				fileLog, err := SetupFileLogger(cfg.Paths.Log, logLevel, cfg.LogRotation)
				if err != nil {
					return err
				}
				defer func() { _ = fileLog.Close() }()
				logger = fileLog.Logger
			}
			slog.SetDefault(logger)

			logger.Info("dashlink starting",
				"version", version,
				"api", cfg.API.BaseURL,
				"realtime", cfg.Realtime.Enabled,
				"socket", cfg.Paths.Socket,
				"telemetry", cfg.Paths.Telemetry,
			)

			ag, err := agent.New(cfg, agent.WithLogger(logger))
			if err != nil {
				return err
			}
			dmn := daemon.New(cfg, ag, logger)

			// Write daemon info for CLI discovery
			infoPath := daemon.DaemonInfoPath(projectRoot)
			info := &daemon.DaemonInfo{
				SocketPath:    cfg.Paths.Socket,
				TelemetryPath: cfg.Paths.Telemetry,
				LogPath:       cfg.Paths.Log,
				APIBaseURL:    cfg.API.BaseURL,
				StartTime:     time.Now(),
				PID:           os.Getpid(),
			}
			if err := daemon.WriteDaemonInfo(infoPath, info); err != nil {
				logger.Warn("failed to write daemon info", "error", err)
			}
			defer func() { _ = daemon.RemoveDaemonInfo(infoPath) }()

			return shutdown.New(logger, shutdownTimeout).
				Add("agent", ag.Run).
				Add("daemon", dmn.Start).
				Run(cmd.Context())
		},
	}

	startCmd.Flags().String(FlagTelemetryFile, "", "Telemetry JSONL path")
	startCmd.Flags().Bool(FlagNoRealtime, false, "Disable the realtime channel")
	startCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	// Status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}

			status, err := client.Status()
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool(FlagJSON); asJSON {
				return printJSON(status)
			}
			fmt.Print(formatStatus(status))
			return nil
		},
	}
	statusCmd.Flags().Bool(FlagJSON, false, "Output status as JSON")

	// Notifications command
	notificationsCmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"ls"},
		Short:   "List notifications from the agent's feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt(FlagLimit)
			resp, err := client.Notifications(limit)
			if err != nil {
				return err
			}

			if countOnly, _ := cmd.Flags().GetBool(FlagCount); countOnly {
				fmt.Println(resp.UnreadCount)
				return nil
			}
			if asJSON, _ := cmd.Flags().GetBool(FlagJSON); asJSON {
				return printJSON(resp)
			}
			fmt.Print(formatNotifications(resp.Notifications, resp.UnreadCount))
			return nil
		},
	}
	notificationsCmd.Flags().Bool(FlagJSON, false, "Output notifications as JSON")
	notificationsCmd.Flags().Bool(FlagCount, false, "Print only the unread count")
	notificationsCmd.Flags().Int(FlagLimit, 20, "Maximum notifications to show (0 = all)")

	// Read command
	readCmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark a notification (or all with --all) as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool(FlagAll)
			if all == (len(args) == 1) {
				return errors.New("pass exactly one of <id> or --all")
			}

			client, err := getDaemonClient()
			if err != nil {
				return err
			}

			if all {
				if err := client.MarkAllRead(); err != nil {
					return err
				}
				fmt.Println("All notifications marked read")
				return nil
			}
			if err := client.MarkRead(args[0]); err != nil {
				return err
			}
			fmt.Printf("Notification %s marked read\n", args[0])
			return nil
		},
	}
	readCmd.Flags().Bool(FlagAll, false, "Mark every notification read")

	// Delete command
	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}
			if err := client.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Notification %s deleted\n", args[0])
			return nil
		},
	}

	// Reconnect command
	reconnectCmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Restart the realtime channel with a fresh attempt budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}
			if err := client.Reconnect(); err != nil {
				return err
			}
			fmt.Println("Reconnect requested")
			return nil
		},
	}

	// Stop command
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}

			force, _ := cmd.Flags().GetBool(FlagForce)
			if err := client.Stop(force); err != nil {
				return err
			}
			fmt.Println("Stop requested")
			return nil
		},
	}
	stopCmd.Flags().Bool(FlagForce, false, "Close the control socket without waiting")

	// Dashboard command
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Fetch the dashboard aggregate once",
		Long: `Fetch stats, recent applications, recent jobs and the unread count
concurrently. A failing section shows its fallback instead of failing the
whole dashboard. Does not need a running agent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Debug {
				logLevel.Set(slog.LevelDebug)
			}

			api, err := oneShotClient(cfg, logger)
			if err != nil {
				return err
			}

			d := api.Dashboard(cmd.Context())
			if asJSON, _ := cmd.Flags().GetBool(FlagJSON); asJSON {
				return printJSON(d)
			}
			fmt.Print(formatDashboard(d))
			return nil
		},
	}
	dashboardCmd.Flags().Bool(FlagJSON, false, "Output the dashboard as JSON")

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(redacted(cfg))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}

	// Events command
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "View recent telemetry events",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if info, err := daemon.FindDaemonInfo(""); err == nil && info.TelemetryPath != "" {
				path = info.TelemetryPath
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				resolved, err := daemon.ResolvePaths(cfg.Paths, daemon.FindProjectRoot(""))
				if err != nil {
					return err
				}
				path = resolved.Telemetry
			}
			if path == "" {
				return errors.New("telemetry is disabled (paths.telemetry is empty)")
			}

			if follow, _ := cmd.Flags().GetBool(FlagFollow); follow {
				return tailFollow(cmd.Context(), os.Stdout, path)
			}
			lines, _ := cmd.Flags().GetInt(FlagLines)
			return tailLast(os.Stdout, path, lines)
		},
	}
	eventsCmd.Flags().Bool(FlagFollow, false, "Follow event stream (like tail -f)")
	eventsCmd.Flags().Int(FlagLines, 20, "Number of recent events to show")

	// Register all commands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(reconnectCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(eventsCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
