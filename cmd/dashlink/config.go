package main

// Flag names for Viper binding
const (
	// Global flags
	FlagVerbose    = "verbose"
	FlagConfig     = "config"
	FlagLogFile    = "log-file"
	FlagSocketPath = "socket-path"
	FlagAPIURL     = "api-url"

	// Session flags
	FlagToken       = "token"
	FlagRole        = "role"
	FlagSessionFile = "session-file"

	// Start command flags
	FlagTelemetryFile = "telemetry-file"
	FlagNoRealtime    = "no-realtime"

	// Notifications command flags
	FlagLimit = "limit"
	FlagCount = "count"

	// Read command flags
	FlagAll = "all"

	// Stop command flags
	FlagForce = "force"

	// Events command flags
	FlagFollow = "follow"
	FlagLines  = "lines"

	// Output format flags
	FlagJSON = "json"
)
