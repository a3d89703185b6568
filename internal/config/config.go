package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string
	Retention int
}

// SchedulerConfig holds scheduling engine settings.
type SchedulerConfig struct {
	PollInterval time.Duration
	ExecTimeout  time.Duration
}

// RemoteConfig holds remote command library settings.
type RemoteConfig struct {
	URL     string
	Enabled bool
	SyncAt  string // daily sync time as HH:MM, empty disables the daily sync
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Scheduler    SchedulerConfig
	Remote       RemoteConfig
	Notification NotificationConfig

	Mode          string // http, mcp, or both
	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "0.0.0.0:7070"
	defaultLogLevel      = "info"
	defaultRunKeep       = 20
	defaultMode          = "http"
	defaultPollInterval  = 10 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > environment variables > .env file > defaults.
func Parse() (*Config, error) {
	// The .env file is optional; check the working directory first, then
	// the user config directory.
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "taskpilot", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("TASKPILOT_ADDR", defaultAddr),
			AuthToken: getEnvString("TASKPILOT_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:     getEnvString("TASKPILOT_LOG_LEVEL", defaultLogLevel),
			Retention: getEnvInt("TASKPILOT_RUN_KEEP", defaultRunKeep),
		},
		Scheduler: SchedulerConfig{
			PollInterval: getEnvDuration("TASKPILOT_POLL_INTERVAL", defaultPollInterval),
			ExecTimeout:  getEnvDuration("TASKPILOT_EXEC_TIMEOUT", 0),
		},
		Remote: RemoteConfig{
			URL:     getEnvString("TASKPILOT_REMOTE_COMMANDS_URL", ""),
			Enabled: getEnvBool("TASKPILOT_REMOTE_COMMANDS_ENABLED", false),
			SyncAt:  getEnvString("TASKPILOT_REMOTE_SYNC_AT", ""),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("TASKPILOT_BARK_URL", ""),
				Enabled: getEnvBool("TASKPILOT_BARK_ENABLED", false),
			},
		},
		Mode:          getEnvString("TASKPILOT_MODE", defaultMode),
		StateDir:      getEnvString("TASKPILOT_STATE_DIR", ""),
		UseUTC:        getEnvBool("TASKPILOT_USE_UTC", false),
		ShutdownGrace: getEnvDuration("TASKPILOT_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var (
		addr, mode, logLevel, stateDir string
		runKeep                        int
		useUTC                         bool
		pollInterval, execTimeout      time.Duration
		shutdownGrace                  time.Duration
	)
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&mode, "mode", "", "Serving mode: http, mcp, or both")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&useUTC, "use-utc", false, "Use UTC for schedule evaluation instead of system local time")
	flag.IntVar(&runKeep, "run-keep", 0, "Number of recent runs to retain per task")
	flag.DurationVar(&pollInterval, "poll-interval", 0, "Scheduler poll interval")
	flag.DurationVar(&execTimeout, "exec-timeout", 0, "Per-execution timeout, 0 disables")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if runKeep > 0 {
		cfg.Log.Retention = runKeep
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if pollInterval > 0 {
		cfg.Scheduler.PollInterval = pollInterval
	}
	// Bool and zero-meaningful flags only apply when explicitly set.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "exec-timeout":
			cfg.Scheduler.ExecTimeout = execTimeout
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q (expected http, mcp, or both)", cfg.Mode)
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	if cfg.Log.Retention < 1 {
		cfg.Log.Retention = defaultRunKeep
	}
	if cfg.Scheduler.PollInterval <= 0 {
		cfg.Scheduler.PollInterval = defaultPollInterval
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "taskpilot")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
