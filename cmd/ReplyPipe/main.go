package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/api"
	"github.com/BTreeMap/ReplyPipe/internal/calendar"
	"github.com/BTreeMap/ReplyPipe/internal/lockfile"
	"github.com/BTreeMap/ReplyPipe/internal/session"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReplyPipe/internal/util"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReplyPipe state data
	DefaultStateDir = "/var/lib/replypipe"
	// DefaultWhatsAppDBFileName is the whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAppDBFileName is the transfer and appointment database filename
	DefaultAppDBFileName = "replypipe.db"
	// DefaultSMTPPort is used when SMTP_PORT is unset
	DefaultSMTPPort = 587
	// DefaultShutdownTimeout bounds the drain of in-flight conversations
	DefaultShutdownTimeout = 15 * time.Second
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := appOptions{
		configPath: *flags.configPath,
		appDSN:     *flags.appDSN,
		waOpts:     buildWhatsAppOptions(flags),
		twilioOpts: buildTwilioOptions(config),
		twilioURL:  config.TwilioWebhookURL,
		calOpts:    buildCalendarOptions(config),
		redisOpts:  buildRedisOptions(config),
		apiOpts:    buildAPIOptions(flags),
		smtp:       config.SMTP,
		disableWA:  *flags.noWhatsApp,
		drain:      config.ShutdownTimeout,
	}

	slog.Info("Bootstrapping ReplyPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "config", *flags.configPath, "app_dsn_set", *flags.appDSN != "", "api_addr", *flags.apiAddr)
	if err := run(ctx, opts); err != nil {
		slog.Error("ReplyPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("ReplyPipe exited successfully")
}

// SMTPConfig holds the operator e-mail settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Config holds environment configuration
type Config struct {
	StateDir          string
	ConfigPath        string
	WhatsAppDBDSN     string
	ApplicationDBDSN  string
	RedisURL          string
	APIAddr           string
	LogLevel          string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	TwilioWebhookURL  string
	GoogleCredentials string
	GoogleCalendarID  string
	NoWhatsApp        bool
	ShutdownTimeout   time.Duration
	SMTP              SMTPConfig
}

// Flags holds command line flag values
type Flags struct {
	qrOutput   *string
	numeric    *bool
	stateDir   *string
	configPath *string
	waDSN      *string
	appDSN     *string
	apiAddr    *string
	noWhatsApp *bool
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: util.ParseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          os.Getenv("REPLYPIPE_STATE_DIR"),
		ConfigPath:        os.Getenv("REPLYPIPE_CONFIG"),
		WhatsAppDBDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN:  os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		APIAddr:           os.Getenv("API_ADDR"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:  os.Getenv("TWILIO_WEBHOOK_URL"),
		GoogleCredentials: os.Getenv("GOOGLE_CALENDAR_CREDENTIALS"),
		GoogleCalendarID:  os.Getenv("GOOGLE_CALENDAR_ID"),
		NoWhatsApp:        util.ParseBoolEnv("REPLYPIPE_NO_WHATSMEOW", false),
		ShutdownTimeout:   util.ParseDurationEnv("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     util.ParseIntEnv("SMTP_PORT", DefaultSMTPPort),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REPLYPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No WHATSAPP_DB_DSN set, defaulting to SQLite", "dsn", config.WhatsAppDBDSN)
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No DATABASE_URL set, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}

	slog.Debug("environment variables loaded",
		"REPLYPIPE_STATE_DIR", config.StateDir,
		"REPLYPIPE_CONFIG", config.ConfigPath,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"TWILIO_SET", config.TwilioAccountSID != "" && config.TwilioAuthToken != "",
		"GOOGLE_CALENDAR_SET", config.GoogleCredentials != "",
		"SMTP_SET", config.SMTP.Host != "",
		"API_ADDR", config.APIAddr)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:   flag.String("qr-output", "", "path to write login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for ReplyPipe data (overrides $REPLYPIPE_STATE_DIR)"),
		configPath: flag.String("config", config.ConfigPath, "TOML configuration file (overrides $REPLYPIPE_CONFIG)"),
		waDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		appDSN:     flag.String("db-dsn", config.ApplicationDBDSN, "transfer and appointment store DSN (overrides $DATABASE_URL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		noWhatsApp: flag.Bool("no-whatsmeow", config.NoWhatsApp, "do not connect the direct WhatsApp channel (overrides $REPLYPIPE_NO_WHATSMEOW)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"config", *flags.configPath,
		"waDSN_set", *flags.waDSN != "",
		"appDSN_set", *flags.appDSN != "",
		"apiAddr", *flags.apiAddr,
		"noWhatsApp", *flags.noWhatsApp)

	// Follow -state-dir with the default DSNs when they were not set explicitly
	if *flags.stateDir != config.StateDir {
		if *flags.waDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
		if *flags.appDSN == defaultAppDSN(config.StateDir) {
			*flags.appDSN = defaultAppDSN(*flags.stateDir)
		}
		slog.Debug("Updated default DSNs based on state directory", "new_state_dir", *flags.stateDir)
	}
	return flags
}

// ensureDirectoriesExist creates directories for file-based databases
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	for _, dsn := range []string{*flags.waDSN, *flags.appDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildTwilioOptions returns nil when Twilio is not configured
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	if config.TwilioAccountSID == "" || config.TwilioAuthToken == "" {
		return nil
	}
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
	}
}

// buildCalendarOptions returns nil when no Google credentials are configured
func buildCalendarOptions(config Config) []calendar.GoogleOption {
	if config.GoogleCredentials == "" {
		return nil
	}
	opts := []calendar.GoogleOption{calendar.WithCredentialsFile(config.GoogleCredentials)}
	if config.GoogleCalendarID != "" {
		opts = append(opts, calendar.WithCalendarID(config.GoogleCalendarID))
	}
	return opts
}

// buildRedisOptions returns nil when sessions stay in memory
func buildRedisOptions(config Config) []session.RedisOption {
	if config.RedisURL == "" {
		return nil
	}
	return []session.RedisOption{session.WithRedisURL(config.RedisURL)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
