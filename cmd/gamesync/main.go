// Package main implements the gamesync binary which copies the games owned
// on Steam into a catalog store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/gamesync/internal/db"
	"github.com/cybertec-postgresql/gamesync/internal/etcd"
	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/notion"
	"github.com/cybertec-postgresql/gamesync/internal/sheets"
	"github.com/cybertec-postgresql/gamesync/internal/steam"
	"github.com/cybertec-postgresql/gamesync/internal/sync"
)

// SteamOpts are the credentials of the inventory source
type SteamOpts struct {
	APIKey  string `long:"steam-api-key" env:"GAMESYNC_STEAM_API_KEY" description:"Steam Web API key"`
	SteamID string `long:"steam-id" env:"GAMESYNC_STEAM_ID" description:"64-bit Steam ID of the account"`
}

// NotionOpts configure the Notion store
type NotionOpts struct {
	APIKey       string `long:"notion-api-key" env:"GAMESYNC_NOTION_API_KEY" description:"Notion integration token"`
	DatabaseID   string `long:"notion-database-id" env:"GAMESYNC_NOTION_DATABASE_ID" description:"Notion database id"`
	IDProperty   string `long:"notion-id-property" env:"GAMESYNC_NOTION_ID_PROPERTY" description:"Number property holding the app id" default:"GameID"`
	NameProperty string `long:"notion-name-property" env:"GAMESYNC_NOTION_NAME_PROPERTY" description:"Title property holding the game name" default:"Name"`
}

// SheetsOpts configure the Google Sheets store
type SheetsOpts struct {
	AccessToken   string `long:"sheets-token" env:"GAMESYNC_SHEETS_TOKEN" description:"OAuth access token for the Sheets API"`
	SpreadsheetID string `long:"sheets-spreadsheet-id" env:"GAMESYNC_SHEETS_SPREADSHEET_ID" description:"Spreadsheet id"`
	Sheet         string `long:"sheets-sheet" env:"GAMESYNC_SHEETS_SHEET" description:"Sheet (tab) name" default:"Sheet1"`
}

// SyncOpts tune batching and pacing
type SyncOpts struct {
	BatchSize             int           `long:"batch-size" env:"GAMESYNC_BATCH_SIZE" description:"Records per batch" default:"10"`
	MaxConcurrentRequests int           `long:"max-requests" env:"GAMESYNC_MAX_REQUESTS" description:"Item writes in flight per batch" default:"3"`
	MaxConcurrentBatches  int           `long:"max-batches" env:"GAMESYNC_MAX_BATCHES" description:"Batches in flight" default:"2"`
	RequestDelay          time.Duration `long:"request-delay" env:"GAMESYNC_REQUEST_DELAY" description:"Pause after every item write" default:"334ms"`
	PageDelay             time.Duration `long:"page-delay" env:"GAMESYNC_PAGE_DELAY" description:"Pause between store pages" default:"334ms"`
	DryRun                bool          `long:"dry-run" env:"GAMESYNC_DRY_RUN" description:"Report the missing games without writing"`
}

// Config holds the application configuration
type Config struct {
	Store       string     `short:"s" long:"store" env:"GAMESYNC_STORE" description:"Catalog store" choice:"notion" choice:"sheets" choice:"postgres" choice:"etcd" default:"notion"`
	Steam       SteamOpts  `group:"Steam"`
	Notion      NotionOpts `group:"Notion"`
	Sheets      SheetsOpts `group:"Google Sheets"`
	PostgresDSN string     `short:"p" long:"postgres-dsn" env:"GAMESYNC_POSTGRES_DSN" description:"PostgreSQL connection string"`
	EtcdDSN     string     `short:"e" long:"etcd-dsn" env:"GAMESYNC_ETCD_DSN" description:"etcd connection string"`
	Sync        SyncOpts   `group:"Synchronization"`
	LogLevel    string     `short:"l" long:"log-level" env:"GAMESYNC_LOG_LEVEL" description:"Log level: debug|info|warn|error" default:"info"`
	NoColor     bool       `long:"no-color" env:"GAMESYNC_NO_COLOR" description:"Disable colored log output"`
	Version     bool       `short:"v" long:"version" description:"Show version information"`
	Help        bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// SyncConfig converts the command-line knobs into run settings
func (c *Config) SyncConfig() sync.Config {
	return sync.Config{
		BatchSize: c.Sync.BatchSize,
		Throttle: sync.ThrottleConfig{
			MaxConcurrentRequests: c.Sync.MaxConcurrentRequests,
			MaxConcurrentBatches:  c.Sync.MaxConcurrentBatches,
			InterRequestDelay:     c.Sync.RequestDelay,
		},
		PageDelay: c.Sync.PageDelay,
		DryRun:    c.Sync.DryRun,
	}
}

// Credentials returns the Steam credentials
func (c *Config) Credentials() steam.Credentials {
	return steam.Credentials{APIKey: c.Steam.APIKey, SteamID: c.Steam.SteamID}
}

// LoadDotEnv exports the variables of path into the environment.
// A missing file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("gamesync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. Cancelling stops new writes;
// writes already in flight still complete.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

// OpenStore connects to the configured store. The returned closer releases
// its connections and is never nil.
func OpenStore(ctx context.Context, cfg *Config, logger logrus.FieldLogger) (sync.Store, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case "notion":
		s, err := notion.NewStore(notion.Config{
			APIKey:       cfg.Notion.APIKey,
			DatabaseID:   cfg.Notion.DatabaseID,
			IDProperty:   cfg.Notion.IDProperty,
			NameProperty: cfg.Notion.NameProperty,
		}, notion.WithLogger(logger))
		return s, noop, err
	case "sheets":
		s, err := sheets.NewStore(sheets.Config{
			AccessToken:   cfg.Sheets.AccessToken,
			SpreadsheetID: cfg.Sheets.SpreadsheetID,
			Sheet:         cfg.Sheets.Sheet,
		}, sheets.WithLogger(logger))
		return s, noop, err
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, noop, errors.New("--postgres-dsn is required for the postgres store")
		}
		pool, err := db.NewWithRetry(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return db.NewStore(pool, db.WithLogger(logger)), pool.Close, nil
	case "etcd":
		if cfg.EtcdDSN == "" {
			return nil, noop, errors.New("--etcd-dsn is required for the etcd store")
		}
		client, err := etcd.NewEtcdClientWithRetry(ctx, cfg.EtcdDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		closer := func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close etcd client")
			}
		}
		return etcd.NewStore(client.KV(), client.Prefix(), etcd.WithLogger(logger)), closer, nil
	default:
		return nil, noop, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if config != nil && config.Help {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	logger := logrus.StandardLogger()
	if err := log.Setup(logger, config.LogLevel, config.NoColor); err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("gamesync logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	store, closeStore, err := OpenStore(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer closeStore()

	inventory := steam.NewClient(steam.WithLogger(logger))
	service := sync.NewService(store, inventory, config.SyncConfig(), sync.WithLogger(logger))

	res, err := service.Run(ctx, config.Credentials())
	if err != nil {
		closeStore()
		logger.WithError(err).Fatal("Synchronization failed")
	}
	logger.WithFields(logrus.Fields{
		"status":   res.Status,
		"source":   res.Source,
		"existing": res.Existing,
		"delta":    res.Delta,
		"written":  res.Written,
		"batches":  res.Batches,
	}).Info("Synchronization finished")
}
