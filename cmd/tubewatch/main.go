package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tubewatch/internal/channel"
	"tubewatch/internal/config"
	"tubewatch/internal/database"
	"tubewatch/internal/feed"
	"tubewatch/internal/flags"
	"tubewatch/internal/youtube"
)

var (
	// Version will be set during build
	Version = "dev"

	// Command line flags
	configPath = flag.String("config", "", "Path to config file (default: $HOME/.config/tubewatch.conf)")
	dbPath     = flag.String("db", "", "Path to database file (default: config database or TUBEWATCH_DB_PATH)")
	provider   = flag.String("provider", "", "Remote provider: api or rss (default: config provider or TUBEWATCH_PROVIDER)")
	version    = flag.Bool("version", false, "Print version information")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: tubewatch [flags] <command> [args]

Commands:
  list                                   list channels and filters
  add <id|user|handle|url> <value>       subscribe to a channel
  remove <channel>                       unsubscribe and delete its videos
  videos <channel>                       list the videos of a channel or filter
  show <video>                           show one video
  watched [-unset] <video>               mark a video watched
  downloaded [-unset] <video>            mark a video downloaded
  mark-all <channel>                     mark every video of a channel or filter watched
  refresh <channel>                      fetch new videos for one channel
  refresh-all                            fetch new videos for every channel
  watch [-interval d]                    refresh all channels periodically
  flag list|add|rename|toggle ...        manage user flags
  filter create|rename|toggle ...        manage filters
  export [-o file] <channel>             write a channel or filter as RSS 2.0
  serve [-addr a] [-base-url u] [-refresh]  publish channels and feeds over HTTP

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("tubewatch version %s\n", Version)
		return
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	// Setup logging
	logger := log.New(os.Stdout, "tubewatch: ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Override with command line flags if provided
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.File != "" {
		logger.Printf("Config: %s", cfg.File)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewDB(cfg.DBPath, database.DefaultConfig())
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, flags.ErrCorrupt) {
			logger.Fatalf("Flag table is corrupt: %v", err)
		}
		fmt.Fprintf(os.Stderr, "tubewatch: %v\n", err)
		stop()
		db.Close()
		os.Exit(1)
	}
}

// app holds the services every command works with
type app struct {
	cfg      config.Config
	db       *database.DB
	logger   *log.Logger
	registry *flags.Registry
	engine   *channel.Engine
	dir      *channel.Directory
	service  *feed.Service
}

func newApp(ctx context.Context, cfg config.Config, db *database.DB, logger *log.Logger) (*app, error) {
	remote, err := newRemote(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := flags.NewRegistry(db, logger)
	if _, err := registry.Load(ctx); err != nil {
		if errors.Is(err, flags.ErrCorrupt) {
			logger.Fatalf("Flag table is corrupt: %v", err)
		}
		return nil, err
	}

	engine := channel.NewEngine(db, logger)
	dir := channel.NewDirectory(db, engine, logger)
	if err := dir.Load(ctx); err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		registry: registry,
		engine:   engine,
		dir:      dir,
		service:  feed.NewService(db, remote, feed.LogNotifier{Logger: logger}, logger),
	}, nil
}

func newRemote(ctx context.Context, cfg config.Config, logger *log.Logger) (feed.Remote, error) {
	switch cfg.Provider {
	case config.ProviderRSS:
		logger.Printf("Using the public RSS feed")
		return youtube.NewRSSClient(youtube.NewHTTPClient(), ""), nil
	default:
		return youtube.NewAPIClient(ctx, youtube.APIConfig{
			APIKey:  cfg.APIKey,
			Headers: cfg.Headers(),
			Logger:  logger,
		})
	}
}
