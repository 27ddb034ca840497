package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ragbase/kbchat/pkg/chatstore"
	"github.com/ragbase/kbchat/pkg/kbstore"
	"github.com/ragbase/kbchat/pkg/provider"
	anthropicprovider "github.com/ragbase/kbchat/pkg/provider/anthropic"
	"github.com/ragbase/kbchat/pkg/provider/scripted"
	"github.com/ragbase/kbchat/pkg/tokencount"
	"github.com/ragbase/kbchat/pkg/webchat"
)

type Config struct {
	Addr            string `yaml:"addr"`
	DBPath          string `yaml:"db"`
	KBDBPath        string `yaml:"kb_db"`
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

func defaultConfig() Config {
	return Config{
		Addr:      ":8080",
		DBPath:    "kbchat.db",
		KBDBPath:  "kb.db",
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-20250514",
		LogLevel:  "info",
		LogFormat: "auto",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config file")
	}
	return cfg, nil
}

func setupLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	useConsole := false
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		useConsole = true
	case "json":
	default: // auto
		useConsole = isatty.IsTerminal(os.Stderr.Fd())
	}
	if useConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func buildProvider(cfg Config) (provider.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic", "":
		apiKey := cfg.AnthropicAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return anthropicprovider.New(anthropicprovider.Config{
			APIKey: apiKey,
			Model:  cfg.Model,
		})
	case "scripted", "echo":
		// offline dev mode: answers every message with an echo
		p := scripted.New()
		p.Echo = true
		return p, nil
	default:
		return nil, errors.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		addr       string
		dbPath     string
		kbDBPath   string
		providerID string
		model      string
		logLevel   string
		logFormat  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge-base chat HTTP API and websocket stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			// flags set explicitly win over the config file
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("kb-db") {
				cfg.KBDBPath = kbDBPath
			}
			if flags.Changed("provider") {
				cfg.Provider = providerID
			}
			if flags.Changed("model") {
				cfg.Model = model
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "kbchat.db", "path to the session sqlite database")
	cmd.Flags().StringVar(&kbDBPath, "kb-db", "kb.db", "path to the knowledge-base sqlite database")
	cmd.Flags().StringVar(&providerID, "provider", "anthropic", "answer provider (anthropic, scripted)")
	cmd.Flags().StringVar(&model, "model", "", "model name for the anthropic provider")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "auto", "log format (auto, console, json)")
	return cmd
}

func runServe(ctx context.Context, cfg Config) error {
	sessionDSN, err := chatstore.SQLiteSessionDSNForFile(cfg.DBPath)
	if err != nil {
		return err
	}
	sessions, err := chatstore.NewSQLiteSessionStore(sessionDSN)
	if err != nil {
		return errors.Wrap(err, "open session store")
	}
	defer func() { _ = sessions.Close() }()

	kbDSN, err := kbstore.SQLiteKBDSNForFile(cfg.KBDBPath)
	if err != nil {
		return err
	}
	kb, err := kbstore.NewSQLiteStore(kbDSN)
	if err != nil {
		return errors.Wrap(err, "open kb store")
	}
	defer func() { _ = kb.Close() }()

	prov, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	router, err := webchat.NewRouter(srvCtx, webchat.RouterConfig{
		Addr:       cfg.Addr,
		Sessions:   sessions,
		KB:         kb,
		Provider:   prov,
		Tokens:     tokencount.NewCounter(),
		Publisher:  pubsub,
		Subscriber: pubsub,
	})
	if err != nil {
		return errors.Wrap(err, "build router")
	}
	server := router.BuildHTTPServer()

	eg, egCtx := errgroup.WithContext(srvCtx)
	eg.Go(func() error {
		log.Info().Str("component", "kbchat").Str("addr", cfg.Addr).Str("provider", cfg.Provider).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listen and serve")
		}
		return nil
	})
	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Str("component", "kbchat").Msg("received interrupt, shutting down")
		case <-egCtx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown")
		}
		srvCancel()
		return nil
	})
	return eg.Wait()
}

func main() {
	root := &cobra.Command{
		Use:   "kbchat",
		Short: "Knowledge-base chat assistant server",
	}
	root.AddCommand(newServeCommand())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
