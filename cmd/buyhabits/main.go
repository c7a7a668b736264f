// buyhabits - predicts which clients will buy a category or a brand soon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/config"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/kit"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/ledger"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/resample"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/sink"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/storage"
)

var (
	// Global flags
	configPath string
	dataDir    string
	logLevel   string

	// Version
	version = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "buyhabits",
		Short: "Buying habits - predict who will buy what, and when",
		Long: `buyhabits learns the buying habits of every client from past orders,
one decision tree per client and category (or brand), and answers
prioritized requests such as "who will buy fruits next month?".

Orders are imported locally, models live on the decision-tree service.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.buyhabits)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(importCmd())
	root.AddCommand(updateCmd())
	root.AddCommand(requestCmd())
	root.AddCommand(destroyCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(ledgerCmd())
	root.AddCommand(versionCmd())

	return root
}

// env is everything a command needs, built from the configuration
type env struct {
	cfg       *config.Config
	db        *storage.DB
	ledger    *ledger.Store
	publisher *sink.Publisher
	logger    *logging.Logger
}

// setup loads the configuration, applies the global flags and opens the
// local database
func setup() (*env, error) {
	path := configPath
	if path == "" && dataDir != "" {
		path = filepath.Join(dataDir, "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	logger := logging.Default()

	db, err := storage.Open(storage.Config{Path: cfg.DBPath()})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Migrate(context.Background(), logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	publisher, err := sink.New(sink.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &env{
		cfg:       cfg,
		db:        db,
		ledger:    ledger.NewStore(db.Conn()),
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Close releases the database and flushes the publisher
func (e *env) Close() {
	if err := e.publisher.Close(); err != nil {
		e.logger.Warn("Failed to close publisher: %v", err)
	}
	e.db.Close()
}

// newKit creates the kit on top of the decision-tree service
func (e *env) newKit(opts ...kit.Option) (*kit.Kit, error) {
	if e.cfg.Oracle.Token == "" {
		token, err := promptToken()
		if err != nil {
			return nil, err
		}
		e.cfg.Oracle.Token = token
	}
	if e.cfg.Oracle.Owner == "" || e.cfg.Oracle.Project == "" {
		return nil, fmt.Errorf("oracle owner and project must be configured (CRAFT_OWNER, CRAFT_PROJECT)")
	}

	loc, err := e.cfg.Location()
	if err != nil {
		return nil, err
	}

	client := oracle.NewClient(oracle.Config{
		URL:     e.cfg.Oracle.URL,
		Owner:   e.cfg.Oracle.Owner,
		Project: e.cfg.Oracle.Project,
		Token:   e.cfg.Oracle.Token,
		Timeout: e.cfg.Oracle.Timeout,
	})

	opts = append([]kit.Option{
		kit.WithLogger(e.logger),
		kit.WithAuditor(ledger.NewRecorder(e.ledger, ledger.ActorKit)),
		kit.WithPublisher(e.publisher),
	}, opts...)

	return kit.New(client, kit.Config{
		Location:          loc,
		ChunkSize:         e.cfg.Oracle.ChunkSize,
		RequestsPerSecond: e.cfg.Oracle.RequestsPerSecond,
		Concurrency:       e.cfg.Oracle.Concurrency,
		Source:            resample.NewSource(e.cfg.Model.Seed),
		IncludeUndecided:  e.cfg.Model.IncludeUndecided,
		Clients:           e.cfg.Dictionaries.Clients,
		Categories:        e.cfg.Dictionaries.Categories,
	}, opts...), nil
}

// promptToken reads the service token from the terminal
func promptToken() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no oracle token: set CRAFT_TOKEN")
	}
	fmt.Fprint(os.Stderr, "Decision-tree service token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	if len(token) == 0 {
		return "", fmt.Errorf("no oracle token: set CRAFT_TOKEN")
	}
	return string(token), nil
}

// confirm asks a yes/no question on stdin
func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// versionCmd shows version info
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("buyhabits %s\n", version)
		},
	}
}
