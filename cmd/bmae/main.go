package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/app"
	"github.com/kailas-cloud/bmae/internal/config"
	logpkg "github.com/kailas-cloud/bmae/internal/logger"
	"github.com/kailas-cloud/bmae/internal/version"
)

var (
	cfgFile string
	envName string
)

var rootCmd = &cobra.Command{
	Use:           "bmae",
	Short:         "bmae - hybrid retrieval assistant over Belgian monarchy artworks",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.Commit, version.Date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment: local, dev, prod (default $ENV or local)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// session bundles what every command needs.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	rt     *app.Runtime
}

func (s *session) close() {
	if err := s.rt.Close(); err != nil {
		s.logger.Warn("Failed to close runtime", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// open loads configuration and builds the Runtime.
func open(ctx context.Context) (*session, error) {
	env := envName
	if env == "" {
		env = config.GetEnv()
	}

	var (
		cfg config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	rt, err := app.New(ctx, cfg, logger, app.Overrides{})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("build runtime: %w", err)
	}
	return &session{cfg: cfg, logger: logger, rt: rt}, nil
}
