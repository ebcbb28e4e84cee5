package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/deemkeen/fedsync/activitypub"
	"github.com/deemkeen/fedsync/db"
	"github.com/deemkeen/fedsync/util"
	"github.com/deemkeen/fedsync/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   util.Name,
		Short: "ActivityPub federation server",
		Long: `fedsync exchanges signed activities (posts, likes, boosts, follows,
emoji reactions and chat messages) with other ActivityPub servers.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		accountCmd(),
		instanceCmd(),
		postCmd(),
		likeCmd(),
		boostCmd(),
		undoCmd(),
		followCmd(),
		reactCmd(),
		chatCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the delivery worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.close()

			app.log.Info("Configuration loaded",
				zap.String("sslDomain", app.conf.Conf.SslDomain),
				zap.String("database", app.conf.Conf.DatabasePath),
				zap.Bool("withAp", app.conf.Conf.WithAp))

			if app.conf.Conf.WithAp {
				go activitypub.NewDeliveryWorker(app.env).Run(ctx)
			}

			return web.Serve(ctx, app.env, app.db)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(util.GetNameAndVersion())
		},
	}
}

// app bundles what every subcommand opens.
type app struct {
	conf *util.AppConfig
	db   *db.DB
	env  *activitypub.Env
	log  *zap.Logger
}

func openApp() (*app, error) {
	logger := setupLogger(verbose)

	conf, err := util.ReadConf()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	dbPath := conf.Conf.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = util.ResolveFilePath(dbPath)
	}
	database, err := db.OpenWithLogger(dbPath, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		conf: conf,
		db:   database,
		env:  activitypub.NewEnv(conf, database, logger),
		log:  logger,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	a.log.Sync()
}

// withApp runs f against an opened app, for commands that act and exit.
func withApp(ctx context.Context, f func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()
	return f(ctx, a)
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
