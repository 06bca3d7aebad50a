package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yolodolo42/walletbridge/internal/app"
	"github.com/yolodolo42/walletbridge/internal/logging"
)

// announceTimeout bounds how long commands wait for external signers
const announceTimeout = 2 * time.Second

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "walletbridge",
		Short: "Connect to private-execution wallets from the terminal",
		Long: `walletbridge connects to wallets through one of three strategies:

  embedded         a keystore-backed account proven by the local execution service
  external signer  an EVM signer whose signature derives the account keys
  browser wallet   a wallet that manages its own account and execution service

The last successful connection is remembered per network and restored on
the next run.`,
		SilenceUsage: true,
	}
)

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.walletbridge/config.yaml)")
	rootCmd.PersistentFlags().String("network", "", "network to use (default sandbox)")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	_ = viper.BindPFlag("network", rootCmd.PersistentFlags().Lookup("network"))
	_ = viper.BindPFlag("log.debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir := app.DefaultDataDir()
		if err := os.MkdirAll(configDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config directory: %v\n", err)
		}

		viper.AddConfigPath(configDir)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("WALLETBRIDGE")
	viper.AutomaticEnv()

	// The config file is optional
	_ = viper.ReadInConfig()
}

// session is an opened App plus the terminal helpers commands share
type session struct {
	*app.App
	term *terminal
}

// openSession loads the configuration and builds the App. reconnect restores
// the persisted connection before returning.
func openSession(ctx context.Context, reconnect bool) (*session, error) {
	cfg, err := app.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(&logging.LoggerConfig{Debug: cfg.Log.Debug, Quiet: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	term := newTerminal()
	a, err := app.New(ctx, cfg, app.Options{
		Logger:   logger,
		Password: term.password,
		Approve:  term.approve,
	})
	if err != nil {
		return nil, err
	}
	if len(cfg.ExternalSigners) > 0 {
		a.AwaitProviders(ctx, announceTimeout)
	}
	if reconnect {
		a.Reconnector.Run(ctx)
	}
	return &session{App: a, term: term}, nil
}

func configPath() string {
	if f := viper.ConfigFileUsed(); f != "" {
		return f
	}
	return filepath.Join(app.DefaultDataDir(), "config.yaml")
}
