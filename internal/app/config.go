package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/yolodolo42/walletbridge/internal/network"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/receipts"
)

// ExternalSignerConfig configures one EVM signing extension. Exactly one of
// RPCURL and Keystore selects how it is reached.
type ExternalSignerConfig struct {
	RDNS string `mapstructure:"rdns"`
	Name string `mapstructure:"name"`
	Icon string `mapstructure:"icon"`
	// RPCURL is a JSON-RPC endpoint answering eth_accounts and personal_sign
	RPCURL string `mapstructure:"rpc_url"`
	// Keystore is an address in the local keystore served as a signer
	Keystore string `mapstructure:"keystore"`
}

type BrowserWalletConfig struct {
	ID     string `mapstructure:"id"`
	Label  string `mapstructure:"label"`
	RPCURL string `mapstructure:"rpc_url"`
}

type ReceiptsConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

type ConnectorsConfig struct {
	Priority []string `mapstructure:"priority"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Config is the application configuration as read from config.yaml
type Config struct {
	DataDir         string                     `mapstructure:"data_dir"`
	Network         string                     `mapstructure:"network"`
	Networks        map[string]*network.Config `mapstructure:"networks"`
	SponsoredFPC    string                     `mapstructure:"sponsored_fpc"`
	Connectors      ConnectorsConfig           `mapstructure:"connectors"`
	ExternalSigners []ExternalSignerConfig     `mapstructure:"external_signers"`
	BrowserWallet   BrowserWalletConfig        `mapstructure:"browser_wallet"`
	Receipts        ReceiptsConfig             `mapstructure:"receipts"`
	Log             LogConfig                  `mapstructure:"log"`
}

// DefaultDataDir is ~/.walletbridge
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletbridge"
	}
	return filepath.Join(home, ".walletbridge")
}

// LoadConfig reads the configuration from v and fills in defaults
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Network == "" {
		cfg.Network = network.DefaultNetwork
	}
	poller := receipts.NewPoller(cfg.Receipts.Attempts, cfg.Receipts.Interval)
	cfg.Receipts.Attempts, cfg.Receipts.Interval = poller.Attempts, poller.Interval

	for i, s := range cfg.ExternalSigners {
		if s.RDNS == "" {
			return nil, fmt.Errorf("external_signers[%d]: rdns is required", i)
		}
		if (s.RPCURL == "") == (s.Keystore == "") {
			return nil, fmt.Errorf("external signer %s: set exactly one of rpc_url and keystore", s.RDNS)
		}
	}
	return &cfg, nil
}

// NetworkSet merges configured networks over the built-in ones
func (c *Config) NetworkSet() network.Set {
	return network.Merge(network.DefaultNetworks(), c.Networks)
}

// Sponsors resolves the sponsored fee contract of every network. A network
// without its own contract uses the top-level sponsored_fpc.
func (c *Config) Sponsors() (pxe.Address, map[string]pxe.Address, error) {
	fallback, err := (&network.Config{SponsoredFPC: c.SponsoredFPC}).SponsoredFPCAddress()
	if err != nil {
		return pxe.Address{}, nil, fmt.Errorf("sponsored_fpc: %w", err)
	}

	sponsors := make(map[string]pxe.Address)
	for key, n := range c.NetworkSet() {
		if n.SponsoredFPC == "" {
			continue
		}
		addr, err := n.SponsoredFPCAddress()
		if err != nil {
			return pxe.Address{}, nil, fmt.Errorf("networks.%s.sponsored_fpc: %w", key, err)
		}
		sponsors[key] = addr
	}
	return fallback, sponsors, nil
}
