package network

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yolodolo42/walletbridge/internal/pxe"
)

// DefaultNetwork is used when no network is configured
const DefaultNetwork = "sandbox"

var ErrUnknownNetwork = errors.New("unknown network")

// Config describes one network the bridge can connect to.
// L1ChainID is the chain id external EVM signers are expected to report.
type Config struct {
	Name         string `mapstructure:"name"`
	NodeURL      string `mapstructure:"node_url"`
	L1ChainID    int64  `mapstructure:"l1_chain_id"`
	SponsoredFPC string `mapstructure:"sponsored_fpc"`
	IsTestnet    bool   `mapstructure:"is_testnet"`
}

// SponsoredFPCAddress parses SponsoredFPC. An empty value gives the zero address.
func (c *Config) SponsoredFPCAddress() (pxe.Address, error) {
	if c.SponsoredFPC == "" {
		return pxe.Address{}, nil
	}
	return pxe.AddressFromHex(c.SponsoredFPC)
}

// DefaultNetworks returns the built-in network configurations
func DefaultNetworks() map[string]*Config {
	return map[string]*Config{
		"sandbox": {
			Name:      "Local Sandbox",
			NodeURL:   "http://localhost:8080",
			L1ChainID: 31337,
			IsTestnet: true,
		},
	}
}

// Set is a lookup table of networks by key
type Set map[string]*Config

// Merge overlays configured networks on the defaults. Empty fields in an
// override keep the default's value.
func Merge(defaults, overrides map[string]*Config) Set {
	out := make(Set, len(defaults)+len(overrides))
	for k, v := range defaults {
		c := *v
		out[k] = &c
	}
	for k, o := range overrides {
		if o == nil {
			continue
		}
		base, ok := out[k]
		if !ok {
			c := *o
			if c.Name == "" {
				c.Name = k
			}
			out[k] = &c
			continue
		}
		if o.Name != "" {
			base.Name = o.Name
		}
		if o.NodeURL != "" {
			base.NodeURL = o.NodeURL
		}
		if o.L1ChainID != 0 {
			base.L1ChainID = o.L1ChainID
		}
		if o.SponsoredFPC != "" {
			base.SponsoredFPC = o.SponsoredFPC
		}
		base.IsTestnet = base.IsTestnet || o.IsTestnet
	}
	return out
}

// Get returns the network stored under key
func (s Set) Get(key string) (*Config, error) {
	c, ok := s[strings.ToLower(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s (known: %s)", ErrUnknownNetwork, key, strings.Join(s.Keys(), ", "))
	}
	if c.NodeURL == "" {
		return nil, fmt.Errorf("network %s has no node_url", key)
	}
	return c, nil
}

// Keys returns the network keys sorted
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
