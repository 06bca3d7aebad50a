package pxe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Instance is the shared execution service for one (node URL, network) pair
type Instance struct {
	NodeURL       string
	Network       string
	Service       Service
	NodeInfo      *NodeInfo
	Wallet        *AccountWallet
	SponsoredFees *SponsoredFeeCache
}

// CacheConfig tunes instance construction
type CacheConfig struct {
	// SponsoredFPC is the sponsored fee payment contract. Zero disables sponsorship.
	SponsoredFPC Address
	// Sponsors overrides SponsoredFPC per network name
	Sponsors      map[string]Address
	ReadyAttempts int
	ReadyInterval time.Duration
}

type instanceKey struct {
	nodeURL string
	network string
}

func (k instanceKey) String() string {
	return k.network + "@" + k.nodeURL
}

// InstanceCache holds at most one Instance per (node URL, network).
// Construction is single-flight: concurrent callers for the same key wait
// for the one in-flight construction and receive the same Instance.
type InstanceCache struct {
	factory Factory
	cfg     CacheConfig
	logger  *zap.Logger

	group     singleflight.Group
	mu        sync.RWMutex
	instances map[instanceKey]*Instance
}

func NewInstanceCache(factory Factory, cfg CacheConfig, logger *zap.Logger) *InstanceCache {
	if cfg.ReadyAttempts < 1 {
		cfg.ReadyAttempts = 30
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstanceCache{
		factory:   factory,
		cfg:       cfg,
		logger:    logger,
		instances: make(map[instanceKey]*Instance),
	}
}

// GetExistingInstance returns the cached instance or nil. It never constructs.
func (c *InstanceCache) GetExistingInstance(nodeURL, network string) *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instances[instanceKey{nodeURL: nodeURL, network: network}]
}

// GetOrCreateInstance returns the cached instance, constructing it if needed.
// The context of the caller that starts construction governs it.
func (c *InstanceCache) GetOrCreateInstance(ctx context.Context, nodeURL, network string) (*Instance, error) {
	key := instanceKey{nodeURL: nodeURL, network: network}
	if inst := c.GetExistingInstance(nodeURL, network); inst != nil {
		return inst, nil
	}

	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		// A construction that finished between the fast-path check and
		// joining the group has already stored its result.
		if inst := c.GetExistingInstance(nodeURL, network); inst != nil {
			return inst, nil
		}
		return c.build(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Sugar().Debugw("Joined in-flight execution service construction", "network", network, "node_url", nodeURL)
	}
	return v.(*Instance), nil
}

func (c *InstanceCache) build(ctx context.Context, key instanceKey) (*Instance, error) {
	c.logger.Sugar().Infow("Creating execution service", "network", key.network, "node_url", key.nodeURL)

	svc, err := c.factory(ctx, key.nodeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution service for %s: %w", key, err)
	}

	info, err := WaitForReady(ctx, svc, c.cfg.ReadyAttempts, c.cfg.ReadyInterval)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("execution service for %s: %w", key, err)
	}

	sponsor := c.cfg.SponsoredFPC
	if s, ok := c.cfg.Sponsors[key.network]; ok {
		sponsor = s
	}

	inst := &Instance{
		NodeURL:       key.nodeURL,
		Network:       key.network,
		Service:       svc,
		NodeInfo:      info,
		Wallet:        NewAccountWallet(svc),
		SponsoredFees: NewSponsoredFeeCache(svc, sponsor),
	}

	c.mu.Lock()
	c.instances[key] = inst
	c.mu.Unlock()

	c.logger.Sugar().Infow("Execution service ready",
		"network", key.network,
		"node_version", info.NodeVersion,
		"l1_chain_id", info.L1ChainID,
	)
	return inst, nil
}

// Close releases every cached service. The cache must not be used afterwards.
func (c *InstanceCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, inst := range c.instances {
		inst.Service.Close()
		delete(c.instances, key)
	}
}
