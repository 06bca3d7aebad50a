package pxe

import (
	"context"
	"fmt"
	"sync"
)

// SponsoredFeeCache resolves the sponsored fee payment contract once per
// service and remembers the resulting payment method.
type SponsoredFeeCache struct {
	mu       sync.Mutex
	svc      Service
	contract Address
	method   *FeePaymentMethod
}

func NewSponsoredFeeCache(svc Service, contract Address) *SponsoredFeeCache {
	return &SponsoredFeeCache{svc: svc, contract: contract}
}

// Method returns the sponsored payment method, registering the sponsor
// contract with the service on first use.
func (c *SponsoredFeeCache) Method(ctx context.Context) (FeePaymentMethod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.method != nil {
		return *c.method, nil
	}
	if c.contract.IsZero() {
		return FeePaymentMethod{}, fmt.Errorf("%w: no sponsor contract configured", ErrNoSponsor)
	}

	instance, err := c.svc.GetContractInstance(ctx, c.contract)
	if err != nil {
		return FeePaymentMethod{}, fmt.Errorf("failed to look up sponsor contract: %w", err)
	}
	if instance == nil {
		return FeePaymentMethod{}, fmt.Errorf("%w: sponsor %s not deployed", ErrNoSponsor, c.contract)
	}
	if err := c.svc.RegisterContract(ctx, instance); err != nil {
		return FeePaymentMethod{}, fmt.Errorf("failed to register sponsor contract: %w", err)
	}

	c.method = &FeePaymentMethod{Kind: FeeKindSponsored, Contract: c.contract}
	return *c.method, nil
}
