package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yolodolo42/walletbridge/internal/pxe"
)

var (
	ErrNotInstalled = errors.New("wallet extension not installed")
	ErrInvalidCaip  = errors.New("invalid CAIP-10 account id")
)

// Adapter is the session with an extension that manages accounts itself
type Adapter interface {
	// Init detects the extension. It returns ErrNotInstalled when none answers.
	Init(ctx context.Context) error

	// Connect asks the wallet for a session and returns its CAIP-10 accounts
	Connect(ctx context.Context) ([]string, error)

	// Disconnect ends the wallet session
	Disconnect(ctx context.Context) error

	// Accounts returns the session's accounts without prompting
	Accounts(ctx context.Context) ([]string, error)

	ExecuteOperation(ctx context.Context, op Operation) (*Result, error)

	// OnAccountsChanged registers fn for account changes. The returned func removes it.
	OnAccountsChanged(fn func(accounts []string)) (remove func())
}

// CaipAccount is a parsed CAIP-10 account id: namespace:reference:address
type CaipAccount struct {
	Namespace string
	Reference string
	Address   pxe.Address
}

func (c CaipAccount) String() string {
	return c.Namespace + ":" + c.Reference + ":" + c.Address.Hex()
}

// ParseCaipAccount parses a CAIP-10 account id
func ParseCaipAccount(s string) (CaipAccount, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return CaipAccount{}, fmt.Errorf("%w: %q", ErrInvalidCaip, s)
	}
	addr, err := pxe.AddressFromHex(parts[2])
	if err != nil {
		return CaipAccount{}, fmt.Errorf("%w: %v", ErrInvalidCaip, err)
	}
	return CaipAccount{Namespace: parts[0], Reference: parts[1], Address: addr}, nil
}
