// Package connector puts the three ways of holding an account (embedded keys,
// an external EVM signer, an extension-managed wallet) behind one interface.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yolodolo42/walletbridge/internal/extension"
	"github.com/yolodolo42/walletbridge/internal/pxe"
)

// Type is the closed set of connector variants
type Type string

const (
	TypeEmbedded       Type = "embedded"
	TypeExternalSigner Type = "external_signer"
	TypeBrowserManaged Type = "browser_managed"
)

// State is a connector's connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateDeploying    State = "deploying" // first deployment of an embedded account
	StateConnected    State = "connected"
)

var (
	ErrNotConnected     = errors.New("connector not connected")
	ErrPXENotReady      = pxe.ErrNotReady
	ErrProviderNotFound = errors.New("wallet provider not found")
	ErrNoCredentials    = errors.New("no stored credentials")
)

// Status is what a connector reports to the UI
type Status struct {
	IsInstalled bool   `json:"is_installed"`
	State       State  `json:"status"`
	Error       string `json:"error,omitempty"`
}

// Info identifies a connector. IDs are unique within a registry.
type Info struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  Type   `json:"type"`
}

// Target is the network a connector works against
type Target struct {
	Network   string
	NodeURL   string
	L1ChainID int64
}

// Connector is the capability shared by every variant
type Connector interface {
	Info() Info
	Status() Status

	// Account returns the connected account, or nil
	Account() *pxe.Account

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// AppManaged connectors run their account in an execution service owned by
// this application.
type AppManaged interface {
	Connector

	// PXE returns the already running execution service. It never starts one.
	PXE() (pxe.Service, error)
	AccountWallet() (*pxe.AccountWallet, error)
	SponsoredFeePaymentMethod(ctx context.Context) (pxe.FeePaymentMethod, error)
}

// ExtensionManaged connectors delegate everything to a wallet extension
type ExtensionManaged interface {
	Connector

	CaipAccount() string
	SendTransaction(ctx context.Context, req extension.TxRequest) (*extension.TxResult, error)
	ExecuteOperation(ctx context.Context, op extension.Operation) (*extension.Result, error)
}

// IsAppManaged reports whether c has the AppManaged capability
func IsAppManaged(c Connector) bool {
	switch t := c.Info().Type; t {
	case TypeEmbedded, TypeExternalSigner:
		return true
	case TypeBrowserManaged:
		return false
	default:
		panic(fmt.Sprintf("unknown connector type %q", t))
	}
}

// IsExtensionManaged reports whether c has the ExtensionManaged capability
func IsExtensionManaged(c Connector) bool {
	switch t := c.Info().Type; t {
	case TypeBrowserManaged:
		return true
	case TypeEmbedded, TypeExternalSigner:
		return false
	default:
		panic(fmt.Sprintf("unknown connector type %q", t))
	}
}

// MustAppManaged narrows c. Calling it on another variant is a programming error.
func MustAppManaged(c Connector) AppManaged {
	am, ok := c.(AppManaged)
	if !IsAppManaged(c) || !ok {
		panic(fmt.Sprintf("connector %s (%s) is not app-managed", c.Info().ID, c.Info().Type))
	}
	return am
}

// MustExtensionManaged narrows c. Calling it on another variant is a programming error.
func MustExtensionManaged(c Connector) ExtensionManaged {
	em, ok := c.(ExtensionManaged)
	if !IsExtensionManaged(c) || !ok {
		panic(fmt.Sprintf("connector %s (%s) is not extension-managed", c.Info().ID, c.Info().Type))
	}
	return em
}

// statusTracker holds state and last error for a connector
type statusTracker struct {
	mu      sync.RWMutex
	state   State
	lastErr string
}

func (s *statusTracker) set(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

func (s *statusTracker) get() (State, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == "" {
		return StateDisconnected, s.lastErr
	}
	return s.state, s.lastErr
}
