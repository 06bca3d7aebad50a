package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	credentialsFileName = "accounts.json"
	filePerms           = 0600 // Owner read/write only
)

// credentialsData is the structure of accounts.json
type credentialsData struct {
	Version  int                   `json:"version"`
	Accounts map[string]Credential `json:"accounts"` // by network
}

// CredentialStore persists embedded account metadata, one account per network
type CredentialStore struct {
	mu       sync.RWMutex
	filePath string
	data     *credentialsData
}

// NewCredentialStore opens accounts.json in dataDir
func NewCredentialStore(dataDir string) (*CredentialStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &CredentialStore{
		filePath: filepath.Join(dataDir, credentialsFileName),
		data: &credentialsData{
			Version:  1,
			Accounts: make(map[string]Credential),
		},
	}
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	return store, nil
}

func (s *CredentialStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var data credentialsData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse accounts file: %w", err)
	}
	if data.Accounts == nil {
		data.Accounts = make(map[string]Credential)
	}
	s.data = &data
	return nil
}

// save writes accounts.json via a temp file and rename
func (s *CredentialStore) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, filePerms); err != nil {
		return fmt.Errorf("failed to write accounts file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save accounts file: %w", err)
	}
	return nil
}

// Get returns the credential for network
func (s *CredentialStore) Get(network string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.data.Accounts[network]
	return cred, ok
}

// Put stores cred under its network, replacing any previous entry
func (s *CredentialStore) Put(cred Credential) error {
	if cred.Network == "" {
		return fmt.Errorf("credential has no network")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Accounts[cred.Network] = cred
	return s.save()
}

// Remove deletes the credential for network
func (s *CredentialStore) Remove(network string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[network]; !ok {
		return ErrAccountNotFound
	}
	delete(s.data.Accounts, network)
	return s.save()
}

// List returns all credentials ordered by network name
func (s *CredentialStore) List() []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds := make([]Credential, 0, len(s.data.Accounts))
	for _, c := range s.data.Accounts {
		creds = append(creds, c)
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].Network < creds[j].Network })
	return creds
}
