// Package session remembers which connector was last used and reconnects it
// once when the application starts.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yolodolo42/walletbridge/internal/connector"
)

const (
	connectionFileName = "connection.json"
	filePerms          = 0600
)

// PersistedConnection is the last successful connection on a network
type PersistedConnection struct {
	ConnectorID string         `json:"connector_id"`
	WalletType  connector.Type `json:"wallet_type"`
}

type connectionData struct {
	Version     int                             `json:"version"`
	Connections map[string]*PersistedConnection `json:"connections"` // by network
}

// Store keeps connection.json, one record per network
type Store struct {
	mu       sync.Mutex
	filePath string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{filePath: filepath.Join(dataDir, connectionFileName)}, nil
}

// Load returns the record for network, or nil if there is none
func (s *Store) Load(network string) (*PersistedConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Connections[network], nil
}

// Save replaces the record for network
func (s *Store) Save(network string, conn PersistedConnection) error {
	if conn.ConnectorID == "" {
		return fmt.Errorf("connection has no connector id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	data.Connections[network] = &conn
	return s.write(data)
}

// Clear removes the record for network
func (s *Store) Clear(network string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := data.Connections[network]; !ok {
		return nil
	}
	delete(data.Connections, network)
	return s.write(data)
}

func (s *Store) read() (*connectionData, error) {
	data := &connectionData{Version: 1, Connections: make(map[string]*PersistedConnection)}

	raw, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read connection file: %w", err)
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("failed to parse connection file: %w", err)
	}
	if data.Connections == nil {
		data.Connections = make(map[string]*PersistedConnection)
	}
	return data, nil
}

// write replaces the file via a temp file and rename
func (s *Store) write(data *connectionData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, filePerms); err != nil {
		return fmt.Errorf("failed to write connection file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save connection file: %w", err)
	}
	return nil
}
