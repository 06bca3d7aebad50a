package receipts

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/walletbridge/internal/pxe"

	_ "modernc.org/sqlite"
)

// Kind tells why a transaction was sent
type Kind string

const (
	KindDeployment  Kind = "deployment"
	KindTransaction Kind = "transaction"
)

var ErrNotFound = errors.New("receipt not found")

// Store persists receipts per network, keyed by tx hash
type Store struct {
	db *sql.DB
}

// Record is one stored receipt
type Record struct {
	Network     string
	TxHash      common.Hash
	ConnectorID string
	Account     string
	Kind        Kind
	Status      pxe.TxStatus
	BlockNumber uint64
	Error       string
	CreatedAt   time.Time
}

// Open opens (or creates) the ledger at dataDir/receipts.db
func Open(dataDir string) (*Store, error) {
	return OpenDSN(filepath.Join(dataDir, "receipts.db"))
}

// OpenDSN opens a ledger using a sqlite DSN or path. Tests may pass ":memory:".
func OpenDSN(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open receipts db: %w", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS receipts (
	network TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	connector_id TEXT NOT NULL DEFAULT '',
	account TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	block_number INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (network, tx_hash)
);
`)
	if err != nil {
		return fmt.Errorf("create receipts table: %w", err)
	}
	return nil
}

// Close closes the underlying DB
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts r or updates the status of an existing record. The original
// creation time is kept.
func (s *Store) Upsert(r Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("receipt store not initialized")
	}
	if r.Network == "" {
		return fmt.Errorf("network is required")
	}
	if r.TxHash == (common.Hash{}) {
		return fmt.Errorf("tx hash is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
INSERT INTO receipts (network, tx_hash, connector_id, account, kind, status, block_number, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(network, tx_hash) DO UPDATE SET
	status=excluded.status,
	block_number=excluded.block_number,
	error=excluded.error
`, r.Network, r.TxHash.Hex(), r.ConnectorID, r.Account, string(r.Kind), string(r.Status), r.BlockNumber, r.Error, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("persist receipt: %w", err)
	}
	return nil
}

// RecordReceipt stores the outcome of a wait
func (s *Store) RecordReceipt(network, connectorID, account string, kind Kind, receipt *pxe.TxReceipt) error {
	if receipt == nil {
		return fmt.Errorf("receipt is required")
	}
	return s.Upsert(Record{
		Network:     network,
		TxHash:      receipt.TxHash,
		ConnectorID: connectorID,
		Account:     account,
		Kind:        kind,
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber,
		Error:       receipt.Error,
	})
}

// Get returns one record
func (s *Store) Get(network string, txHash common.Hash) (*Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("receipt store not initialized")
	}

	row := s.db.QueryRow(`
SELECT network, tx_hash, connector_id, account, kind, status, block_number, error, created_at
FROM receipts WHERE network = ? AND tx_hash = ?`, network, txHash.Hex())
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// List returns the newest records for network, at most limit
func (s *Store) List(network string, limit int) ([]*Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("receipt store not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
SELECT network, tx_hash, connector_id, account, kind, status, block_number, error, created_at
FROM receipts WHERE network = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, network, limit)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Record, error) {
	var (
		r       Record
		txHash  string
		kind    string
		status  string
		created int64
	)
	if err := row.Scan(&r.Network, &txHash, &r.ConnectorID, &r.Account, &kind, &status, &r.BlockNumber, &r.Error, &created); err != nil {
		return nil, err
	}
	r.TxHash = common.HexToHash(txHash)
	r.Kind = Kind(kind)
	r.Status = pxe.TxStatus(status)
	r.CreatedAt = time.Unix(created, 0)
	return &r, nil
}
