/*
Package sqlite provides the SQLite-backed client roster store.

PURPOSE:
  Persists clients, their service records, and the append-only payment
  log. The billing engine itself never touches storage; this package
  supplies the snapshots the engine assesses and persists the coverage
  fields a payment application produces.

KEY TABLES:
  clients:   Subscriber records
  services:  Service records with coverage fields (period tokens)
  payments:  Append-only payment log with idempotency keys

APPEND-ONLY PAYMENTS:
  The payments table has no UPDATE or DELETE path. A mistaken payment is
  corrected by recording a compensating entry, so the cash history always
  explains how coverage got to its current state.

PERIOD ENCODING:
  Period keys are stored as their canonical "YYYY-MM" token, with the
  empty string for absent. Parsing back through period.Parse restores the
  absent/invalid collapse the engine relies on.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  defer store.Close()

SEE ALSO:
  - billing/payment.go: computes the coverage fields persisted here
  - api/handlers.go: the consumer of this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/skylink/billing-engine/billing"
	"github.com/skylink/billing-engine/period"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrServiceNotFound is returned when a referenced service doesn't exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrDuplicatePayment is returned when a payment with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicatePayment = errors.New("duplicate payment idempotency key")
)

// =============================================================================
// STORE
// =============================================================================

// Store implements roster persistence using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		monthly_fee TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		service_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		coverage_end TEXT NOT NULL DEFAULT '',
		partial_period TEXT NOT NULL DEFAULT '',
		partial_amount TEXT NOT NULL DEFAULT '0',
		effective_price TEXT,
		price TEXT,
		custom_price TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_services_client
		ON services(client_id);

	-- Payments (append-only log)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		service_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		months_advanced INTEGER NOT NULL DEFAULT 0,
		coverage_end_after TEXT NOT NULL DEFAULT '',
		reference_period TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_client
		ON payments(client_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLIENTS
// =============================================================================

// CreateClient persists a client and its service records.
func (s *Store) CreateClient(ctx context.Context, c *billing.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO clients (id, name, monthly_fee, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, nullDecimal(c.MonthlyFee), now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}

	for i := range c.Services {
		if err := insertService(ctx, tx, c.ID, &c.Services[i], now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertService(ctx context.Context, tx *sql.Tx, clientID string, svc *billing.ServiceRecord, now string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO services
		 (id, client_id, service_type, status, coverage_end, partial_period, partial_amount,
		  effective_price, price, custom_price, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, clientID, string(svc.Type), string(svc.Status),
		svc.CoverageEnd.String(), svc.PartialCoveragePeriod.String(),
		svc.PartialCoverageAmount.String(),
		nullDecimal(svc.EffectivePrice), nullDecimal(svc.Price), nullDecimal(svc.CustomPrice),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	return nil
}

// GetClient loads a client and its services.
func (s *Store) GetClient(ctx context.Context, id string) (*billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, monthly_fee FROM clients WHERE id = ?`, id)

	var c billing.Client
	var fee sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &fee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	c.MonthlyFee = scanDecimal(fee)

	services, err := s.loadServices(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Services = services
	return &c, nil
}

// ListClients loads all clients with their services, ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, monthly_fee FROM clients ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []billing.Client
	for rows.Next() {
		var c billing.Client
		var fee sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &fee); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		c.MonthlyFee = scanDecimal(fee)
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range clients {
		services, err := s.loadServices(ctx, clients[i].ID)
		if err != nil {
			return nil, err
		}
		clients[i].Services = services
	}
	return clients, nil
}

func (s *Store) loadServices(ctx context.Context, clientID string) ([]billing.ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service_type, status, coverage_end, partial_period, partial_amount,
		        effective_price, price, custom_price
		 FROM services WHERE client_id = ? ORDER BY created_at, id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}
	defer rows.Close()

	var services []billing.ServiceRecord
	for rows.Next() {
		var svc billing.ServiceRecord
		var svcType, status, coverageEnd, partialPeriod, partialAmount string
		var effective, price, custom sql.NullString

		if err := rows.Scan(&svc.ID, &svcType, &status, &coverageEnd, &partialPeriod,
			&partialAmount, &effective, &price, &custom); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}

		svc.Type = billing.ServiceType(svcType)
		svc.Status = billing.ServiceStatus(status)
		svc.CoverageEnd, _ = period.Parse(coverageEnd)
		svc.PartialCoveragePeriod, _ = period.Parse(partialPeriod)
		svc.PartialCoverageAmount = parseDecimalOrZero(partialAmount)
		svc.EffectivePrice = scanDecimal(effective)
		svc.Price = scanDecimal(price)
		svc.CustomPrice = scanDecimal(custom)
		services = append(services, svc)
	}
	return services, rows.Err()
}

// UpdateServiceCoverage persists the coverage fields computed by a
// payment application onto a service record.
func (s *Store) UpdateServiceCoverage(ctx context.Context, serviceID string, coverageEnd, partialPeriod period.Key, partialAmount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE services
		 SET coverage_end = ?, partial_period = ?, partial_amount = ?, updated_at = ?
		 WHERE id = ?`,
		coverageEnd.String(), partialPeriod.String(), partialAmount.String(),
		time.Now().UTC().Format(time.RFC3339), serviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to update coverage: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

// PaymentRecord is one entry in the append-only payment log.
type PaymentRecord struct {
	ID               string
	ClientID         string
	ServiceID        string
	Amount           decimal.Decimal
	MonthsAdvanced   int
	CoverageEndAfter period.Key
	ReferencePeriod  period.Key
	IdempotencyKey   string
	CreatedAt        time.Time
}

// RecordPayment appends a payment. Fails with ErrDuplicatePayment if the
// idempotency key already exists. This is the only write operation on
// the payment log.
func (s *Store) RecordPayment(ctx context.Context, p PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments
		 (id, client_id, service_id, amount, months_advanced, coverage_end_after,
		  reference_period, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ClientID, p.ServiceID, p.Amount.String(), p.MonthsAdvanced,
		p.CoverageEndAfter.String(), p.ReferencePeriod.String(),
		nullString(p.IdempotencyKey),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

// ListPayments returns a client's payment history, newest first.
func (s *Store) ListPayments(ctx context.Context, clientID string) ([]PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, service_id, amount, months_advanced, coverage_end_after,
		        reference_period, idempotency_key, created_at
		 FROM payments WHERE client_id = ? ORDER BY created_at DESC, id DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []PaymentRecord
	for rows.Next() {
		var p PaymentRecord
		var amount, coverageEnd, refPeriod, createdAt string
		var key sql.NullString

		if err := rows.Scan(&p.ID, &p.ClientID, &p.ServiceID, &amount, &p.MonthsAdvanced,
			&coverageEnd, &refPeriod, &key, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}

		p.Amount = parseDecimalOrZero(amount)
		p.CoverageEndAfter, _ = period.Parse(coverageEnd)
		p.ReferencePeriod, _ = period.Parse(refPeriod)
		p.IdempotencyKey = key.String
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
