package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/voxpay/service/metrics"
	"github.com/brojonat/voxpay/service/pipeline"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for payment history and the address
// book.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no query metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Payment is a persisted payment outcome.
type Payment struct {
	ID            string                `json:"id"`
	Signer        string                `json:"signer"`
	Recipient     string                `json:"recipient"`
	Amount        float64               `json:"amount"`
	Planck        *string               `json:"planck,omitempty"`
	State         string                `json:"state"`
	Status        string                `json:"status"`
	ErrorKind     *string               `json:"error_kind,omitempty"`
	Error         *string               `json:"error,omitempty"`
	Endpoint      *string               `json:"endpoint,omitempty"`
	Call          *string               `json:"call,omitempty"`
	BlockHash     *string               `json:"block_hash,omitempty"`
	ExtrinsicHash *string               `json:"extrinsic_hash,omitempty"`
	Transitions   []pipeline.Transition `json:"transitions"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	CreatedAt     time.Time             `json:"created_at"`
}

// ListPaymentsParams contains filter and pagination parameters.
type ListPaymentsParams struct {
	Signer string // empty lists every signer
	State  string // empty lists every state
	Limit  int32
	Offset int32
}

// Contact is an address book entry.
type Contact struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const paymentColumns = `id::text, signer, recipient, amount, planck, state, status, error_kind, error,
	endpoint, call, block_hash, extrinsic_hash, transitions, started_at, finished_at, created_at`

// RecordPayment stores a terminal pipeline outcome. Recording the same
// outcome twice is a no-op.
func (s *Store) RecordPayment(ctx context.Context, o *pipeline.Outcome) error {
	if o == nil {
		return fmt.Errorf("nil outcome")
	}
	transitions, err := json.Marshal(o.Transitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}

	var blockHash, extrinsicHash *string
	if o.Receipt != nil {
		blockHash = nonEmpty(o.Receipt.BlockHash)
		extrinsicHash = nonEmpty(o.Receipt.ExtrinsicHash)
	}

	start := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO payments (id, signer, recipient, amount, planck, state, status, error_kind, error,
			endpoint, call, block_hash, extrinsic_hash, transitions, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`,
		o.ID,
		o.Signer,
		o.Request.Recipient,
		o.Request.Amount,
		pgtextFromStringPtr(nonEmpty(o.Planck)),
		string(o.State),
		o.Status,
		pgtextFromStringPtr(nonEmpty(o.ErrorKind)),
		pgtextFromStringPtr(nonEmpty(o.Error)),
		pgtextFromStringPtr(nonEmpty(o.Endpoint)),
		pgtextFromStringPtr(nonEmpty(o.Call)),
		pgtextFromStringPtr(blockHash),
		pgtextFromStringPtr(extrinsicHash),
		transitions,
		pgtype.Timestamptz{Time: o.StartedAt, Valid: true},
		pgtype.Timestamptz{Time: o.FinishedAt, Valid: true},
	)
	s.record("insert", "payments", start, err)
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", o.ID, err)
	}
	return nil
}

// GetPayment retrieves a payment by ID.
func (s *Store) GetPayment(ctx context.Context, id string) (*Payment, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	s.record("select", "payments", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPayments returns payments ordered by most recent first.
func (s *Store) ListPayments(ctx context.Context, params ListPaymentsParams) ([]*Payment, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE ($1 = '' OR signer = $1)
		  AND ($2 = '' OR state = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`,
		params.Signer, params.State, params.Limit, params.Offset,
	)
	if err != nil {
		s.record("select", "payments", start, err)
		return nil, err
	}
	defer rows.Close()

	payments := make([]*Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			s.record("select", "payments", start, err)
			return nil, err
		}
		payments = append(payments, p)
	}
	err = rows.Err()
	s.record("select", "payments", start, err)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// UpsertContact creates or updates an address book entry. Names are
// stored lower-case.
func (s *Store) UpsertContact(ctx context.Context, name, address string) (*Contact, error) {
	name = normalizeName(name)
	if name == "" || address == "" {
		return nil, fmt.Errorf("contact name and address are required")
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (name, address)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET address = EXCLUDED.address, updated_at = NOW()
		RETURNING name, address, created_at, updated_at`,
		name, address,
	)
	c, err := scanContact(row)
	s.record("upsert", "contacts", start, err)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetContact retrieves a contact by name.
func (s *Store) GetContact(ctx context.Context, name string) (*Contact, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx,
		`SELECT name, address, created_at, updated_at FROM contacts WHERE name = $1`,
		normalizeName(name),
	)
	c, err := scanContact(row)
	s.record("select", "contacts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contact %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListContacts returns the address book ordered by name.
func (s *Store) ListContacts(ctx context.Context) ([]*Contact, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT name, address, created_at, updated_at FROM contacts ORDER BY name`)
	if err != nil {
		s.record("select", "contacts", start, err)
		return nil, err
	}
	defer rows.Close()

	contacts := make([]*Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	err = rows.Err()
	s.record("select", "contacts", start, err)
	return contacts, err
}

// DeleteContact removes a contact. Deleting a missing contact returns
// ErrNotFound.
func (s *Store) DeleteContact(ctx context.Context, name string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE name = $1`, normalizeName(name))
	s.record("delete", "contacts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact %q: %w", name, ErrNotFound)
	}
	return nil
}

// ResolveContact looks up name in the address book. It has the shape of
// intent.ResolverFunc.
func (s *Store) ResolveContact(ctx context.Context, name string) (string, bool, error) {
	c, err := s.GetContact(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c.Address, true, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Helper functions to convert between pgx types and domain types

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p                                   Payment
		planck, errorKind, errMsg, endpoint pgtype.Text
		call, blockHash, extrinsicHash      pgtype.Text
		transitions                         []byte
		startedAt, finishedAt, createdAt    pgtype.Timestamptz
	)
	err := row.Scan(&p.ID, &p.Signer, &p.Recipient, &p.Amount, &planck, &p.State, &p.Status,
		&errorKind, &errMsg, &endpoint, &call, &blockHash, &extrinsicHash,
		&transitions, &startedAt, &finishedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	p.Planck = stringPtrFromPgtext(planck)
	p.ErrorKind = stringPtrFromPgtext(errorKind)
	p.Error = stringPtrFromPgtext(errMsg)
	p.Endpoint = stringPtrFromPgtext(endpoint)
	p.Call = stringPtrFromPgtext(call)
	p.BlockHash = stringPtrFromPgtext(blockHash)
	p.ExtrinsicHash = stringPtrFromPgtext(extrinsicHash)
	p.StartedAt = startedAt.Time
	p.FinishedAt = finishedAt.Time
	p.CreatedAt = createdAt.Time

	p.Transitions = []pipeline.Transition{}
	if len(transitions) > 0 {
		if err := json.Unmarshal(transitions, &p.Transitions); err != nil {
			return nil, fmt.Errorf("decode transitions of %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func scanContact(row pgx.Row) (*Contact, error) {
	var (
		c                    Contact
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&c.Name, &c.Address, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return &c, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
