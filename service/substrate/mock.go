package substrate

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// MockConnection is an in-memory Connection for testing. Zero values give
// a node with Balances.transfer available and no accounts.
type MockConnection struct {
	mu sync.Mutex

	EndpointURI string
	Snapshot    *MetadataSnapshot
	Inclusion   *Inclusion

	MetadataErr       error
	AccountErr        error
	SigningContextErr error
	SignErr           error
	SubmitErr         error

	// BlockSubmit makes submissions wait until ctx is done.
	BlockSubmit bool

	accounts      map[string]*AccountInfo
	metadataCalls int
	accountCalls  int
	signCalls     int
	submitCalls   int
	closed        bool
}

// NewMockConnection creates a mock attached to endpoint.
func NewMockConnection(endpoint string) *MockConnection {
	return &MockConnection{
		EndpointURI: endpoint,
		Snapshot: NewMetadataSnapshot(9430, map[string][]string{
			"Balances": {"transfer", "transfer_keep_alive", "transfer_all"},
			"System":   {"remark"},
		}),
		accounts: make(map[string]*AccountInfo),
	}
}

// SetBalance stores a free balance (in Planck) for address.
func (m *MockConnection) SetBalance(address string, free *big.Int) error {
	pub, err := PublicKeyFromAddress(address)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[hex.EncodeToString(pub)] = &AccountInfo{Free: new(big.Int).Set(free)}
	return nil
}

func (m *MockConnection) Endpoint() string {
	return m.EndpointURI
}

func (m *MockConnection) Metadata(ctx context.Context) (*MetadataSnapshot, error) {
	m.mu.Lock()
	m.metadataCalls++
	m.mu.Unlock()

	if m.MetadataErr != nil {
		return nil, m.MetadataErr
	}
	return m.Snapshot, nil
}

func (m *MockConnection) Account(ctx context.Context, publicKey []byte) (*AccountInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountCalls++

	if m.AccountErr != nil {
		return nil, false, m.AccountErr
	}
	info, ok := m.accounts[hex.EncodeToString(publicKey)]
	if !ok {
		return nil, false, nil
	}
	return &AccountInfo{Nonce: info.Nonce, Free: new(big.Int).Set(info.Free)}, true, nil
}

func (m *MockConnection) SigningContext(ctx context.Context, publicKey []byte) (*SigningContext, error) {
	if m.SigningContextErr != nil {
		return nil, m.SigningContextErr
	}
	m.mu.Lock()
	var nonce uint64
	if info, ok := m.accounts[hex.EncodeToString(publicKey)]; ok {
		nonce = info.Nonce
	}
	m.mu.Unlock()

	return &SigningContext{
		Nonce:              nonce,
		GenesisHash:        "0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3",
		BlockHash:          "0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3",
		SpecVersion:        m.Snapshot.SpecVersion,
		TransactionVersion: 26,
		Immortal:           true,
	}, nil
}

func (m *MockConnection) SignExtrinsic(call *CallDescriptor, sc *SigningContext, identity *Identity) (*SignedExtrinsic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signCalls++

	if m.SignErr != nil {
		return nil, m.SignErr
	}
	hash := fmt.Sprintf("0x%064x", m.signCalls)
	return NewSignedExtrinsic(*call, identity.Address(), sc.Nonce, "immortal", hash, "0x00", nil), nil
}

func (m *MockConnection) Submit(ctx context.Context, ext *SignedExtrinsic) (string, error) {
	if err := m.submit(ctx); err != nil {
		return "", err
	}
	return ext.Hash, nil
}

func (m *MockConnection) SubmitAndWatch(ctx context.Context, ext *SignedExtrinsic) (*Inclusion, error) {
	if err := m.submit(ctx); err != nil {
		return nil, err
	}
	if m.Inclusion != nil {
		return m.Inclusion, nil
	}
	return &Inclusion{BlockHash: "0x" + hex.EncodeToString(big.NewInt(int64(m.SubmitCalls())).FillBytes(make([]byte, 32)))}, nil
}

func (m *MockConnection) submit(ctx context.Context) error {
	m.mu.Lock()
	m.submitCalls++
	m.mu.Unlock()

	if m.BlockSubmit {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.SubmitErr
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MetadataCalls returns how many metadata lookups were made.
func (m *MockConnection) MetadataCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadataCalls
}

// AccountCalls returns how many balance lookups were made.
func (m *MockConnection) AccountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountCalls
}

// SignCalls returns how many extrinsics were signed.
func (m *MockConnection) SignCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signCalls
}

// SubmitCalls returns how many submissions reached the node.
func (m *MockConnection) SubmitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

// Closed reports whether Close was called.
func (m *MockConnection) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer hands out preconfigured connections per endpoint and records
// the order endpoints were dialed in. Unknown endpoints fail to dial.
type MockDialer struct {
	mu     sync.Mutex
	conns  map[string]Connection
	errs   map[string]error
	dialed []string
}

// NewMockDialer creates an empty MockDialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		conns: make(map[string]Connection),
		errs:  make(map[string]error),
	}
}

// Add registers a connection for its endpoint.
func (d *MockDialer) Add(conn Connection) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[conn.Endpoint()] = conn
	return d
}

// Fail makes endpoint fail with err.
func (d *MockDialer) Fail(endpoint string, err error) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[endpoint] = err
	return d
}

func (d *MockDialer) Dial(ctx context.Context, endpoint string) (Connection, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, endpoint)
	conn, ok := d.conns[endpoint]
	err := d.errs[endpoint]
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("connection refused")
	}
	return conn, nil
}

// Dialed returns the endpoints in the order they were dialed.
func (d *MockDialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dialed))
	copy(out, d.dialed)
	return out
}
