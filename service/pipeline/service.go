package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/brojonat/voxpay/service/intent"
	"github.com/brojonat/voxpay/service/metrics"
	"github.com/brojonat/voxpay/service/substrate"
)

// Components are the chain-facing building blocks of a run.
type Components struct {
	Identity  *substrate.Identity
	Connector *substrate.Connector
	Reader    *substrate.Reader
	Composer  *substrate.Composer
	Submitter *substrate.Submitter
}

// Options configure a Service. Every collaborator is optional.
type Options struct {
	Endpoints        []string
	WaitForInclusion bool

	// Confirmer is used by ExecuteTransaction and ExecuteIntent. Nil
	// confirms automatically.
	Confirmer Confirmer
	Parser    intent.Parser
	Resolver  intent.Resolver

	Observer  Observer
	Recorder  Recorder
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// Service is the entry point for payments. It is safe for concurrent use;
// every call builds its own Pipeline and node connection.
type Service struct {
	identity  *substrate.Identity
	connector *substrate.Connector
	reader    *substrate.Reader
	composer  *substrate.Composer
	submitter *substrate.Submitter

	endpoints        []string
	waitForInclusion bool
	confirmer        Confirmer
	parser           intent.Parser
	resolver         intent.Resolver
	observer         Observer
	recorder         Recorder
	publisher        Publisher
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

// NewService creates a Service.
func NewService(c Components, opts Options, logger *slog.Logger) *Service {
	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = AutoConfirm
	}
	parser := opts.Parser
	if parser == nil {
		parser = intent.NewRuleParser()
	}
	endpoints := make([]string, len(opts.Endpoints))
	copy(endpoints, opts.Endpoints)

	return &Service{
		identity:         c.Identity,
		connector:        c.Connector,
		reader:           c.Reader,
		composer:         c.Composer,
		submitter:        c.Submitter,
		endpoints:        endpoints,
		waitForInclusion: opts.WaitForInclusion,
		confirmer:        confirmer,
		parser:           parser,
		resolver:         opts.Resolver,
		observer:         opts.Observer,
		recorder:         opts.Recorder,
		publisher:        opts.Publisher,
		metrics:          opts.Metrics,
		logger:           logger.With("component", "pipeline"),
	}
}

// Identity returns the signing identity.
func (s *Service) Identity() *substrate.Identity {
	return s.identity
}

// Decimals returns the token precision used for scaling.
func (s *Service) Decimals() int {
	return s.composer.Decimals()
}

// NewPipeline builds a fresh single-use pipeline with its own confirmer.
// A nil confirmer falls back to the service's.
func (s *Service) NewPipeline(confirmer Confirmer) *Pipeline {
	if confirmer == nil {
		confirmer = s.confirmer
	}
	return newPipeline(s, confirmer)
}

// ExecuteTransaction sends amount whole tokens to recipient, an SS58
// address. Failures are reported in the returned Outcome as well as err.
func (s *Service) ExecuteTransaction(ctx context.Context, amount float64, recipient string) (*Outcome, error) {
	return s.Execute(ctx, substrate.TransactionRequest{Amount: amount, Recipient: recipient}, nil)
}

// Execute runs req through a new pipeline with the given confirmer.
func (s *Service) Execute(ctx context.Context, req substrate.TransactionRequest, confirmer Confirmer) (*Outcome, error) {
	return s.NewPipeline(confirmer).Run(ctx, req)
}

// ResolvedIntent is a parsed intent with its recipient looked up in the
// address book.
type ResolvedIntent struct {
	Text      string        `json:"text"`
	Parsed    intent.Intent `json:"parsed"`
	Amount    float64       `json:"amount,omitempty"`
	Recipient string        `json:"recipient,omitempty"`
	Contact   string        `json:"contact,omitempty"`
}

// Request returns the transaction request for a ready intent.
func (r *ResolvedIntent) Request() substrate.TransactionRequest {
	return substrate.TransactionRequest{Amount: r.Amount, Recipient: r.Recipient}
}

// ResolveIntent parses text and resolves a recipient name to an address.
// When amount or recipient is missing it returns the partial result with
// ErrIntentNotReady. Unknown names are left as-is and fail validation
// when executed.
func (s *Service) ResolveIntent(ctx context.Context, text string) (*ResolvedIntent, error) {
	parsed := s.parser.Parse(text)
	ri := &ResolvedIntent{Text: text, Parsed: parsed}
	if !parsed.Ready() {
		return ri, fmt.Errorf("%w: %q", ErrIntentNotReady, text)
	}

	ri.Amount = *parsed.Amount
	ri.Recipient = *parsed.Recipient

	if substrate.ValidateAddress(ri.Recipient) == nil || s.resolver == nil {
		return ri, nil
	}

	name := ri.Recipient
	addr, found, err := s.resolver.Resolve(ctx, name)
	if err != nil {
		return ri, fmt.Errorf("resolve recipient %q: %w", name, err)
	}
	if found {
		ri.Recipient = addr
		ri.Contact = name
		s.logger.DebugContext(ctx, "resolved contact", "name", name, "address", addr)
	}
	return ri, nil
}

// ExecuteIntent parses text, resolves the recipient and runs the payment
// with the service's confirmer. Nothing is dialed for an incomplete intent.
func (s *Service) ExecuteIntent(ctx context.Context, text string) (*Outcome, error) {
	ri, err := s.ResolveIntent(ctx, text)
	if err != nil {
		s.logger.InfoContext(ctx, "payment intent not executed", "text", strings.TrimSpace(text), "error", err)
		return nil, err
	}
	return s.Execute(ctx, ri.Request(), nil)
}

// Account is the signer's address and a freshly read balance.
type Account struct {
	Address  string   `json:"address"`
	Planck   *big.Int `json:"planck"`
	Balance  string   `json:"balance"`
	Exists   bool     `json:"exists"`
	Endpoint string   `json:"endpoint"`
}

// Account reads the signer's free balance over a short-lived connection.
func (s *Service) Account(ctx context.Context) (*Account, error) {
	conn, err := s.connector.Connect(ctx, s.endpoints)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	acct := &Account{
		Address:  s.identity.Address(),
		Planck:   new(big.Int),
		Endpoint: conn.Endpoint(),
	}

	balance, err := s.reader.GetBalance(ctx, conn, acct.Address)
	switch {
	case errors.Is(err, substrate.ErrAccountNotFound):
	case err != nil:
		return nil, err
	default:
		acct.Planck = balance
		acct.Exists = true
	}
	acct.Balance = substrate.FormatPlanck(acct.Planck, s.Decimals())
	return acct, nil
}
