package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Payment is a payment outcome as returned by the server.
type Payment struct {
	ID          string       `json:"id"`
	State       string       `json:"state"`
	Status      string       `json:"status"`
	Request     PayRequest   `json:"request"`
	Signer      string       `json:"signer"`
	Endpoint    string       `json:"endpoint,omitempty"`
	Call        string       `json:"call,omitempty"`
	Planck      string       `json:"planck,omitempty"`
	Receipt     *Receipt     `json:"receipt,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
	Transitions []Transition `json:"transitions"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Succeeded reports whether the transfer was submitted.
func (p *Payment) Succeeded() bool {
	return p != nil && p.State == "confirmed"
}

// PayRequest is the amount and recipient of a transfer.
type PayRequest struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
}

// Receipt identifies a submitted extrinsic.
type Receipt struct {
	BlockHash     string `json:"block_hash,omitempty"`
	ExtrinsicHash string `json:"extrinsic_hash"`
	Endpoint      string `json:"endpoint"`
	Finalized     bool   `json:"finalized"`
}

// Transition is one state change of a payment run.
type Transition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// Record is a payment row from the history endpoints.
type Record struct {
	ID            string    `json:"id"`
	Signer        string    `json:"signer"`
	Recipient     string    `json:"recipient"`
	Amount        float64   `json:"amount"`
	Planck        *string   `json:"planck,omitempty"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	ErrorKind     *string   `json:"error_kind,omitempty"`
	BlockHash     *string   `json:"block_hash,omitempty"`
	ExtrinsicHash *string   `json:"extrinsic_hash,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Intent is the server's reading of a payment utterance.
type Intent struct {
	Text      string  `json:"text"`
	Amount    float64 `json:"amount,omitempty"`
	Recipient string  `json:"recipient,omitempty"`
	Contact   string  `json:"contact,omitempty"`
}

// Account is the server signer's address and balance.
type Account struct {
	Address  string          `json:"address"`
	Planck   json.RawMessage `json:"planck"`
	Balance  string          `json:"balance"`
	Exists   bool            `json:"exists"`
	Endpoint string          `json:"endpoint"`
}

// Contact is an address book entry.
type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// WorkflowRun is the status of a background payment.
type WorkflowRun struct {
	WorkflowID string          `json:"workflow_id"`
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// PaymentEvent is a terminal payment as streamed by the server.
type PaymentEvent struct {
	PaymentID     string    `json:"payment_id"`
	Signer        string    `json:"signer"`
	Recipient     string    `json:"recipient"`
	Amount        float64   `json:"amount"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	BlockHash     string    `json:"block_hash,omitempty"`
	ExtrinsicHash string    `json:"extrinsic_hash,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// APIError is a non-success response. Kind is the server's error kind when
// it reported one.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// ErrPaymentFailed is returned by Pay when the server ran the payment and
// it ended in the failed state. The Payment is returned alongside it.
var ErrPaymentFailed = errors.New("payment failed")

// Client is the HTTP client for the voxpay payment service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new payment service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Pay sends amount to recipient and waits for the outcome. confirm is the
// user's answer to the confirmation prompt.
func (c *Client) Pay(ctx context.Context, amount float64, recipient string, confirm bool) (*Payment, error) {
	return c.pay(ctx, map[string]interface{}{
		"amount":    amount,
		"recipient": recipient,
		"confirm":   confirm,
	})
}

// PayText sends a payment described in free text, such as
// "send 2 DOT to alice".
func (c *Client) PayText(ctx context.Context, text string, confirm bool) (*Payment, error) {
	return c.pay(ctx, map[string]interface{}{
		"text":    text,
		"confirm": confirm,
	})
}

func (c *Client) pay(ctx context.Context, body map[string]interface{}) (*Payment, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/payments", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
	default:
		return nil, c.parseErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// 422 is also used for utterances that could not be parsed; those have
	// no payment ID.
	var p Payment
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		return nil, errorFromBody(resp.StatusCode, data)
	}

	c.logger.Debug("payment finished", "id", p.ID, "state", p.State, "status", p.Status)
	if !p.Succeeded() {
		return &p, fmt.Errorf("%w: %s", ErrPaymentFailed, p.Status)
	}
	return &p, nil
}

// PayAsync hands a confirmed payment to a background workflow and returns
// immediately.
func (c *Client) PayAsync(ctx context.Context, amount float64, recipient string) (*WorkflowRun, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/payments", map[string]interface{}{
		"amount":    amount,
		"recipient": recipient,
		"confirm":   true,
		"async":     true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}
	var run WorkflowRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &run, nil
}

// Workflow reports on a background payment.
func (c *Client) Workflow(ctx context.Context, workflowID string) (*WorkflowRun, error) {
	var run WorkflowRun
	if err := c.getJSON(ctx, "/api/v1/workflows/"+url.PathEscape(workflowID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ParseIntent asks the server how it reads text, without paying.
func (c *Client) ParseIntent(ctx context.Context, text string) (*Intent, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/intents/parse", map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}
	var in Intent
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &in, nil
}

// Account returns the server signer's balance.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.getJSON(ctx, "/api/v1/account", &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetPayment retrieves one recorded payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := c.getJSON(ctx, "/api/v1/payments/"+url.PathEscape(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPayments retrieves recorded payments, newest first.
func (c *Client) ListPayments(ctx context.Context, limit, offset int) ([]*Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/payments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Payments []*Record `json:"payments"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Payments, nil
}

// ListContacts retrieves the address book.
func (c *Client) ListContacts(ctx context.Context) ([]*Contact, error) {
	var out struct {
		Contacts []*Contact `json:"contacts"`
	}
	if err := c.getJSON(ctx, "/api/v1/contacts", &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// SaveContact adds or updates an address book entry.
func (c *Client) SaveContact(ctx context.Context, name, address string) (*Contact, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/contacts", Contact{Name: name, Address: address})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}
	var contact Contact
	if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &contact, nil
}

// DeleteContact removes an address book entry.
func (c *Client) DeleteContact(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/v1/contacts/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Await blocks until the payment stream delivers an event for which match
// returns true, or ctx is done. An empty signer streams every signer.
func (c *Client) Await(ctx context.Context, signer string, match func(*PaymentEvent) bool) (*PaymentEvent, error) {
	u := c.baseURL + "/api/v1/stream/payments"
	if signer != "" {
		u += "?signer=" + url.QueryEscape(signer)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream stays open; only ctx bounds it.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var event, data string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event == "payment" && data != "" {
				var pe PaymentEvent
				if err := json.Unmarshal([]byte(data), &pe); err != nil {
					c.logger.Warn("failed to decode payment event", "error", err)
				} else if match == nil || match(&pe) {
					return &pe, nil
				}
			}
			event, data = "", ""
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, errors.New("stream closed by server")
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return errorFromBody(resp.StatusCode, body)
}

func errorFromBody(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Message: errResp.Error, Kind: errResp.Kind}
}
