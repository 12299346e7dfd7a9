package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/voxpay/service/db"
	"github.com/brojonat/voxpay/service/pipeline"
	"github.com/brojonat/voxpay/service/substrate"
	"github.com/brojonat/voxpay/service/temporal"
)

// PaymentService runs payments and reads the signer account.
// *pipeline.Service implements it.
type PaymentService interface {
	Identity() *substrate.Identity
	Decimals() int
	Execute(ctx context.Context, req substrate.TransactionRequest, confirmer pipeline.Confirmer) (*pipeline.Outcome, error)
	ResolveIntent(ctx context.Context, text string) (*pipeline.ResolvedIntent, error)
	Account(ctx context.Context) (*pipeline.Account, error)
}

// Store is the persistence the API reads from. *db.Store implements it.
type Store interface {
	GetPayment(ctx context.Context, id string) (*db.Payment, error)
	ListPayments(ctx context.Context, params db.ListPaymentsParams) ([]*db.Payment, error)
	ListContacts(ctx context.Context) ([]*db.Contact, error)
	UpsertContact(ctx context.Context, name, address string) (*db.Contact, error)
	DeleteContact(ctx context.Context, name string) error
}

// createPaymentRequest is either free text or an explicit amount and
// recipient. Confirm carries the user's answer to the confirmation prompt.
type createPaymentRequest struct {
	Text      string   `json:"text,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	Recipient string   `json:"recipient,omitempty"`
	Confirm   bool     `json:"confirm"`
	Async     bool     `json:"async,omitempty"`
}

// asyncPaymentResponse is returned when a payment was handed to a workflow.
type asyncPaymentResponse struct {
	WorkflowID string                       `json:"workflow_id"`
	RunID      string                       `json:"run_id"`
	Status     string                       `json:"status"`
	Request    substrate.TransactionRequest `json:"request"`
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string                   `json:"error"`
	Kind   string                   `json:"kind,omitempty"`
	Intent *pipeline.ResolvedIntent `json:"intent,omitempty"`
}

// handleCreatePayment returns a handler that runs a payment.
// POST /api/v1/payments
func handleCreatePayment(svc PaymentService, dispatcher temporal.Dispatcher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body createPaymentRequest
		if !decodeJSON(w, r, &body, logger) {
			return
		}

		req, ri, err := paymentRequest(r.Context(), svc, body)
		if err != nil {
			status, kind := http.StatusBadRequest, pipeline.Kind(err)
			var verr *validationError
			switch {
			case errors.As(err, &verr):
				kind = ""
			case errors.Is(err, pipeline.ErrIntentNotReady):
				status = http.StatusUnprocessableEntity
			default:
				logger.ErrorContext(r.Context(), "failed to resolve payment request", "error", err)
				status = http.StatusInternalServerError
			}
			writeJSON(w, errorResponse{Error: err.Error(), Kind: kind, Intent: ri}, status)
			return
		}

		if body.Async {
			startAsyncPayment(w, r, svc, dispatcher, body, req, logger)
			return
		}

		// A dropped client must not abandon a submission in flight.
		ctx := context.WithoutCancel(r.Context())
		outcome, err := svc.Execute(ctx, req, pipeline.StaticConfirmer(body.Confirm))
		if outcome == nil {
			logger.ErrorContext(r.Context(), "payment produced no outcome", "error", err)
			writeError(w, "payment could not be started", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if !outcome.Succeeded() {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, outcome, status)
	})
}

// paymentRequest turns the body into a transaction request, resolving text
// through the intent parser and address book.
func paymentRequest(ctx context.Context, svc PaymentService, body createPaymentRequest) (substrate.TransactionRequest, *pipeline.ResolvedIntent, error) {
	if body.Text != "" {
		if body.Amount != nil || body.Recipient != "" {
			return substrate.TransactionRequest{}, nil, errorf("provide either text or amount and recipient, not both")
		}
		if err := validateText(body.Text); err != nil {
			return substrate.TransactionRequest{}, nil, err
		}
		ri, err := svc.ResolveIntent(ctx, body.Text)
		if err != nil {
			return substrate.TransactionRequest{}, ri, err
		}
		return ri.Request(), ri, nil
	}

	if body.Amount == nil {
		return substrate.TransactionRequest{}, nil, errorf("amount is required")
	}
	if body.Recipient == "" {
		return substrate.TransactionRequest{}, nil, errorf("recipient is required")
	}
	return substrate.TransactionRequest{Amount: *body.Amount, Recipient: body.Recipient}, nil, nil
}

func startAsyncPayment(w http.ResponseWriter, r *http.Request, svc PaymentService, dispatcher temporal.Dispatcher, body createPaymentRequest, req substrate.TransactionRequest, logger *slog.Logger) {
	if dispatcher == nil {
		writeError(w, "background payments are not configured", http.StatusServiceUnavailable)
		return
	}
	if !body.Confirm {
		writeError(w, "background payments must be confirmed up front", http.StatusBadRequest)
		return
	}
	if err := req.Validate(svc.Decimals()); err != nil {
		writeJSON(w, errorResponse{Error: err.Error(), Kind: pipeline.Kind(err)}, http.StatusBadRequest)
		return
	}

	run, err := dispatcher.StartPayment(r.Context(), temporal.PaymentInput{
		Amount:      req.Amount,
		Recipient:   req.Recipient,
		Text:        body.Text,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to start payment workflow", "error", err)
		writeError(w, "failed to start payment workflow", http.StatusInternalServerError)
		return
	}

	writeJSON(w, asyncPaymentResponse{
		WorkflowID: run.WorkflowID,
		RunID:      run.RunID,
		Status:     run.Status,
		Request:    req,
	}, http.StatusAccepted)
}

// handleGetWorkflow returns a handler that reports a background payment.
// GET /api/v1/workflows/{workflow_id}
func handleGetWorkflow(dispatcher temporal.Dispatcher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("workflow_id")
		if !strings.HasPrefix(id, temporal.WorkflowIDPrefix) {
			writeError(w, "invalid workflow id", http.StatusBadRequest)
			return
		}

		run, err := dispatcher.DescribePayment(r.Context(), id)
		if errors.Is(err, temporal.ErrWorkflowNotFound) {
			writeError(w, "workflow not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to describe workflow", "workflow_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, run, http.StatusOK)
	})
}

// handleParseIntent returns a handler that previews what a payment
// utterance would do, for the confirmation prompt.
// POST /api/v1/intents/parse
func handleParseIntent(svc PaymentService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if !decodeJSON(w, r, &body, logger) {
			return
		}
		if err := validateText(body.Text); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ri, err := svc.ResolveIntent(r.Context(), body.Text)
		switch {
		case errors.Is(err, pipeline.ErrIntentNotReady):
			writeJSON(w, errorResponse{Error: err.Error(), Kind: pipeline.Kind(err), Intent: ri}, http.StatusUnprocessableEntity)
		case err != nil:
			logger.ErrorContext(r.Context(), "failed to resolve intent", "error", err)
			writeError(w, "failed to resolve recipient", http.StatusInternalServerError)
		default:
			writeJSON(w, ri, http.StatusOK)
		}
	})
}

// handleGetAccount returns a handler that reads the signer's balance.
// GET /api/v1/account
func handleGetAccount(svc PaymentService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := svc.Account(r.Context())
		if err != nil {
			logger.WarnContext(r.Context(), "failed to read account", "error", err)
			status := http.StatusBadGateway
			if errors.Is(err, substrate.ErrTimeout) {
				status = http.StatusGatewayTimeout
			}
			writeJSON(w, errorResponse{Error: err.Error(), Kind: pipeline.Kind(err)}, status)
			return
		}
		writeJSON(w, acct, http.StatusOK)
	})
}

// handleListPayments returns a handler that lists recorded payments.
// GET /api/v1/payments?limit=&offset=&state=&signer=
func handleListPayments(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, offset, err := parsePagination(q)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		state := q.Get("state")
		if state != "" && !pipeline.State(state).Terminal() {
			writeError(w, "invalid state: must be 'confirmed' or 'failed'", http.StatusBadRequest)
			return
		}

		payments, err := store.ListPayments(r.Context(), db.ListPaymentsParams{
			Signer: q.Get("signer"),
			State:  state,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list payments", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"payments": payments,
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// handleGetPayment returns a handler that fetches one recorded payment.
// GET /api/v1/payments/{id}
func handleGetPayment(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := uuid.Parse(id); err != nil {
			writeError(w, "invalid payment id", http.StatusBadRequest)
			return
		}

		p, err := store.GetPayment(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "payment not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get payment", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, p, http.StatusOK)
	})
}

// handleListContacts returns a handler that lists the address book.
// GET /api/v1/contacts
func handleListContacts(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contacts, err := store.ListContacts(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list contacts", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"contacts": contacts}, http.StatusOK)
	})
}

// handleUpsertContact returns a handler that adds or updates a contact.
// POST /api/v1/contacts
func handleUpsertContact(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		}
		if !decodeJSON(w, r, &body, logger) {
			return
		}
		if err := validateContactName(body.Name); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(body.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		c, err := store.UpsertContact(r.Context(), body.Name, body.Address)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to upsert contact", "name", body.Name, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		logger.InfoContext(r.Context(), "contact saved", "name", c.Name, "address", c.Address)
		writeJSON(w, c, http.StatusOK)
	})
}

// handleDeleteContact returns a handler that removes a contact.
// DELETE /api/v1/contacts/{name}
func handleDeleteContact(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := validateContactName(name); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		err := store.DeleteContact(r.Context(), name)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "contact not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to delete contact", "name", name, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// decodeJSON reads a size-limited JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, errorResponse{Error: message}, statusCode)
}
