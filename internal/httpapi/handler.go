package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// Service is the ledger surface exposed over HTTP.
type Service interface {
	CreateTransfer(ctx context.Context, req domain.TransferRequest, urgent bool) (*domain.Transfer, error)
	AccountBalances(ctx context.Context, ids []uuid.UUID, historical bool) ([]*domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	FindAll(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error)
}

// IdempotencyKeyHeader carries the request id when the body omits it.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// retryAfterSeconds is advertised when a transfer gave up on contention.
const retryAfterSeconds = "1"

// Handler serves the ledger REST API
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new Handler
func NewHandler(service Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		logger:  logger.With(zap.String("component", "http")),
	}
}

// TransferItemRequest is one leg in a CreateTransfer body.
type TransferItemRequest struct {
	AccountID uuid.UUID       `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Note      string          `json:"note,omitempty"`
}

// TransferRequest is the CreateTransfer body. Dates use the YYYY-MM-DD layout.
type TransferRequest struct {
	ID           uuid.UUID             `json:"id"`
	City         string                `json:"city"`
	Type         string                `json:"type"`
	BookingDate  string                `json:"bookingDate"`
	TransferDate string                `json:"transferDate"`
	Items        []TransferItemRequest `json:"items"`
	Urgent       bool                  `json:"urgent"`
}

// TransferListResponse is a page of transfers. AfterID is the cursor of the next page.
type TransferListResponse struct {
	Content []*domain.Transfer `json:"content"`
	AfterID *uuid.UUID         `json:"afterId,omitempty"`
}

// AccountListResponse wraps a balance read.
type AccountListResponse struct {
	Content []*domain.Account `json:"content"`
}

// BaseError is the error envelope of every non-2xx response.
type BaseError struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
}

// CreateTransfer handles POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var body TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to parse request body: "+err.Error())
		return
	}

	if body.ID == uuid.Nil {
		if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
			id, err := uuid.Parse(key)
			if err != nil {
				sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+IdempotencyKeyHeader)
				return
			}
			body.ID = id
		}
	}

	req, err := toDomainRequest(body)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	transfer, err := h.service.CreateTransfer(r.Context(), req, body.Urgent)
	if err != nil {
		h.handleError(w, err)
		return
	}

	status := http.StatusCreated
	if transfer.Replayed {
		status = http.StatusOK
	}
	sendJSON(w, status, transfer)
}

// GetTransfer handles GET /api/transfers/{id}
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	transfer, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, transfer)
}

// ListTransfers handles GET /api/transfers
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.TransferFilter{City: query.Get("city")}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	if raw := query.Get("after"); raw != "" {
		after, err := uuid.Parse(raw)
		if err != nil {
			sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", "after must be a transfer id")
			return
		}
		filter.After = after
	}

	transfers, err := h.service.FindAll(r.Context(), filter)
	if err != nil {
		h.handleError(w, err)
		return
	}

	resp := TransferListResponse{Content: transfers}
	if resp.Content == nil {
		resp.Content = []*domain.Transfer{}
	}
	if n := len(transfers); n > 0 && n == filter.PageSize() {
		last := transfers[n-1].ID
		resp.AfterID = &last
	}
	sendJSON(w, http.StatusOK, resp)
}

// GetAccount handles GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, account)
}

// ListAccounts handles GET /api/accounts?id=..&id=..&historical=true
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	rawIDs := query["id"]
	if len(rawIDs) == 0 {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", "at least one id is required")
		return
	}
	ids := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid account id: "+raw)
			return
		}
		ids = append(ids, id)
	}

	historical := false
	if raw := query.Get("historical"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", "historical must be a boolean")
			return
		}
		historical = v
	}

	accounts, err := h.service.AccountBalances(r.Context(), ids, historical)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}
	sendJSON(w, http.StatusOK, AccountListResponse{Content: accounts})
}

func toDomainRequest(body TransferRequest) (domain.TransferRequest, error) {
	if body.ID == uuid.Nil {
		return domain.TransferRequest{}, errors.New("id or " + IdempotencyKeyHeader + " is required")
	}

	bookingDate, err := parseDate(body.BookingDate)
	if err != nil {
		return domain.TransferRequest{}, errors.New("bookingDate must use YYYY-MM-DD")
	}
	transferDate, err := parseDate(body.TransferDate)
	if err != nil {
		return domain.TransferRequest{}, errors.New("transferDate must use YYYY-MM-DD")
	}

	items := make([]domain.AccountItem, 0, len(body.Items))
	for _, item := range body.Items {
		if err := domain.ValidateCurrencyCode(item.Currency); err != nil {
			return domain.TransferRequest{}, err
		}
		items = append(items, domain.AccountItem{
			AccountID: item.AccountID,
			Amount:    domain.Money{Amount: item.Amount, Currency: item.Currency},
			Note:      item.Note,
		})
	}

	return domain.NewTransferRequest(body.ID, body.City, domain.TransferType(body.Type),
		bookingDate, transferDate, items...), nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleError converts domain errors to HTTP responses
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsStructural(err):
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_TRANSFER", err.Error())
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrTransferNotFound):
		sendErrorResponse(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case domain.IsBusiness(err):
		sendErrorResponse(w, http.StatusUnprocessableEntity, "TRANSFER_REJECTED", err.Error())
	case errors.Is(err, domain.ErrRetriesExhausted):
		w.Header().Set("Retry-After", retryAfterSeconds)
		sendErrorResponse(w, http.StatusServiceUnavailable, "CONTENTION", "transfer could not be committed, retry later")
	default:
		h.logger.Error("request failed", zap.Error(err))
		sendErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}

// sendErrorResponse sends an error response in the expected format
func sendErrorResponse(w http.ResponseWriter, statusCode int, code, description string) {
	sendJSON(w, statusCode, BaseError{
		ID:          uuid.New(),
		Code:        code,
		Description: description,
	})
}

func sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
