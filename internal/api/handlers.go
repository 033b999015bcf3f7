/**
 * @description
 * HTTP handlers for the billing service.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dinewise/billing-service/internal/app"
	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
	"github.com/dinewise/billing-service/pkg/vnpay"
)

// Service is the application surface the handlers call.
type Service interface {
	Location() *time.Location
	CurrentPeriod() time.Time
	PreviousPeriod() time.Time

	ListBills(ctx context.Context, staffID string, limit int) ([]domain.StaffBilling, error)
	GetBillingSummary(ctx context.Context, staffID string) (*domain.BillingSummary, error)
	IssueMonthlyBill(ctx context.Context, staffID string, period time.Time) (*domain.StaffBilling, error)
	GenerateMonthlyBills(ctx context.Context, period time.Time) (*app.BillGenerationResult, error)
	StartBillingPayment(ctx context.Context, staffID, billID, clientIP string) (*app.PaymentSession, error)
	ListBillsForReview(ctx context.Context, status *domain.BillingStatus, limit int) ([]domain.StaffBilling, error)
	AcceptBill(ctx context.Context, billID string) (*domain.StaffBilling, error)
	RejectBill(ctx context.Context, billID string) (*domain.StaffBilling, error)

	PlaceOrder(ctx context.Context, payerID, restaurantID string, lines []app.OrderLine) (*domain.Order, error)
	ListOrders(ctx context.Context, payerID string, limit int) ([]domain.Order, error)
	PayOrderCash(ctx context.Context, payerID, orderID string) (*domain.Order, error)
	StartOrderPayment(ctx context.Context, payerID, orderID, clientIP string) (*app.PaymentSession, error)
	ConfirmOrder(ctx context.Context, staffID, orderID string) (*domain.Order, error)
	CancelOrder(ctx context.Context, payerID, orderID string) (*domain.Order, error)

	StartPremiumPurchase(ctx context.Context, userID, packageCode, clientIP string) (*app.PaymentSession, error)
	PremiumStatus(ctx context.Context, userID string) (*domain.PremiumStatus, error)
	Reconcile(ctx context.Context, params map[string]string) (*app.ReconciliationResult, error)

	PlatformRevenue(ctx context.Context, groupBy string, year int) (*domain.RevenueReport, error)
	StaffFoodRevenue(ctx context.Context, staffID, restaurantID string, year int) (*domain.RevenueReport, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) handleListBills(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	bills, err := h.service.ListBills(r.Context(), userID, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(bills))
}

func (h *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	summary, err := h.service.GetBillingSummary(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleIssueOwnBill(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	h.issueBill(w, r, userID)
}

func (h *Handler) handleIssueStaffBill(w http.ResponseWriter, r *http.Request) {
	staffID, ok := pathUUID(w, r, "staffID")
	if !ok {
		return
	}
	h.issueBill(w, r, staffID)
}

func (h *Handler) issueBill(w http.ResponseWriter, r *http.Request, staffID string) {
	bill, err := h.service.IssueMonthlyBill(r.Context(), staffID, h.service.CurrentPeriod())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"bill": bill})
}

func (h *Handler) handlePayBill(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	billID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	session, err := h.service.StartBillingPayment(r.Context(), userID, billID, clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListBillsForReview(w http.ResponseWriter, r *http.Request) {
	var status *domain.BillingStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		s := domain.BillingStatus(strings.ToLower(raw))
		status = &s
	}

	bills, err := h.service.ListBillsForReview(r.Context(), status, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(bills))
}

func (h *Handler) handleAcceptBill(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	bill, err := h.service.AcceptBill(r.Context(), billID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bill)
}

func (h *Handler) handleRejectBill(w http.ResponseWriter, r *http.Request) {
	billID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	bill, err := h.service.RejectBill(r.Context(), billID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bill)
}

type placeOrderRequest struct {
	RestaurantID string          `json:"restaurant_id"`
	Items        []app.OrderLine `json:"items"`
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !validUUIDs(req.RestaurantID) {
		http.Error(w, "restaurant_id must be a UUID", http.StatusBadRequest)
		return
	}
	for _, line := range req.Items {
		if !validUUIDs(line.MenuItemID) {
			http.Error(w, "menu_item_id must be a UUID", http.StatusBadRequest)
			return
		}
	}

	order, err := h.service.PlaceOrder(r.Context(), userID, req.RestaurantID, req.Items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, order)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	orders, err := h.service.ListOrders(r.Context(), userID, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(orders))
}

type payOrderRequest struct {
	Method domain.PaymentMethod `json:"method"`
}

func (h *Handler) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req payOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Method.Valid() {
		http.Error(w, "method must be cash or vnpay", http.StatusBadRequest)
		return
	}

	if req.Method == domain.PaymentCash {
		order, err := h.service.PayOrderCash(r.Context(), userID, orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, order)
		return
	}

	session, err := h.service.StartOrderPayment(r.Context(), userID, orderID, clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.service.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.service.ConfirmOrder(r.Context(), userID, orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

type premiumPurchaseRequest struct {
	PackageCode string `json:"package_code"`
}

func (h *Handler) handlePremiumPurchase(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	var req premiumPurchaseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	session, err := h.service.StartPremiumPurchase(r.Context(), userID, req.PackageCode, clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

func (h *Handler) handlePremiumStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	status, err := h.service.PremiumStatus(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// handlePlatformRevenue serves ?group_by=month|year&year=YYYY.
func (h *Handler) handlePlatformRevenue(w http.ResponseWriter, r *http.Request) {
	year, ok := queryYear(w, r)
	if !ok {
		return
	}

	report, err := h.service.PlatformRevenue(r.Context(), r.URL.Query().Get("group_by"), year)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// handleStaffRevenue serves ?year=YYYY&restaurant_id=<uuid>.
func (h *Handler) handleStaffRevenue(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	year, ok := queryYear(w, r)
	if !ok {
		return
	}
	restaurantID := strings.TrimSpace(r.URL.Query().Get("restaurant_id"))
	if restaurantID != "" && !validUUIDs(restaurantID) {
		http.Error(w, "restaurant_id must be a UUID", http.StatusBadRequest)
		return
	}

	report, err := h.service.StaffFoodRevenue(r.Context(), userID, restaurantID, year)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

type returnResponse struct {
	*app.ReconciliationResult
	Message string `json:"message"`
}

// handleVNPayReturn reconciles the browser redirect back from the gateway.
func (h *Handler) handleVNPayReturn(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconcileQuery(r)

	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, returnResponse{result, "Payment successful"})
	case errors.Is(err, app.ErrGatewayDeclined):
		respondWithJSON(w, http.StatusOK, returnResponse{result, "Payment failed or was cancelled"})
	case errors.Is(err, app.ErrSignatureInvalid), errors.Is(err, vnpay.ErrProtocol):
		respondWithJSON(w, http.StatusBadRequest, returnResponse{result, "Invalid payment response"})
	case errors.Is(err, app.ErrUnknownReference), errors.Is(err, app.ErrAmountMismatch):
		respondWithJSON(w, http.StatusUnprocessableEntity, returnResponse{result, "Payment could not be matched to a record"})
	default:
		log.Printf("Error reconciling gateway return: %v", err)
		respondWithJSON(w, http.StatusInternalServerError, returnResponse{result, "Payment could not be processed"})
	}
}

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// handleVNPayIPN answers the gateway's server-to-server notification using
// its acknowledgement codes. The HTTP status is always 200.
func (h *Handler) handleVNPayIPN(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconcileQuery(r)

	var resp ipnResponse
	switch {
	case err == nil && result.Outcome == app.OutcomeAlreadySettled:
		resp = ipnResponse{RspCode: "02", Message: "Order already confirmed"}
	case err == nil, errors.Is(err, app.ErrGatewayDeclined):
		resp = ipnResponse{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, app.ErrSignatureInvalid), errors.Is(err, vnpay.ErrProtocol):
		resp = ipnResponse{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, app.ErrUnknownReference):
		resp = ipnResponse{RspCode: "01", Message: "Order not found"}
	case errors.Is(err, app.ErrAmountMismatch):
		resp = ipnResponse{RspCode: "04", Message: "Invalid amount"}
	default:
		log.Printf("Error reconciling gateway IPN: %v", err)
		resp = ipnResponse{RspCode: "99", Message: "Unknown error"}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) reconcileQuery(r *http.Request) (*app.ReconciliationResult, error) {
	params, err := vnpay.ParamsFromQuery(r.URL.Query())
	if err != nil {
		return &app.ReconciliationResult{Outcome: app.OutcomeRejected}, err
	}
	return h.service.Reconcile(r.Context(), params)
}

type generateBillsRequest struct {
	Period string `json:"period"`
}

func (h *Handler) handleGenerateBills(w http.ResponseWriter, r *http.Request) {
	period := h.service.PreviousPeriod()

	var req generateBillsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Period != "" {
		parsed, err := time.ParseInLocation("2006-01", req.Period, h.service.Location())
		if err != nil {
			http.Error(w, "period must be formatted as YYYY-MM", http.StatusBadRequest)
			return
		}
		period = parsed
	}

	result, err := h.service.GenerateMonthlyBills(r.Context(), period)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// writeServiceError maps service errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.Is(err, store.ErrBillingNotFound),
		errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrMenuItemNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, app.ErrInvalidTransition), errors.Is(err, store.ErrBillingExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, app.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidOrder),
		errors.Is(err, app.ErrInvalidStatus),
		errors.Is(err, app.ErrUnknownPackage),
		errors.Is(err, app.ErrInvalidReport),
		errors.Is(err, vnpay.ErrProtocol),
		errors.Is(err, domain.ErrMalformedReference):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("Error handling request: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// pathUUID answers 404 for ids that cannot name a stored record.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return "", false
	}
	return id.String(), true
}

func validUUIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

func queryYear(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("year"))
	if raw == "" {
		return 0, true
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, "year must be a number", http.StatusBadRequest)
		return 0, false
	}
	return year, true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 200 {
		return 0
	}
	return limit
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
