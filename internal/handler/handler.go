// Package handler содержит HTTP-обработчики API SMM-панели.
package handler

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/instaboost/smmpanel/internal/middleware"
	"github.com/instaboost/smmpanel/internal/model"
	"github.com/instaboost/smmpanel/internal/repository"
	"github.com/instaboost/smmpanel/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, username, password, referralCode string) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetServices(ctx context.Context) ([]model.Service, error)
	PlaceOrder(ctx context.Context, userID int64, serviceName, target string, quantity int) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	RequestTopUp(ctx context.Context, userID int64, amount decimal.Decimal, utr, method string) (*model.Payment, error)
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)
	ResolvePayment(ctx context.Context, paymentID int64, status model.PaymentStatus) (*model.Payment, error)
	ClaimBonus(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetReferralStatus(ctx context.Context, userID int64) (*model.ReferralStatus, error)
	RedeemReferralCode(ctx context.Context, redeemerID int64, code string) error
	ClaimReferralReward(ctx context.Context, userID int64) error
}

// Handler реализует HTTP-обработчики API SMM-панели.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminKey       string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// adminKey защищает админские маршруты платежей; пустой ключ их отключает.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, adminKey string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminKey:       adminKey,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, errorResponse{Error: msg})
}

// userIDFromRequest извлекает пользователя из контекста запроса,
// отвечая 401 при его отсутствии.
func userIDFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	}
	return userID, ok
}

type accountResponse struct {
	ID                int64  `json:"id"`
	UID               string `json:"uid"`
	InstagramUsername string `json:"instagramUsername"`
	WalletBalance     string `json:"walletBalance"`
	BonusClaimed      bool   `json:"bonusClaimed"`
}

func newAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:                a.ID,
		UID:               a.UID,
		InstagramUsername: a.InstagramUsername,
		WalletBalance:     a.WalletBalance.StringFixed(2),
		BonusClaimed:      a.BonusClaimed,
	}
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.GetServices(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	InstagramUsername string `json:"instagramUsername"`
	Password          string `json:"password"`
	ReferralCode      string `json:"referralCode"`
}

type loginResponse struct {
	Success bool            `json:"success"`
	User    accountResponse `json:"user"`
}

// Login выполняет вход по данным Instagram, создавая аккаунт при первом
// обращении, и устанавливает cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid login data")
		return
	}

	account, err := h.service.Login(r.Context(), req.InstagramUsername, req.Password, req.ReferralCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, service.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, "Invalid Instagram username")
		case errors.Is(err, service.ErrInvalidReferralCode):
			writeError(w, http.StatusBadRequest, "Invalid referral code format")
		case errors.Is(err, service.ErrSelfReferral):
			writeError(w, http.StatusBadRequest, "You cannot use your own referral code.")
		case errors.Is(err, repository.ErrReferralNotFound):
			writeError(w, http.StatusBadRequest, "Invalid referral code")
		case errors.Is(err, repository.ErrAlreadyRedeemed):
			writeError(w, http.StatusBadRequest, "Referral code already used")
		default:
			h.logger.Error("login error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	h.authMiddleware.SetAuthCookie(w, account.ID)
	writeJSON(w, http.StatusOK, loginResponse{Success: true, User: newAccountResponse(account)})
}

// Logout сбрасывает cookie сессии.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetUser возвращает аккаунт текущего пользователя.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

type serviceResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Rate         string `json:"rate"`
	MinOrder     int    `json:"minOrder"`
	MaxOrder     int    `json:"maxOrder"`
	DeliveryTime string `json:"deliveryTime"`
	Active       bool   `json:"active"`
}

// GetServices возвращает каталог услуг.
func (h *Handler) GetServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.GetServices(r.Context())
	if err != nil {
		h.logger.Error("get services error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	resp := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		resp = append(resp, serviceResponse{
			ID:           s.ID,
			Name:         s.Name,
			Category:     s.Category,
			Rate:         s.Rate.StringFixed(2),
			MinOrder:     s.MinOrder,
			MaxOrder:     s.MaxOrder,
			DeliveryTime: s.DeliveryTime,
			Active:       s.Active,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type orderRequest struct {
	ServiceName       string `json:"serviceName"`
	InstagramUsername string `json:"instagramUsername"`
	Quantity          int    `json:"quantity"`
}

type orderResponse struct {
	ID                int64  `json:"id"`
	OrderID           string `json:"orderId"`
	ServiceName       string `json:"serviceName"`
	InstagramUsername string `json:"instagramUsername"`
	Quantity          int    `json:"quantity"`
	Price             string `json:"price"`
	Status            string `json:"status"`
	CreatedAt         string `json:"createdAt"`
}

func newOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:                o.ID,
		OrderID:           o.OrderID,
		ServiceName:       o.ServiceName,
		InstagramUsername: o.InstagramUsername,
		Quantity:          o.Quantity,
		Price:             o.Price.StringFixed(2),
		Status:            string(o.Status),
		CreatedAt:         o.CreatedAt.Format(time.RFC3339),
	}
}

// CreateOrder создаёт заказ. Цена вычисляется сервером по каталожному
// тарифу и атомарно списывается с кошелька.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order data")
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), userID, req.ServiceName, req.InstagramUsername, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity),
			errors.Is(err, service.ErrInvalidTarget),
			errors.Is(err, service.ErrBelowMinimum),
			errors.Is(err, service.ErrOutOfRange),
			errors.Is(err, service.ErrServiceInactive):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrInsufficientBalance):
			writeError(w, http.StatusBadRequest, "Insufficient wallet balance")
		case errors.Is(err, repository.ErrServiceNotFound):
			writeError(w, http.StatusNotFound, "Service not found")
		case errors.Is(err, repository.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("create order error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": newOrderResponse(order)})
}

// GetOrders возвращает заказы текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type paymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	UTRNumber     string          `json:"utrNumber"`
	PaymentMethod string          `json:"paymentMethod"`
}

// Токен действия намеренно не попадает в ответы API:
// он предназначен только для кнопок в админском чате.
type paymentResponse struct {
	ID            int64  `json:"id"`
	Amount        string `json:"amount"`
	UTRNumber     string `json:"utrNumber"`
	PaymentMethod string `json:"paymentMethod"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
}

func newPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		Amount:        p.Amount.StringFixed(2),
		UTRNumber:     p.UTRNumber,
		PaymentMethod: p.PaymentMethod,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

// CreatePayment создаёт заявку на пополнение кошелька.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment data")
		return
	}

	payment, err := h.service.RequestTopUp(r.Context(), userID, req.Amount, req.UTRNumber, req.PaymentMethod)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBelowMinimum),
			errors.Is(err, service.ErrInvalidUTR):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrDuplicateUTR):
			writeError(w, http.StatusConflict, "UTR number already submitted")
		case errors.Is(err, repository.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("create payment error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "payment": newPaymentResponse(payment)})
}

// GetPayments возвращает заявки на пополнение текущего пользователя.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	payments, err := h.service.GetPaymentsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get payments error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, newPaymentResponse(&payments[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ClaimBonus зачисляет одноразовый приветственный бонус.
func (h *Handler) ClaimBonus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	newBalance, err := h.service.ClaimBonus(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBonusClaimed):
			writeError(w, http.StatusBadRequest, "Bonus already claimed")
		case errors.Is(err, repository.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("claim bonus error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"newBalance": newBalance.StringFixed(2),
		"message":    "₹10 bonus claimed successfully!",
	})
}

type referralStatusResponse struct {
	ReferralCode          string `json:"referralCode"`
	ReferralCount         int    `json:"referralCount"`
	IsEligibleForDiscount bool   `json:"isEligibleForDiscount"`
	HasClaimedDiscount    bool   `json:"hasClaimedDiscount"`
}

// GetReferrals возвращает сводку реферальной программы текущего пользователя.
func (h *Handler) GetReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetReferralStatus(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("get referrals error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, referralStatusResponse{
		ReferralCode:          status.ReferralCode,
		ReferralCount:         status.ReferralCount,
		IsEligibleForDiscount: status.Eligible,
		HasClaimedDiscount:    status.HasClaimed,
	})
}

type useReferralRequest struct {
	ReferralCode string `json:"referralCode"`
}

// UseReferral применяет чужой реферальный код от имени текущего пользователя.
func (h *Handler) UseReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	var req useReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid referral data")
		return
	}

	if err := h.service.RedeemReferralCode(r.Context(), userID, req.ReferralCode); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidReferralCode):
			writeError(w, http.StatusBadRequest, "Invalid referral code format")
		case errors.Is(err, service.ErrSelfReferral):
			writeError(w, http.StatusBadRequest, "You cannot use your own referral code.")
		case errors.Is(err, repository.ErrReferralNotFound):
			writeError(w, http.StatusBadRequest, "Invalid referral code")
		case errors.Is(err, repository.ErrAlreadyRedeemed):
			writeError(w, http.StatusBadRequest, "Referral code already used")
		default:
			h.logger.Error("use referral error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "Failed to use referral code")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Referral code applied successfully",
	})
}

// ClaimReferralReward выдаёт реферальную скидку после пяти приглашений.
func (h *Handler) ClaimReferralReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.ClaimReferralReward(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, service.ErrNotEligible):
			writeError(w, http.StatusBadRequest, "Not enough referrals to claim reward")
		case errors.Is(err, repository.ErrDiscountClaimed):
			writeError(w, http.StatusBadRequest, "Discount already claimed")
		case errors.Is(err, repository.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("claim reward error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Discount reward claimed successfully!",
	})
}

// adminOnly пропускает запрос только с верным админским ключом в заголовке.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminKey == "" || !hmac.Equal([]byte(r.Header.Get("X-Admin-Key")), []byte(h.adminKey)) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ResolvePayment применяет решение администратора по платежу из URL.
func (h *Handler) ResolvePayment(status model.PaymentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment id")
			return
		}

		payment, err := h.service.ResolvePayment(r.Context(), paymentID, status)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrPaymentNotFound):
				writeError(w, http.StatusNotFound, "Payment not found")
			case errors.Is(err, repository.ErrPaymentResolved):
				writeError(w, http.StatusConflict, "Payment already resolved")
			default:
				h.logger.Error("resolve payment error", zap.Error(err), zap.Int64("paymentID", paymentID))
				writeError(w, http.StatusInternalServerError, "Server error")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "payment": newPaymentResponse(payment)})
	}
}
