// Package handler содержит HTTP-обработчики API сервиса доставки воды.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/temirlan-k/water-microservice/internal/middleware"
	"github.com/temirlan-k/water-microservice/internal/model"
	"github.com/temirlan-k/water-microservice/internal/repository"
	"github.com/temirlan-k/water-microservice/internal/service"
	"github.com/temirlan-k/water-microservice/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterClient(ctx context.Context, u model.User) error
	RegisterCourier(ctx context.Context, c model.Courier) error
	ClientProfile(ctx context.Context, id int64) (*model.User, error)
	CourierProfile(ctx context.Context, id int64) (*model.Courier, error)
	UpdateResidents(ctx context.Context, userID int64, adults, children, renters int) (float64, error)
	CreditBonus(ctx context.Context, userID int64, adults, children, renters int) (float64, error)
	DeductBonus(ctx context.Context, userID int64, sum float64) (float64, error)
	Balance(ctx context.Context, userID int64) (float64, error)
	PlaceOrder(ctx context.Context, userID int64, description string) (*model.Order, *model.Courier, error)
	ActiveOrder(ctx context.Context, userID int64) (*model.Order, error)
	IssueCode(ctx context.Context, userID int64) (*model.RedemptionCode, error)
	RedeemCode(ctx context.Context, code string, courierID int64) (int64, float64, error)
	ForwardSupport(ctx context.Context, fromID int64, text string) error
}

// Handler реализует HTTP-обработчики API сервиса доставки воды.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type registerClientRequest struct {
	IIN      string `json:"iin"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	District string `json:"district"`
}

// RegisterClient обрабатывает регистрацию клиента или обновление его данных.
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Address == "" || req.Phone == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidIIN(req.IIN) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	err := h.service.RegisterClient(r.Context(), model.User{
		ID:       chatID,
		IIN:      req.IIN,
		Address:  req.Address,
		Phone:    req.Phone,
		District: req.District,
	})
	if err != nil {
		if errors.Is(err, service.ErrAlreadyCourier) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register client error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type registerCourierRequest struct {
	FullName string `json:"full_name"`
	IIN      string `json:"iin"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Email    string `json:"email"`
	District string `json:"district"`
}

// RegisterCourier обрабатывает регистрацию курьера.
func (h *Handler) RegisterCourier(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req registerCourierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.FullName == "" || req.Phone == "" || req.Address == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidIIN(req.IIN) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	err := h.service.RegisterCourier(r.Context(), model.Courier{
		TelegramID: chatID,
		FullName:   req.FullName,
		IIN:        req.IIN,
		Phone:      req.Phone,
		Address:    req.Address,
		Email:      req.Email,
		District:   req.District,
	})
	if err != nil {
		if errors.Is(err, service.ErrAlreadyClient) || errors.Is(err, repository.ErrCourierExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register courier error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type clientProfileResponse struct {
	IIN      string `json:"iin"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	District string `json:"district"`
}

// ClientProfile возвращает профиль текущего клиента.
func (h *Handler) ClientProfile(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	user, err := h.service.ClientProfile(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("client profile error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, clientProfileResponse{
		IIN:      user.IIN,
		Address:  user.Address,
		Phone:    user.Phone,
		District: user.District,
	})
}

type courierProfileResponse struct {
	FullName string `json:"full_name"`
	IIN      string `json:"iin"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Email    string `json:"email"`
	District string `json:"district"`
}

// CourierProfile возвращает профиль текущего курьера.
func (h *Handler) CourierProfile(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	courier, err := h.service.CourierProfile(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrCourierNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("courier profile error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, courierProfileResponse{
		FullName: courier.FullName,
		IIN:      courier.IIN,
		Phone:    courier.Phone,
		Address:  courier.Address,
		Email:    courier.Email,
		District: courier.District,
	})
}

type residentsRequest struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
	Renters  int `json:"renters"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// UpdateResidents перезаписывает данные о проживающих и пересчитывает бонусы.
func (h *Handler) UpdateResidents(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req residentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Adults < 0 || req.Children < 0 || req.Renters < 0 {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	balance, err := h.service.UpdateResidents(r.Context(), chatID, req.Adults, req.Children, req.Renters)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update residents error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

// GetBalance возвращает бонусный баланс текущего клиента.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.Balance(r.Context(), chatID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

// TopUpBonus начисляет бонусы за дополнительных проживающих.
func (h *Handler) TopUpBonus(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req residentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Adults < 0 || req.Children < 0 || req.Renters < 0 {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	balance, err := h.service.CreditBonus(r.Context(), chatID, req.Adults, req.Children, req.Renters)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("top up bonus error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type deductRequest struct {
	Sum float64 `json:"sum"`
}

// DeductBonus списывает бонусы вручную. Баланс не уходит ниже нуля.
func (h *Handler) DeductBonus(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Sum <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.DeductBonus(r.Context(), chatID, req.Sum)
	if err != nil {
		h.logger.Error("deduct bonus error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type placeOrderRequest struct {
	Description string `json:"description"`
}

type orderCourierResponse struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	District string `json:"district"`
}

type placeOrderResponse struct {
	OrderID int64                `json:"order_id"`
	Courier orderCourierResponse `json:"courier"`
}

// PlaceOrder оформляет заказ на доставку воды.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, courier, err := h.service.PlaceOrder(r.Context(), chatID, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrNoDistrict):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrNoCourierInDistrict):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("place order error", zap.Error(err), zap.Int64("chatID", chatID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, placeOrderResponse{
		OrderID: order.ID,
		Courier: orderCourierResponse{
			FullName: courier.FullName,
			Phone:    courier.Phone,
			District: courier.District,
		},
	})
}

type orderResponse struct {
	OrderID     int64  `json:"order_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// ActiveOrder возвращает текущий заказ клиента в статусе new.
func (h *Handler) ActiveOrder(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	order, err := h.service.ActiveOrder(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNoMatchingOrder) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("active order error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, orderResponse{
		OrderID:     order.ID,
		Description: order.Description,
		Status:      string(order.Status),
		CreatedAt:   order.CreatedAt.Format(time.RFC3339),
	})
}

type issueCodeResponse struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

// IssueCode выдаёт код подтверждения для активного заказа клиента.
func (h *Handler) IssueCode(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	code, err := h.service.IssueCode(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNoMatchingOrder) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("issue code error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, issueCodeResponse{
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt.Format(time.RFC3339),
	})
}

type redeemRequest struct {
	Code string `json:"code"`
}

type redeemResponse struct {
	OrderID int64   `json:"order_id"`
	Balance float64 `json:"balance"`
}

// Redeem подтверждает доставку по коду клиента.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Code == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orderID, balance, err := h.service.RedeemCode(r.Context(), req.Code, chatID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCodeNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrCodeExpired):
			http.Error(w, http.StatusText(http.StatusGone), http.StatusGone)
		case errors.Is(err, repository.ErrNoMatchingOrder):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("redeem error", zap.Error(err), zap.Int64("courierID", chatID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, redeemResponse{
		OrderID: orderID,
		Balance: balance,
	})
}

type supportRequest struct {
	Text string `json:"text"`
}

// Support пересылает обращение пользователя в чат поддержки.
func (h *Handler) Support(w http.ResponseWriter, r *http.Request) {
	chatID, ok := middleware.GetChatIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req supportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Text == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ForwardSupport(r.Context(), chatID, req.Text); err != nil {
		if errors.Is(err, service.ErrNotifierDisabled) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("support forward error", zap.Error(err), zap.Int64("chatID", chatID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
