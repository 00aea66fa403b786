// Package handler содержит HTTP-обработчики API сервиса проката велосипедов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/bikerent-system/internal/model"
	"github.com/mmeshcher/bikerent-system/internal/repository"
	"github.com/mmeshcher/bikerent-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	StartRental(ctx context.Context, riderID, startLockID int64) (*model.Rental, error)
	ReturnRental(ctx context.Context, bicycleID, endLockID int64) (*model.Rental, error)
	RegisterRider(ctx context.Context, nr service.NewRider) (*model.Rider, error)
	ActivateRider(ctx context.Context, id int64) (*model.Rider, error)
	GetRider(ctx context.Context, id int64) (*model.Rider, error)
	AllowedToRent(ctx context.Context, id int64) (bool, error)
	GetCreditCard(ctx context.Context, riderID int64) (*model.CreditCard, error)
	Restore(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API сервиса проката велосипедов.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type rentRequest struct {
	RiderID     int64 `json:"riderId"`
	StartLockID int64 `json:"startLockId"`
}

type returnRequest struct {
	BicycleID int64 `json:"bicycleId"`
	EndLockID int64 `json:"endLockId"`
}

type rentalResponse struct {
	ID          int64   `json:"id"`
	RiderID     int64   `json:"riderId"`
	BicycleID   int64   `json:"bicycleId"`
	StartLockID int64   `json:"startLockId"`
	StartTime   string  `json:"startTime"`
	EndLockID   *int64  `json:"endLockId,omitempty"`
	EndTime     *string `json:"endTime,omitempty"`
	ChargeID    *int64  `json:"chargeId,omitempty"`
}

func toRentalResponse(r *model.Rental) rentalResponse {
	resp := rentalResponse{
		ID:          r.ID,
		RiderID:     r.RiderID,
		BicycleID:   r.BicycleID,
		StartLockID: r.StartLockID,
		StartTime:   r.StartTime.Format(time.RFC3339),
		EndLockID:   r.EndLockID,
		ChargeID:    r.ChargeID,
	}
	if r.EndTime != nil {
		et := r.EndTime.Format(time.RFC3339)
		resp.EndTime = &et
	}
	return resp
}

// StartRental обрабатывает запрос на аренду велосипеда.
func (h *Handler) StartRental(w http.ResponseWriter, r *http.Request) {
	var req rentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.RiderID <= 0 || req.StartLockID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rental, err := h.service.StartRental(r.Context(), req.RiderID, req.StartLockID)
	if err != nil {
		if isRentalRejection(err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("start rental error", zap.Error(err), zap.Int64("riderID", req.RiderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

func isRentalRejection(err error) bool {
	return errors.Is(err, service.ErrRiderNotEligible) ||
		errors.Is(err, service.ErrRiderAlreadyRenting) ||
		errors.Is(err, service.ErrBicycleUnavailable) ||
		errors.Is(err, service.ErrPaymentDeclined)
}

// ReturnRental обрабатывает запрос на возврат велосипеда.
func (h *Handler) ReturnRental(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.BicycleID <= 0 || req.EndLockID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rental, err := h.service.ReturnRental(r.Context(), req.BicycleID, req.EndLockID)
	if err != nil {
		// Отсутствие открытой аренды — это 404, а не нарушение бизнес-правила.
		if errors.Is(err, service.ErrNoActiveRental) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("return rental error", zap.Error(err), zap.Int64("bicycleID", req.BicycleID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

type riderRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	CardHolder   string `json:"cardHolder"`
	CardNumber   string `json:"cardNumber"`
	CardValidity string `json:"cardValidity"`
	CardCVV      string `json:"cardCvv"`
}

type riderResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

func toRiderResponse(r *model.Rider) riderResponse {
	return riderResponse{
		ID:     r.ID,
		Name:   r.Name,
		Email:  r.Email,
		Status: string(r.Status),
	}
}

// RegisterRider обрабатывает регистрацию нового велосипедиста.
func (h *Handler) RegisterRider(w http.ResponseWriter, r *http.Request) {
	var req riderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Email == "" || req.CardNumber == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rider, err := h.service.RegisterRider(r.Context(), service.NewRider{
		Name:         req.Name,
		Email:        req.Email,
		CardHolder:   req.CardHolder,
		CardNumber:   req.CardNumber,
		CardValidity: req.CardValidity,
		CardCVV:      req.CardCVV,
	})
	if err != nil {
		if errors.Is(err, service.ErrCardDeclined) || errors.Is(err, repository.ErrRiderExists) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("register rider error", zap.Error(err), zap.String("email", req.Email))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, toRiderResponse(rider))
}

// ActivateRider переводит велосипедиста в активный статус.
func (h *Handler) ActivateRider(w http.ResponseWriter, r *http.Request) {
	id, ok := h.riderIDFromURL(w, r)
	if !ok {
		return
	}

	rider, err := h.service.ActivateRider(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRiderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("activate rider error", zap.Error(err), zap.Int64("riderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toRiderResponse(rider))
}

// GetRider возвращает данные велосипедиста.
func (h *Handler) GetRider(w http.ResponseWriter, r *http.Request) {
	id, ok := h.riderIDFromURL(w, r)
	if !ok {
		return
	}

	rider, err := h.service.GetRider(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRiderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get rider error", zap.Error(err), zap.Int64("riderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toRiderResponse(rider))
}

// AllowedToRent сообщает, может ли велосипедист взять велосипед.
func (h *Handler) AllowedToRent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.riderIDFromURL(w, r)
	if !ok {
		return
	}

	allowed, err := h.service.AllowedToRent(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRiderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("allowed to rent error", zap.Error(err), zap.Int64("riderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, allowed)
}

type cardResponse struct {
	Holder   string `json:"holder"`
	Number   string `json:"number"`
	Validity string `json:"validity"`
}

// GetCreditCard возвращает карту велосипедиста. Номер карты маскируется,
// наружу уходят только последние четыре цифры.
func (h *Handler) GetCreditCard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.riderIDFromURL(w, r)
	if !ok {
		return
	}

	card, err := h.service.GetCreditCard(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRiderNotFound) || errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get credit card error", zap.Error(err), zap.Int64("riderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, cardResponse{
		Holder:   card.Holder,
		Number:   maskCardNumber(card.Number),
		Validity: card.Validity,
	})
}

func maskCardNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// Restore восстанавливает тестовый набор данных. Служебный эндпоинт
// для деплоя и приёмочных тестов.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Restore(r.Context()); err != nil {
		h.logger.Error("restore error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("restored"))
}

// Status возвращает признак работоспособности сервиса.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("bikerent service is up"))
}

func (h *Handler) riderIDFromURL(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "idCiclista"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
