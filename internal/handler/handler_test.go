package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bikerent-system/internal/model"
	"github.com/mmeshcher/bikerent-system/internal/repository"
	"github.com/mmeshcher/bikerent-system/internal/service"
)

type stubService struct {
	startRental *model.Rental
	startErr    error

	returnRental *model.Rental
	returnErr    error

	registered  *model.Rider
	registerErr error

	rider    *model.Rider
	riderErr error

	allowed    bool
	allowedErr error

	card    *model.CreditCard
	cardErr error

	restoreErr error
}

func (s *stubService) StartRental(ctx context.Context, riderID, startLockID int64) (*model.Rental, error) {
	return s.startRental, s.startErr
}

func (s *stubService) ReturnRental(ctx context.Context, bicycleID, endLockID int64) (*model.Rental, error) {
	return s.returnRental, s.returnErr
}

func (s *stubService) RegisterRider(ctx context.Context, nr service.NewRider) (*model.Rider, error) {
	return s.registered, s.registerErr
}

func (s *stubService) ActivateRider(ctx context.Context, id int64) (*model.Rider, error) {
	return s.rider, s.riderErr
}

func (s *stubService) GetRider(ctx context.Context, id int64) (*model.Rider, error) {
	return s.rider, s.riderErr
}

func (s *stubService) AllowedToRent(ctx context.Context, id int64) (bool, error) {
	return s.allowed, s.allowedErr
}

func (s *stubService) GetCreditCard(ctx context.Context, riderID int64) (*model.CreditCard, error) {
	return s.card, s.cardErr
}

func (s *stubService) Restore(ctx context.Context) error {
	return s.restoreErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	return NewHandler(svc, logger)
}

func TestStartRental_Success(t *testing.T) {
	chargeID := int64(500)
	svc := &stubService{
		startRental: &model.Rental{
			ID:          1,
			RiderID:     1,
			BicycleID:   100,
			StartLockID: 10,
			StartTime:   time.Now().UTC(),
			ChargeID:    &chargeID,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(rentRequest{RiderID: 1, StartLockID: 10})

	req := httptest.NewRequest(http.MethodPost, "/aluguel", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.StartRental(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp rentalResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.BicycleID != 100 || resp.ChargeID == nil || *resp.ChargeID != 500 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.EndTime != nil {
		t.Fatalf("endTime must be absent for an open rental")
	}
}

func TestStartRental_BusinessRejections(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rider not eligible", service.ErrRiderNotEligible},
		{"rider already renting", service.ErrRiderAlreadyRenting},
		{"bicycle unavailable", service.ErrBicycleUnavailable},
		{"payment declined", service.ErrPaymentDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{startErr: tt.err})

			body, _ := json.Marshal(rentRequest{RiderID: 1, StartLockID: 10})
			req := httptest.NewRequest(http.MethodPost, "/aluguel", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			h.StartRental(rec, req)

			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
			}
		})
	}
}

func TestStartRental_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "{"},
		{"missing ids", `{}`},
		{"negative rider", `{"riderId":-1,"startLockId":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/aluguel", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()

			h.StartRental(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestReturnRental_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{returnErr: service.ErrNoActiveRental})

	body, _ := json.Marshal(returnRequest{BicycleID: 100, EndLockID: 20})
	req := httptest.NewRequest(http.MethodPost, "/devolucao", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ReturnRental(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestReturnRental_Success(t *testing.T) {
	now := time.Now().UTC()
	endLock := int64(20)
	chargeID := int64(700)
	svc := &stubService{
		returnRental: &model.Rental{
			ID:          1,
			RiderID:     1,
			BicycleID:   100,
			StartLockID: 10,
			StartTime:   now.Add(-3 * time.Hour),
			EndLockID:   &endLock,
			EndTime:     &now,
			ChargeID:    &chargeID,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(returnRequest{BicycleID: 100, EndLockID: 20})
	req := httptest.NewRequest(http.MethodPost, "/devolucao", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ReturnRental(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp rentalResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EndTime == nil || resp.EndLockID == nil || *resp.EndLockID != 20 {
		t.Fatalf("closed rental response must carry end fields: %+v", resp)
	}
}

func TestRegisterRider_Created(t *testing.T) {
	svc := &stubService{
		registered: &model.Rider{
			ID:     7,
			Name:   "Jose",
			Email:  "jose@example.org",
			Status: model.RiderStatusAwaitingConfirmation,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(riderRequest{
		Name:       "Jose",
		Email:      "jose@example.org",
		CardNumber: "79927398713",
	})
	req := httptest.NewRequest(http.MethodPost, "/ciclista", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterRider(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	var resp riderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(model.RiderStatusAwaitingConfirmation) {
		t.Fatalf("status = %s, want AWAITING_CONFIRMATION", resp.Status)
	}
}

func TestRegisterRider_CardDeclined(t *testing.T) {
	h := newTestHandler(t, &stubService{registerErr: service.ErrCardDeclined})

	body, _ := json.Marshal(riderRequest{
		Name:       "Jose",
		Email:      "jose@example.org",
		CardNumber: "79927398710",
	})
	req := httptest.NewRequest(http.MethodPost, "/ciclista", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterRider(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestGetCreditCard_MasksNumber(t *testing.T) {
	svc := &stubService{
		card: &model.CreditCard{
			RiderID:  1,
			Holder:   "Jose Silva",
			Number:   "4539578763621486",
			Validity: "12/2027",
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/cartaoDeCredito/1", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp cardResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Number != "************1486" {
		t.Fatalf("number = %q, want masked with last four digits", resp.Number)
	}
	if resp.Holder != "Jose Silva" {
		t.Fatalf("holder = %q, want Jose Silva", resp.Holder)
	}
}

func TestGetCreditCard_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{cardErr: repository.ErrCardNotFound})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/cartaoDeCredito/1", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRouter_RoutesAndStatuses(t *testing.T) {
	svc := &stubService{
		rider:   &model.Rider{ID: 1, Name: "Jose", Email: "jose@example.org", Status: model.RiderStatusActive},
		allowed: true,
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/ciclista/1", http.StatusOK},
		{http.MethodGet, "/ciclista/1/permiteAluguel", http.StatusOK},
		{http.MethodPost, "/ciclista/1/ativar", http.StatusOK},
		{http.MethodGet, "/restaurarDados", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodDelete, "/aluguel", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Fatalf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestAllowedToRent_ResponseBody(t *testing.T) {
	h := newTestHandler(t, &stubService{allowed: true, rider: &model.Rider{ID: 1}})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/ciclista/1/permiteAluguel", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var allowed bool
	if err := json.NewDecoder(rec.Body).Decode(&allowed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !allowed {
		t.Fatalf("allowed = false, want true")
	}
}
