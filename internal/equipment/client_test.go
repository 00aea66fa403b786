package equipment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/bikerent-system/internal/model"
)

func TestBicycleAtLock_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/tranca/10/bicicleta" {
			t.Fatalf("path = %s, want /tranca/10/bicicleta", r.URL.Path)
		}

		resp := bicycleResponse{
			ID:     100,
			Model:  "Caloi 300",
			Status: "AVAILABLE",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, time.Second, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bike, err := client.BicycleAtLock(ctx, 10)
	if err != nil {
		t.Fatalf("BicycleAtLock error: %v", err)
	}
	if bike == nil || bike.ID != 100 {
		t.Fatalf("unexpected bicycle: %+v", bike)
	}
	if bike.Status != model.BicycleStatusAvailable {
		t.Fatalf("status = %s, want AVAILABLE", bike.Status)
	}
}

func TestBicycleAtLock_EmptyLock(t *testing.T) {
	for _, code := range []int{http.StatusNoContent, http.StatusNotFound, http.StatusUnprocessableEntity} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		client := NewClient(ts.URL, time.Second, false)

		bike, err := client.BicycleAtLock(context.Background(), 10)
		if err != nil {
			t.Fatalf("status %d: BicycleAtLock error: %v", code, err)
		}
		if bike != nil {
			t.Fatalf("status %d: expected no bicycle, got %+v", code, bike)
		}

		ts.Close()
	}
}

func TestBicycleAtLock_ServerErrorWithoutFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, time.Second, false)

	_, err := client.BicycleAtLock(context.Background(), 10)
	if err == nil {
		t.Fatalf("expected error without fallback")
	}
}

func TestBicycleAtLock_ServerErrorWithFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, time.Second, true)

	bike, err := client.BicycleAtLock(context.Background(), 10)
	if err != nil {
		t.Fatalf("BicycleAtLock error: %v", err)
	}
	if bike == nil || bike.Status != model.BicycleStatusAvailable {
		t.Fatalf("expected synthetic available bicycle, got %+v", bike)
	}
	if bike.ID != fallbackBicycleID {
		t.Fatalf("fallback bicycle id = %d, want %d", bike.ID, fallbackBicycleID)
	}
}

func TestBicycleAtLock_UnreachableWithFallback(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond, true)

	bike, err := client.BicycleAtLock(context.Background(), 10)
	if err != nil {
		t.Fatalf("BicycleAtLock error: %v", err)
	}
	if bike == nil || bike.Status != model.BicycleStatusAvailable {
		t.Fatalf("expected synthetic available bicycle, got %+v", bike)
	}
}

func TestLock_SendsBicycleID(t *testing.T) {
	var gotPath string
	var gotBody map[string]int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, time.Second, false)

	if err := client.Lock(context.Background(), 20, 100); err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if gotPath != "/tranca/20/trancar" {
		t.Fatalf("path = %s, want /tranca/20/trancar", gotPath)
	}
	if gotBody["bicicleta"] != 100 {
		t.Fatalf("body bicicleta = %d, want 100", gotBody["bicicleta"])
	}
}

func TestSetBicycleStatus(t *testing.T) {
	var gotPath string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, time.Second, false)

	if err := client.SetBicycleStatus(context.Background(), 100, model.BicycleStatusAvailable); err != nil {
		t.Fatalf("SetBicycleStatus error: %v", err)
	}
	if gotPath != "/bicicleta/100/status/AVAILABLE" {
		t.Fatalf("path = %s, want /bicicleta/100/status/AVAILABLE", gotPath)
	}
}

func TestUnlock_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, time.Second, false)

	if err := client.Unlock(context.Background(), 20); err == nil {
		t.Fatalf("expected error for 422 response")
	}
}
