package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := NewClient("TEST-TOKEN", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestClient_CreatePreference(t *testing.T) {
	var gotAuth, gotIdempotency string
	var gotBody PreferenceRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("X-Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"123-abc","init_point":"https://mp.example/checkout?pref=123-abc","external_reference":"ref-1"}`))
	})

	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		Items:             []Item{{Title: "Retiro", Quantity: 1, CurrencyID: "BRL", UnitPrice: 100.99}},
		ExternalReference: "ref-1",
		Metadata:          map[string]string{"registration_id": "7"},
	})
	if err != nil {
		t.Fatalf("CreatePreference returned error: %v", err)
	}

	if gotAuth != "Bearer TEST-TOKEN" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotIdempotency == "" {
		t.Error("expected an idempotency key on POST")
	}
	if gotBody.ExternalReference != "ref-1" || len(gotBody.Items) != 1 || gotBody.Items[0].UnitPrice != 100.99 {
		t.Errorf("unexpected request body %+v", gotBody)
	}
	if gotBody.Metadata["registration_id"] != "7" {
		t.Errorf("expected metadata to be sent, got %v", gotBody.Metadata)
	}
	if pref.ID != "123-abc" || pref.InitPoint == "" || pref.ExternalReference != "ref-1" {
		t.Errorf("unexpected preference %+v", pref)
	}
}

func TestClient_UpdatePreference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/checkout/preferences/123-abc" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"123-abc","init_point":"https://mp.example/checkout?pref=123-abc"}`))
	})

	pref, err := client.UpdatePreference(context.Background(), "123-abc", PreferenceRequest{
		Items: []Item{{Title: "Retiro", Quantity: 1, CurrencyID: "BRL", UnitPrice: 105.5}},
	})
	if err != nil {
		t.Fatalf("UpdatePreference returned error: %v", err)
	}
	if pref.ID != "123-abc" {
		t.Errorf("unexpected preference %+v", pref)
	}
}

func TestClient_GetPayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/987654" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 987654,
			"status": "approved",
			"status_detail": "accredited",
			"payment_method_id": "pix",
			"payment_type_id": "bank_transfer",
			"transaction_amount": 100.99,
			"date_approved": "2024-03-01T10:00:00.000-03:00",
			"external_reference": "ref-1",
			"order": {"id": 555, "type": "mercadopago"},
			"payer": {"email": "ana@example.com"},
			"metadata": {"preference_id": "123-abc"}
		}`))
	})

	p, err := client.GetPayment(context.Background(), "987654")
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}

	if p.ID != "987654" {
		t.Errorf("expected numeric id to decode as string, got %q", p.ID)
	}
	if p.Status != "approved" || p.TransactionAmount != 100.99 || p.ExternalReference != "ref-1" {
		t.Errorf("unexpected payment %+v", p)
	}
	if p.Order.ID != "555" {
		t.Errorf("expected order id 555, got %q", p.Order.ID)
	}
	if p.PreferenceID() != "123-abc" {
		t.Errorf("expected preference id from metadata, got %q", p.PreferenceID())
	}
	if p.ProcessedAt() == nil {
		t.Error("expected processed date")
	}
	if p.DateCreated != nil {
		t.Errorf("expected missing creation date to stay nil, got %v", p.DateCreated)
	}
	if p.Payer.Email != "ana@example.com" {
		t.Errorf("unexpected payer %+v", p.Payer)
	}
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Payment not found","status":404}`))
	})

	_, err := client.GetPayment(context.Background(), "1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "Payment not found" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if apiErr.Body == "" {
		t.Error("expected raw body to be kept")
	}
}

func TestClient_GetPaymentRejectsBadID(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	if _, err := client.GetPayment(context.Background(), ""); err == nil {
		t.Error("expected error for empty id")
	}

	_, err := client.GetPayment(context.Background(), "pref-7")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected a 404 APIError for a non-numeric id, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no request, got %d", calls)
	}
}

func TestClient_BaseURLPrefix(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1, "status": "pending"}`))
	}))
	defer srv.Close()

	client, err := NewClient("TEST-TOKEN", WithBaseURL(srv.URL+"/sandbox/"))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := client.GetPayment(context.Background(), "1"); err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	if gotPath != "/sandbox/v1/payments/1" {
		t.Errorf("expected prefixed path, got %q", gotPath)
	}
}
