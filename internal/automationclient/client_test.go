package automationclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProvisionSendsServiceToken(t *testing.T) {
	var gotHeader string
	var gotBody ProvisionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/provision" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotHeader = r.Header.Get("X-Service-Token")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(ProvisionResponse{Success: true, ServiceURL: "https://bot.example.com"})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "secret-token", 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.Provision(context.Background(), ProvisionRequest{
		UserAutomationID: "42",
		UserID:           "7",
		BotToken:         "bot-abc",
		DemoTokens:       5,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success")
	}
	if gotHeader != "secret-token" {
		t.Fatalf("expected service token header, got %q", gotHeader)
	}
	if gotBody.UserAutomationID != "42" || gotBody.DemoTokens != 5 {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestUnauthorizedMapsToError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "wrong", 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Health(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEmptyBaseURLRejected(t *testing.T) {
	if _, err := New("   ", "token", time.Second); !errors.Is(err, ErrEmptyBaseURL) {
		t.Fatalf("expected ErrEmptyBaseURL, got %v", err)
	}
}

func TestTimeoutSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "token", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Health(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestUpstreamErrorIncludesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kb unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "token", 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.KBStatus(context.Background(), "42")
	if !errors.Is(err, ErrUpstreamError) {
		t.Fatalf("expected ErrUpstreamError, got %v", err)
	}
}
