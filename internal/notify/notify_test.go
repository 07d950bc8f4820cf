package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cwsf/cwsf/internal/config"
)

func TestDisabledNotifierSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(config.GotifyConfig{}, nil)
	n.SendError(context.Background(), Failure{SiteName: "example", ErrorMessage: "boom"})
	if called {
		t.Fatal("expected a disabled notifier to make no request")
	}
}

func TestSendErrorPostsToMessageEndpointWithKeyHeader(t *testing.T) {
	var gotPath, gotKey string
	var payload gotifyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Gotify-Key")
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.GotifyConfig{ServerURL: srv.URL, AppToken: "secret-token"}, nil)
	n.SendError(context.Background(), Failure{SiteName: "example", URL: "https://example.com", ErrorMessage: "timeout"})

	if gotPath != "/message" {
		t.Fatalf("expected POST to /message, got %q", gotPath)
	}
	if gotKey != "secret-token" {
		t.Fatalf("expected X-Gotify-Key header, got %q", gotKey)
	}
	if payload.Priority != defaultPriority {
		t.Fatalf("expected default priority %d, got %d", defaultPriority, payload.Priority)
	}
}

func TestSendSummarySkippedWhenNoFailures(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(config.GotifyConfig{ServerURL: srv.URL, AppToken: "token"}, nil)
	n.SendSummary(context.Background(), Summary{TotalSites: 3, SitesSucceeded: 3, SitesFailed: 0})
	if called {
		t.Fatal("expected no notification when sites_failed is zero")
	}
}

func TestSendSummarySentWhenFailuresPresent(t *testing.T) {
	var payload gotifyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.GotifyConfig{ServerURL: srv.URL, AppToken: "token"}, nil)
	n.SendSummary(context.Background(), Summary{
		TotalSites: 2, SitesSucceeded: 1, SitesFailed: 1,
		FailedSites: map[string]string{"broken-site": "timeout after 3 retries"},
	})
	if payload.Title != "CWSF Run Summary (Failures Detected)" {
		t.Fatalf("unexpected title: %q", payload.Title)
	}
}

func TestNotifierSwallowsUnreachableServerErrors(t *testing.T) {
	n := New(config.GotifyConfig{ServerURL: "http://127.0.0.1:0", AppToken: "token"}, nil)
	n.SendError(context.Background(), Failure{SiteName: "example", ErrorMessage: "boom"})
}
