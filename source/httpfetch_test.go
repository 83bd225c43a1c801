package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentivane/sentivane/errors"
)

func TestHTTPFetcher_TemplateAndHeaders(t *testing.T) {
	var gotPath, gotAuth, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"close": 4780.5}`))
	}))
	defer server.Close()

	t.Setenv("SENTIVANE_TEST_KEY", "secret-token")
	fetcher := NewHTTPFetcher(server.URL+"/prices/{date}/{entity}", "SENTIVANE_TEST_KEY")

	payload, err := fetcher.Fetch(context.Background(), Request{Date: "2024-01-15", EntityID: "SPX"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(payload) != `{"close": 4780.5}` {
		t.Errorf("Unexpected payload: %s", payload)
	}
	if gotPath != "/prices/2024-01-15/SPX" {
		t.Errorf("Template not expanded: %s", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Expected bearer token, got %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Expected JSON accept header, got %q", gotAccept)
	}
}

func TestHTTPFetcher_StatusTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusNotFound, KindFatal},
		{http.StatusBadRequest, KindFatal},
	}

	for _, tt := range tests {
		status := tt.status
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		fetcher := NewHTTPFetcher(server.URL, "")
		_, err := fetcher.Fetch(context.Background(), Request{Date: "2024-01-15"})
		server.Close()

		if err == nil {
			t.Errorf("Status %d: expected error", status)
			continue
		}
		if got := KindOf(err); got != tt.want {
			t.Errorf("Status %d: expected %s, got %s (%v)", status, tt.want, got, err)
		}
	}
}

func TestHTTPFetcher_RateLimitSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL, "")
	_, err := fetcher.Fetch(context.Background(), Request{Date: "2024-01-15"})
	if !errors.Is(err, errors.ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited sentinel, got %v", err)
	}
}

func TestHTTPFetcher_InvalidJSONIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance page</html>"))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL, "")
	_, err := fetcher.Fetch(context.Background(), Request{Date: "2024-01-15"})
	if KindOf(err) != KindMalformed {
		t.Errorf("Expected malformed, got %v", err)
	}
}

func TestHTTPFetcher_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	fetcher := NewHTTPFetcher(server.URL, "")
	_, err := fetcher.Fetch(context.Background(), Request{Date: "2024-01-15"})
	if KindOf(err) != KindTransient {
		t.Errorf("Expected transient, got %v", err)
	}
}

func TestHTTPFetcher_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL, "")
	if _, err := fetcher.Fetch(context.Background(), Request{Date: "2024-01-15"}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "" {
		t.Errorf("Expected no auth header, got %q", gotAuth)
	}
}
