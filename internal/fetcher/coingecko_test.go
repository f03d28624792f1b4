package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestFetchUSDRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/simple/price" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("ids") != "bittensor" {
			t.Fatalf("ids = %q", r.URL.Query().Get("ids"))
		}
		fmt.Fprint(w, `{"bittensor":{"usd":412.35}}`)
	}))
	defer srv.Close()

	client := NewCoingecko(CoingeckoOptions{BaseURL: srv.URL}, zerolog.Nop())
	rate, err := client.FetchUSDRate(context.Background())
	if err != nil {
		t.Fatalf("FetchUSDRate: %v", err)
	}
	if want := decimal.RequireFromString("412.35"); !rate.Equal(want) {
		t.Fatalf("rate = %s, want %s", rate, want)
	}
}

func TestFetchUSDRateMissingCoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewCoingecko(CoingeckoOptions{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := client.FetchUSDRate(context.Background()); err == nil {
		t.Fatal("missing coin entry must be an error")
	}
}

func TestFetchUSDRateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewCoingecko(CoingeckoOptions{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := client.FetchUSDRate(context.Background()); err == nil {
		t.Fatal("502 must be an error")
	}
}
