package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newTaostatsAgainst(srv *httptest.Server, key string) *Taostats {
	return NewTaostats(TaostatsOptions{BaseURL: srv.URL, APIKey: key}, zerolog.Nop())
}

func TestFetchStatsListEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			t.Fatalf("Authorization = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"data":[{"subnet_registration_cost":"2500000000","subnets":42}]}`)
	}))
	defer srv.Close()

	stats, err := newTaostatsAgainst(srv, "test-key").FetchStats(context.Background())
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if stats.PriceRao != 2_500_000_000 || stats.SubnetCount != 42 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFetchStatsObjectEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"subnet_registration_cost":1000000000}}`)
	}))
	defer srv.Close()

	stats, err := newTaostatsAgainst(srv, "").FetchStats(context.Background())
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if stats.PriceRao != 1_000_000_000 {
		t.Fatalf("price_rao = %d", stats.PriceRao)
	}
}

func TestFetchStatsMissingCost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[{"subnets":5}]}`)
	}))
	defer srv.Close()

	if _, err := newTaostatsAgainst(srv, "").FetchStats(context.Background()); err == nil {
		t.Fatal("missing cost field must be an error")
	}
}

func TestFetchStatsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"rate limited"}`)
	}))
	defer srv.Close()

	_, err := newTaostatsAgainst(srv, "").FetchStats(context.Background())
	if err == nil {
		t.Fatal("429 must be an error")
	}
}

func TestFetchSubnetsNormalisesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"netuid":1,"name":"root","registration_cost":"1000000000","registration_timestamp":"2025-06-01T14:00:00+02:00"},
			{"subnet_id":2,"registration_cost":2000000000},
			{"name":"no id, skipped"}
		]}`)
	}))
	defer srv.Close()

	subnets, err := newTaostatsAgainst(srv, "").FetchSubnets(context.Background())
	if err != nil {
		t.Fatalf("FetchSubnets: %v", err)
	}
	if len(subnets) != 2 {
		t.Fatalf("subnets = %d, want 2", len(subnets))
	}
	if subnets[0].RegistrationTimestamp != "2025-06-01T12:00:00Z" {
		t.Fatalf("timestamp not normalised: %q", subnets[0].RegistrationTimestamp)
	}
	if subnets[1].NetUID != 2 || subnets[1].RegistrationCostRao != 2_000_000_000 {
		t.Fatalf("subnet = %+v", subnets[1])
	}
}

func TestFetchHistoryPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			// Deliberately out of order: provider pages newest-first.
			fmt.Fprint(w, `{"pagination":{"total_pages":2},"data":[
				{"timestamp":"2025-02-01T00:00:00Z","subnet_registration_cost":2000000000}
			]}`)
		case 2:
			fmt.Fprint(w, `{"pagination":{"total_pages":2},"data":[
				{"timestamp":"2025-01-01T00:00:00Z","subnet_registration_cost":1000000000},
				{"timestamp":"bad","subnet_registration_cost":0}
			]}`)
		default:
			t.Fatalf("unexpected page %d", page)
		}
	}))
	defer srv.Close()

	records, err := newTaostatsAgainst(srv, "").FetchHistory(context.Background())
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (zero-cost skipped)", len(records))
	}
	if records[0].Timestamp != "2025-01-01T00:00:00Z" {
		t.Fatalf("records not sorted ascending: %+v", records)
	}
	if want := decimal.NewFromInt(2); !records[1].PriceTAO.Equal(want) {
		t.Fatalf("price_tao = %s, want %s", records[1].PriceTAO, want)
	}
}

func TestFetchHistoryPartialOnLaterPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"pagination":{"total_pages":3},"data":[
			{"timestamp":"2025-01-01T00:00:00Z","subnet_registration_cost":1000000000}
		]}`)
	}))
	defer srv.Close()

	records, err := newTaostatsAgainst(srv, "").FetchHistory(context.Background())
	if err != nil {
		t.Fatalf("partial failure should not surface an error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 from the successful page", len(records))
	}
}

func TestFetchHistoryFirstPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newTaostatsAgainst(srv, "").FetchHistory(context.Background()); err == nil {
		t.Fatal("first page failure must be an error")
	}
}

func TestSetAPIKeyTakesEffect(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":[{"subnet_registration_cost":1}]}`)
	}))
	defer srv.Close()

	client := newTaostatsAgainst(srv, "old")
	client.SetAPIKey("new")
	if _, err := client.FetchStats(context.Background()); err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if got != "new" {
		t.Fatalf("Authorization = %q, want new", got)
	}
}
