package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func detailHTML(title, stock string, price int) string {
	return fmt.Sprintf(`<html><head><script>
var v = { stockNumber: '%s', displayedPrice: '%d' };
</script></head><body><h1>%s</h1></body></html>`, stock, price, title)
}

func listingHTML(paths ...string) string {
	var links string
	for _, p := range paths {
		links += fmt.Sprintf(`<a href="%s">x</a>`, p)
	}
	return "<html><body>" + links + "</body></html>"
}

// inventoryServer serves a small fake dealership site. failPages maps page
// numbers to HTTP 500.
func inventoryServer(t *testing.T, failPages map[int]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/fr/inventaire-occasion/", func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p == "2" {
			page = 2
		}
		if failPages[page] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		switch page {
		case 1:
			fmt.Fprint(w, listingHTML(
				"/fr/inventaire-occasion/ram-1500-2022-id11111",
				"/fr/inventaire-occasion/jeep-compass-2021-id22222",
			))
		case 2:
			fmt.Fprint(w, listingHTML(
				"/fr/inventaire-occasion/dodge-hornet-2023-id33333",
			))
		}
	})
	mux.HandleFunc("/fr/inventaire-occasion/ram-1500-2022-id11111", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailHTML("Ram 1500 2022", "A100", 45995))
	})
	mux.HandleFunc("/fr/inventaire-occasion/jeep-compass-2021-id22222", func(w http.ResponseWriter, r *http.Request) {
		// No stock number: record cannot be keyed and is dropped.
		fmt.Fprint(w, "<html><body><h1>Jeep Compass 2021</h1></body></html>")
	})
	mux.HandleFunc("/fr/inventaire-occasion/dodge-hornet-2023-id33333", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailHTML("Dodge Hornet 2023", "C300", 38995))
	})

	return httptest.NewServer(mux)
}

func newTestScraper(baseURL string, pages int) *Scraper {
	return New(Config{
		BaseURL:        baseURL,
		InventoryPath:  "/fr/inventaire-occasion/",
		Pages:          pages,
		RequestsPerSec: 1000,
	}, testLogger())
}

func TestFetchInventory(t *testing.T) {
	srv := inventoryServer(t, nil)
	defer srv.Close()

	res, err := newTestScraper(srv.URL, 2).FetchInventory(context.Background())
	if err != nil {
		t.Fatalf("FetchInventory: %v", err)
	}

	if res.Outcome.PagesFetched != 2 || res.Outcome.PagesFailed != 0 {
		t.Errorf("pages fetched/failed = %d/%d, want 2/0",
			res.Outcome.PagesFetched, res.Outcome.PagesFailed)
	}
	if len(res.Pages) != 2 {
		t.Errorf("captured pages = %d, want 2", len(res.Pages))
	}

	// The keyless Compass is dropped, leaving Hornet and Ram in URL order.
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2: %+v", len(res.Records), res.Records)
	}
	wantKeys := []domain.ListingKey{
		domain.MakeListingKey("Dodge Hornet 2023", "C300"),
		domain.MakeListingKey("Ram 1500 2022", "A100"),
	}
	for i, want := range wantKeys {
		if res.Records[i].Key != want {
			t.Errorf("records[%d].Key = %s, want %s", i, res.Records[i].Key, want)
		}
	}
	if res.Records[1].Price != 45995 {
		t.Errorf("ram price = %d, want 45995", res.Records[1].Price)
	}
	if res.Outcome.Listings != 2 {
		t.Errorf("outcome listings = %d, want 2", res.Outcome.Listings)
	}
}

func TestFetchInventoryToleratesPageFailure(t *testing.T) {
	srv := inventoryServer(t, map[int]bool{2: true})
	defer srv.Close()

	res, err := newTestScraper(srv.URL, 2).FetchInventory(context.Background())
	if err != nil {
		t.Fatalf("FetchInventory: %v", err)
	}
	if res.Outcome.PagesFetched != 1 || res.Outcome.PagesFailed != 1 {
		t.Errorf("pages fetched/failed = %d/%d, want 1/1",
			res.Outcome.PagesFetched, res.Outcome.PagesFailed)
	}
	// Page 2's Hornet never appears; page 1's Ram does.
	if len(res.Records) != 1 || res.Records[0].Stock != "A100" {
		t.Errorf("records = %+v, want only A100", res.Records)
	}
}

func TestFetchInventoryAllPagesFail(t *testing.T) {
	srv := inventoryServer(t, map[int]bool{1: true, 2: true})
	defer srv.Close()

	_, err := newTestScraper(srv.URL, 2).FetchInventory(context.Background())
	if !errors.Is(err, domain.ErrScrapeFailed) {
		t.Fatalf("err = %v, want ErrScrapeFailed", err)
	}
}
