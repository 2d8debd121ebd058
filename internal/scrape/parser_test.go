package scrape

import (
	"reflect"
	"testing"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

const listingPage = `<!DOCTYPE html>
<html><body>
<nav><a href="/fr/inventaire-occasion/?page=2">page 2</a></nav>
<div class="vehicle-card">
  <a href="/fr/inventaire-occasion/ram-1500-laramie-2022-id12345/">Ram 1500</a>
  <a href="/fr/inventaire-occasion/ram-1500-laramie-2022-id12345/?utm_source=feed">Ram 1500 again</a>
</div>
<div class="vehicle-card">
  <a href="https://www.kennebecdodge.ca/fr/inventaire-occasion/jeep-compass-north-2021-id67890">Jeep Compass</a>
</div>
<a href="/fr/inventaire-occasion/">inventory root</a>
<a href="/fr/promotions/offre-id99999">promo outside inventory</a>
<a href="/fr/inventaire-occasion/ram-1500-laramie-2022-id12345/#photos">anchor link</a>
</body></html>`

func TestParseListingURLs(t *testing.T) {
	got := ParseListingURLs("https://www.kennebecdodge.ca", "/fr/inventaire-occasion/", []byte(listingPage))
	want := []string{
		"https://www.kennebecdodge.ca/fr/inventaire-occasion/jeep-compass-north-2021-id67890",
		"https://www.kennebecdodge.ca/fr/inventaire-occasion/ram-1500-laramie-2022-id12345/",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseListingURLs = %v, want %v", got, want)
	}
}

func TestParseListingURLsEmptyPage(t *testing.T) {
	got := ParseListingURLs("https://www.kennebecdodge.ca", "/fr/inventaire-occasion/", []byte("<html><body>Aucun véhicule</body></html>"))
	if len(got) != 0 {
		t.Errorf("ParseListingURLs = %v, want empty", got)
	}
}

const detailPage = `<!DOCTYPE html>
<html><head>
<script>
window.vehicleData = {
  stockNumber: '46037a',
  vin: '1C6SRFJT5NN123456',
  displayedPrice: '45995.00',
  mileage: '38250'
};
</script>
</head><body>
<h1>
  Ram 1500
  Laramie Sport 2022
</h1>
<img data-src="https://img.sm360.ca/images/inventory/kennebec/ram/1500/2022/photo-01.jpg">
<img src="https://img.sm360.ca/images/inventory/kennebec/ram/1500/2022/photo-02.jpg">
<img src="https://img.sm360.ca/images/inventory/kennebec/ram/1500/2022/photo-01.jpg">
<img src="https://img.sm360.ca/ir/w75h23/images/inventory/kennebec/ram/1500/2022/photo-03.jpg">
<img src="https://img.sm360.ca/images/dealer/logo.png">
<img src="https://cdn.other.com/images/inventory/banner.jpg">
</body></html>`

func TestParseDetail(t *testing.T) {
	d, err := ParseDetail("https://www.kennebecdodge.ca/fr/inventaire-occasion/ram-1500-laramie-2022-id12345/", []byte(detailPage))
	if err != nil {
		t.Fatalf("ParseDetail: %v", err)
	}

	if d.Stock != "46037A" {
		t.Errorf("stock = %q, want 46037A", d.Stock)
	}
	if d.VIN != "1C6SRFJT5NN123456" {
		t.Errorf("vin = %q, want 1C6SRFJT5NN123456", d.VIN)
	}
	if d.Price != domain.Money(45995) {
		t.Errorf("price = %d, want 45995", d.Price)
	}
	if d.MileageKM != 38250 {
		t.Errorf("mileage = %d, want 38250", d.MileageKM)
	}
	if d.Title != "Ram 1500 Laramie Sport 2022" {
		t.Errorf("title = %q", d.Title)
	}

	// Thumbnails, dealer chrome, foreign CDNs and duplicates are dropped.
	wantPhotos := []string{
		"https://img.sm360.ca/images/inventory/kennebec/ram/1500/2022/photo-01.jpg",
		"https://img.sm360.ca/images/inventory/kennebec/ram/1500/2022/photo-02.jpg",
	}
	if !reflect.DeepEqual(d.Photos, wantPhotos) {
		t.Errorf("photos = %v, want %v", d.Photos, wantPhotos)
	}
}

func TestParseDetailMissingFields(t *testing.T) {
	d, err := ParseDetail("https://www.kennebecdodge.ca/x", []byte("<html><body><h1>Mystery Car</h1></body></html>"))
	if err != nil {
		t.Fatalf("ParseDetail: %v", err)
	}
	if d.Stock != "" || d.VIN != "" || d.Price != 0 || d.MileageKM != 0 {
		t.Errorf("expected zero fields, got %+v", d)
	}
	if d.Title != "Mystery Car" {
		t.Errorf("title = %q", d.Title)
	}
}

func TestIsInventoryPhoto(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"https://img.sm360.ca/images/inventory/kennebec/photo.jpg", true},
		{"https://IMG.SM360.CA/IMAGES/INVENTORY/photo.JPG", true},
		{"https://img.sm360.ca/ir/w75h23/images/inventory/thumb.jpg", false},
		{"https://img.sm360.ca/images/dealer/logo.png", false},
		{"https://cdn.other.com/images/inventory/photo.jpg", false},
	}
	for _, tt := range tests {
		if got := isInventoryPhoto(tt.src); got != tt.want {
			t.Errorf("isInventoryPhoto(%q) = %t, want %t", tt.src, got, tt.want)
		}
	}
}
