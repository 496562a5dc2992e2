package services

import (
	"bytes"
	"strings"
	"testing"

	"marketplace-elt/models"
)

func rating(f float64) *float64 { return &f }

func sampleListings() []*models.Listing {
	return []*models.Listing{
		{Title: "Geladeira A", Brand: "Brastemp", Seller: "Loja 1", Price: 200, Rating: rating(4.9), ReviewCount: 10, URL: "a"},
		{Title: "Geladeira B", Brand: "Brastemp", Seller: "Loja 2", Price: 50, Rating: rating(4.5), URL: "b"},
		{Title: "Geladeira C", Brand: "Electrolux", Seller: "Loja 1", Price: 120, Rating: rating(4.8), URL: "c"},
		{Title: "Geladeira D", Brand: "Consul", Seller: "Loja 1", Price: 300, URL: "d"},
		{Title: "Geladeira E", Brand: "", Seller: "", Price: 100, Rating: rating(4.6), URL: "e"},
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if r.TotalListings != 5 {
		t.Errorf("TotalListings: got %d, want 5", r.TotalListings)
	}
	if r.Brands != 3 {
		t.Errorf("Brands: got %d, want 3", r.Brands)
	}
	if r.Sellers != 2 {
		t.Errorf("Sellers: got %d, want 2", r.Sellers)
	}
}

func TestInsightPrices(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if r.AveragePrice != 154 {
		t.Errorf("AveragePrice: got %.2f, want 154", r.AveragePrice)
	}
	if r.MinPrice != 50 {
		t.Errorf("MinPrice: got %.2f, want 50", r.MinPrice)
	}
	if r.MaxPrice != 300 {
		t.Errorf("MaxPrice: got %.2f, want 300", r.MaxPrice)
	}
	if r.MostExpensive == nil || r.MostExpensive.Title != "Geladeira D" {
		t.Errorf("MostExpensive: got %+v, want Geladeira D", r.MostExpensive)
	}
}

func TestInsightTopRated(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if len(r.TopRated) != 4 {
		t.Fatalf("TopRated len: got %d, want 4", len(r.TopRated))
	}
	if *r.TopRated[0].Rating != 4.9 {
		t.Errorf("TopRated[0].Rating: got %.2f, want 4.9", *r.TopRated[0].Rating)
	}
	if r.AverageRating != 4.7 {
		t.Errorf("AverageRating: got %.2f, want 4.7", r.AverageRating)
	}
}

func TestInsightBrandGrouping(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())

	if r.TopBrands[0].Label != "Brastemp" || r.TopBrands[0].Count != 2 {
		t.Errorf("TopBrands[0]: got %+v, want Brastemp x2", r.TopBrands[0])
	}
	if r.BrandAvgPrice[0].Label != "Consul" || r.BrandAvgPrice[0].Value != 300 {
		t.Errorf("BrandAvgPrice[0]: got %+v, want Consul 300", r.BrandAvgPrice[0])
	}
	for _, g := range r.BrandAvgRating {
		if g.Label == "Consul" {
			t.Errorf("Consul has no ratings and should not appear in BrandAvgRating")
		}
	}
	if r.ListingsBySeller[0].Label != "Loja 1" || r.ListingsBySeller[0].Count != 3 {
		t.Errorf("ListingsBySeller[0]: got %+v, want Loja 1 x3", r.ListingsBySeller[0])
	}
}

func TestInsightHistogramCoversEveryListing(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if len(r.PriceHistogram) != histogramBuckets {
		t.Fatalf("buckets: got %d, want %d", len(r.PriceHistogram), histogramBuckets)
	}
	total := 0
	for _, b := range r.PriceHistogram {
		total += b.Count
	}
	if total != 5 {
		t.Errorf("histogram total: got %d, want 5", total)
	}
	if r.PriceHistogram[histogramBuckets-1].Count != 1 {
		t.Errorf("max price should land in the last bucket")
	}
}

func TestInsightEmptyInput(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil)
	if r.TotalListings != 0 {
		t.Errorf("expected 0 total listings for empty input")
	}
}

func TestFormatBRL(t *testing.T) {
	tests := map[float64]string{
		0:         "R$ 0,00",
		12:        "R$ 12,00",
		1234.56:   "R$ 1.234,56",
		1234567.8: "R$ 1.234.567,80",
		-99.999:   "-R$ 100,00",
		-0.001:    "R$ 0,00",
		1999.999:  "R$ 2.000,00",
	}
	for in, want := range tests {
		if got := FormatBRL(in); got != want {
			t.Errorf("FormatBRL(%v) = %q; want %q", in, got, want)
		}
	}
}

func TestInsightPrint(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	var buf bytes.Buffer
	svc.Print(&buf, svc.Generate(sampleListings()), []models.RunSummary{{RunID: "run-1", Rows: 5}})

	out := buf.String()
	for _, want := range []string{"Total de itens", "Brastemp", "R$ 154,00", "run-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q", want)
		}
	}
}
