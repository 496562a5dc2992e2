package services

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"marketplace-elt/models"
	"marketplace-elt/utils"
)

const (
	topN             = 10
	histogramBuckets = 10
	UnknownLabel     = "(desconhecido)"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []*models.Listing) *models.InsightReport {
	report := &models.InsightReport{}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	brandCount := make(map[string]int)
	brandPrice := make(map[string]float64)
	brandRatingSum := make(map[string]float64)
	brandRated := make(map[string]int)
	sellerCount := make(map[string]int)

	var rated []*models.Listing
	var total, ratingTotal float64

	report.MinPrice = listings[0].Price
	report.MaxPrice = listings[0].Price
	report.MostExpensive = listings[0]

	for _, l := range listings {
		brand := labelOr(l.Brand)
		brandCount[brand]++
		brandPrice[brand] += l.Price
		sellerCount[labelOr(l.Seller)]++

		total += l.Price
		if l.Price < report.MinPrice {
			report.MinPrice = l.Price
		}
		if l.Price > report.MaxPrice {
			report.MaxPrice = l.Price
			report.MostExpensive = l
		}
		if l.Rating != nil {
			rated = append(rated, l)
			ratingTotal += *l.Rating
			brandRatingSum[brand] += *l.Rating
			brandRated[brand]++
		}
	}

	report.Brands = countKnown(brandCount)
	report.Sellers = countKnown(sellerCount)
	report.AveragePrice = round2(total / float64(len(listings)))
	report.MinPrice = round2(report.MinPrice)
	report.MaxPrice = round2(report.MaxPrice)
	if len(rated) > 0 {
		report.AverageRating = round2(ratingTotal / float64(len(rated)))
	}

	// Top 5 by rating, most reviewed first on ties
	sort.SliceStable(rated, func(i, j int) bool {
		if *rated[i].Rating != *rated[j].Rating {
			return *rated[i].Rating > *rated[j].Rating
		}
		return rated[i].ReviewCount > rated[j].ReviewCount
	})
	if len(rated) > 5 {
		rated = rated[:5]
	}
	report.TopRated = rated

	for brand, n := range brandCount {
		report.TopBrands = append(report.TopBrands, models.GroupStat{Label: brand, Count: n, Value: float64(n)})
		report.BrandAvgPrice = append(report.BrandAvgPrice, models.GroupStat{
			Label: brand, Count: n, Value: round2(brandPrice[brand] / float64(n)),
		})
		if c := brandRated[brand]; c > 0 {
			report.BrandAvgRating = append(report.BrandAvgRating, models.GroupStat{
				Label: brand, Count: c, Value: round2(brandRatingSum[brand] / float64(c)),
			})
		}
	}
	for seller, n := range sellerCount {
		report.ListingsBySeller = append(report.ListingsBySeller, models.GroupStat{Label: seller, Count: n, Value: float64(n)})
	}

	report.TopBrands = topByValue(report.TopBrands, topN)
	report.BrandAvgPrice = topByValue(report.BrandAvgPrice, topN)
	report.BrandAvgRating = topByValue(report.BrandAvgRating, topN)
	report.ListingsBySeller = topByValue(report.ListingsBySeller, topN)
	report.PriceHistogram = priceHistogram(listings, report.MinPrice, report.MaxPrice)

	return report
}

// topByValue sorts descending by value then label and keeps the first n.
func topByValue(stats []models.GroupStat, n int) []models.GroupStat {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Value != stats[j].Value {
			return stats[i].Value > stats[j].Value
		}
		return stats[i].Label < stats[j].Label
	})
	if len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

// priceHistogram splits [min, max] into equal-width buckets; the last bucket
// is closed on the right.
func priceHistogram(listings []*models.Listing, min, max float64) []models.GroupStat {
	if len(listings) == 0 {
		return nil
	}
	buckets := histogramBuckets
	width := (max - min) / float64(buckets)
	if width <= 0 {
		return []models.GroupStat{{Label: FormatBRL(min), Count: len(listings), Value: float64(len(listings))}}
	}

	out := make([]models.GroupStat, buckets)
	for i := range out {
		lo := min + width*float64(i)
		out[i].Label = FormatBRL(lo) + " - " + FormatBRL(lo+width)
	}
	for _, l := range listings {
		i := int(math.Floor((l.Price - min) / width))
		if i >= buckets {
			i = buckets - 1
		}
		if i < 0 {
			i = 0
		}
		out[i].Count++
		out[i].Value++
	}
	return out
}

// Print writes the report as terminal tables.
func (s *InsightService) Print(w io.Writer, r *models.InsightReport, runs []models.RunSummary) {
	overview := newTable(w, "Visão geral")
	overview.AppendRows([]table.Row{
		{"Total de itens", r.TotalListings},
		{"Total de marcas", r.Brands},
		{"Total de vendedores", r.Sellers},
		{"Preço médio", FormatBRL(r.AveragePrice)},
		{"Preço mínimo", FormatBRL(r.MinPrice)},
		{"Preço máximo", FormatBRL(r.MaxPrice)},
		{"Avaliação média", fmt.Sprintf("%.2f ★", r.AverageRating)},
	})
	overview.Render()

	if r.MostExpensive != nil {
		t := newTable(w, "Item mais caro")
		t.AppendRows([]table.Row{
			{"Título", truncate(r.MostExpensive.Title, 60)},
			{"Marca", r.MostExpensive.Brand},
			{"Preço", FormatBRL(r.MostExpensive.Price)},
		})
		t.Render()
	}

	top := newTable(w, "Top 5 mais bem avaliados")
	top.AppendHeader(table.Row{"#", "Título", "Avaliação", "Avaliações"})
	for i, l := range r.TopRated {
		top.AppendRow(table.Row{i + 1, truncate(l.Title, 50), fmt.Sprintf("%.1f ★", *l.Rating), l.ReviewCount})
	}
	top.Render()

	printGroups(w, "Marcas mais encontradas", "Quantidade", r.TopBrands, func(g models.GroupStat) string {
		return fmt.Sprintf("%d", g.Count)
	})
	printGroups(w, "Preço médio por marca", "Preço médio", r.BrandAvgPrice, func(g models.GroupStat) string {
		return FormatBRL(g.Value)
	})
	printGroups(w, "Satisfação por marca", "Avaliação média", r.BrandAvgRating, func(g models.GroupStat) string {
		return fmt.Sprintf("%.1f ★", g.Value)
	})
	printGroups(w, "Distribuição de preços", "Itens", r.PriceHistogram, func(g models.GroupStat) string {
		return fmt.Sprintf("%d", g.Count)
	})

	if len(runs) > 0 {
		t := newTable(w, "Execuções de extração")
		t.AppendHeader(table.Row{"Run", "Linhas", "Início", "Fim"})
		for _, run := range runs {
			t.AppendRow(table.Row{run.RunID, run.Rows,
				run.StartedAt.Format("2006-01-02 15:04:05"), run.EndedAt.Format("2006-01-02 15:04:05")})
		}
		t.Render()
	}
}

func printGroups(w io.Writer, title, valueHeader string, groups []models.GroupStat, value func(models.GroupStat) string) {
	t := newTable(w, title)
	t.AppendHeader(table.Row{"", valueHeader, ""})
	maxCount := 0
	for _, g := range groups {
		if g.Count > maxCount {
			maxCount = g.Count
		}
	}
	for _, g := range groups {
		bar := ""
		if maxCount > 0 {
			bar = strings.Repeat("█", int(math.Ceil(float64(g.Count)/float64(maxCount)*20)))
		}
		t.AppendRow(table.Row{truncate(g.Label, 32), value(g), bar})
	}
	if len(groups) == 0 {
		t.AppendRow(table.Row{"sem dados", "", ""})
	}
	t.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Colors = text.Colors{text.Bold, text.FgMagenta}
	return t
}

var brlPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders a value as Brazilian currency, e.g. "R$ 1.234,56".
func FormatBRL(v float64) string {
	cents := math.Round(math.Abs(v) * 100)
	out := brlPrinter.Sprintf("R$ %.2f", cents/100)
	if v < 0 && cents > 0 {
		out = "-" + out
	}
	return out
}

func labelOr(s string) string {
	if s == "" {
		return UnknownLabel
	}
	return s
}

func countKnown(m map[string]int) int {
	n := len(m)
	if _, ok := m[UnknownLabel]; ok {
		n--
	}
	return n
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
