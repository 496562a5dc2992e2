package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"sort"

	"marketplace-elt/models"
	"marketplace-elt/services"
)

const pageTitle = "Pesquisa de Mercado - Geladeiras Frost-Free"

var templateFuncs = template.FuncMap{
	"brl": services.FormatBRL,
	"stars": func(r *float64) string {
		if r == nil {
			return "-"
		}
		return fmt.Sprintf("%.1f ★", *r)
	},
	"pct": func(p *float64) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprintf("%.0f%%", *p)
	},
	"brand": brandLabel,
}

type brandOption struct {
	Name     string
	Selected bool
}

type bar struct {
	Label   string
	Display string
	Width   float64
}

type chart struct {
	Title string
	Bars  []bar
}

type column struct {
	Key   string
	Label string
	URL   string
	Arrow string
}

type view struct {
	Title   string
	Ready   bool
	Filter  Filter
	Brands  []brandOption
	Total   int
	Shown   int
	Report  *models.InsightReport
	Charts  []chart
	Columns []column
	Rows    []*models.Listing
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	all, ready, err := s.load(r.Context())
	if err != nil {
		s.logger.Error("[http] Loading listings failed (request_id=%s): %v", RequestIDFromContext(r.Context()), err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	v := view{Title: pageTitle, Ready: ready, Filter: f, Total: len(all)}
	if ready {
		rows := f.Apply(all)
		report := s.insights.Generate(rows)
		v.Brands = brandOptions(all, f)
		v.Shown = len(rows)
		v.Report = report
		v.Rows = rows
		v.Charts = charts(report)
		v.Columns = columns(f)
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, v); err != nil {
		s.logger.Error("[http] Rendering dashboard failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

type listingsResponse struct {
	Total    int               `json:"total"`
	Count    int               `json:"count"`
	Filter   Filter            `json:"filter"`
	Listings []*models.Listing `json:"listings"`
}

func (s *Server) listingsHandler(w http.ResponseWriter, r *http.Request) {
	f, all, ok := s.apiLoad(w, r)
	if !ok {
		return
	}
	rows := f.Apply(all)
	writeJSON(w, listingsResponse{Total: len(all), Count: len(rows), Filter: f, Listings: rows})
}

type statsResponse struct {
	Total  int                   `json:"total"`
	Filter Filter                `json:"filter"`
	Report *models.InsightReport `json:"report"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	f, all, ok := s.apiLoad(w, r)
	if !ok {
		return
	}
	writeJSON(w, statsResponse{Total: len(all), Filter: f, Report: s.insights.Generate(f.Apply(all))})
}

// apiLoad parses the filter and loads listings, writing the JSON error
// response itself when it returns ok=false.
func (s *Server) apiLoad(w http.ResponseWriter, r *http.Request) (Filter, []*models.Listing, bool) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return f, nil, false
	}
	all, ready, err := s.load(r.Context())
	if err != nil {
		s.logger.Error("[http] Loading listings failed (request_id=%s): %v", RequestIDFromContext(r.Context()), err)
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return f, nil, false
	}
	if !ready {
		WriteJSONError(w, http.StatusServiceUnavailable, "not_ready", "no processed data yet, run transform first")
		return f, nil, false
	}
	return f, all, true
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ready, err := s.src.ProcessedReady(r.Context())
	if err != nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "processed_ready": ready})
}

func brandOptions(all []*models.Listing, f Filter) []brandOption {
	seen := make(map[string]bool)
	var names []string
	for _, l := range all {
		b := brandLabel(l.Brand)
		if !seen[b] {
			seen[b] = true
			names = append(names, b)
		}
	}
	sort.Strings(names)
	opts := make([]brandOption, len(names))
	for i, n := range names {
		opts[i] = brandOption{Name: n, Selected: f.HasBrand(n)}
	}
	return opts
}

func charts(r *models.InsightReport) []chart {
	count := func(g models.GroupStat) string { return fmt.Sprintf("%d", g.Count) }
	return []chart{
		newChart("Top 10 marcas por quantidade de produtos", r.TopBrands, count),
		newChart("Top 10 marcas por preço médio", r.BrandAvgPrice, func(g models.GroupStat) string {
			return services.FormatBRL(g.Value)
		}),
		newChart("Top 10 marcas por avaliação dos clientes", r.BrandAvgRating, func(g models.GroupStat) string {
			return fmt.Sprintf("%.1f ★", g.Value)
		}),
		newChart("Distribuição de preços", r.PriceHistogram, count),
		newChart("Produtos por vendedor", r.ListingsBySeller, count),
	}
}

func newChart(title string, stats []models.GroupStat, display func(models.GroupStat) string) chart {
	c := chart{Title: title}
	max := 0.0
	for _, g := range stats {
		if g.Value > max {
			max = g.Value
		}
	}
	for _, g := range stats {
		width := 0.0
		if max > 0 {
			width = g.Value / max * 100
		}
		c.Bars = append(c.Bars, bar{Label: g.Label, Display: display(g), Width: width})
	}
	return c
}

func columns(f Filter) []column {
	cols := []column{
		{Key: "title", Label: "Produto"},
		{Key: "brand", Label: "Marca"},
		{Key: "price", Label: "Preço"},
		{Key: "discount", Label: "Desconto"},
		{Key: "rating", Label: "Avaliação"},
		{Key: "reviews", Label: "Avaliações"},
	}
	for i := range cols {
		cols[i].URL = f.SortURL(cols[i].Key)
		if f.Sort == cols[i].Key {
			cols[i].Arrow = "▲"
			if f.Desc {
				cols[i].Arrow = "▼"
			}
		}
	}
	return cols
}
