package mercadolivre

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-elt/config"
	"marketplace-elt/models"
	"marketplace-elt/utils"
)

func card(n int, href string) string {
	return fmt.Sprintf(`
<div class="ui-search-result__wrapper">
  <h3 class="poly-component__title-wrapper"><a href="%s">Geladeira %d</a></h3>
  <div class="poly-price__current"><span class="andes-money-amount"><span class="andes-money-amount__currency-symbol">R$</span><span class="andes-money-amount__fraction">%d.000</span></span></div>
</div>`, href, n, n)
}

func writePage(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body>%s</body></html>", body)
}

func testConfig(seed string) *config.Config {
	return &config.Config{
		SeedURLs:       []string{seed},
		UserAgent:      "marketplace-elt-test",
		MaxConcurrency: 2,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RequestTimeout: 5 * time.Second,
		MaxPages:       20,
		MaxPageErrors:  5,
	}
}

type collector struct {
	mu   sync.Mutex
	rows []*models.RawListing
}

func (c *collector) emit(r *models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, r)
	return nil
}

func newExtractor(t *testing.T, cfg *config.Config, logs *bytes.Buffer) *Extractor {
	t.Helper()
	p, err := DefaultProfile()
	require.NoError(t, err)
	return New(cfg, utils.NewLoggerTo(logs, "warn"), p)
}

func TestExtractorSkipsMalformedBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, card(1, "/p/1?utm_source=x")+card(2, "/p/2")+brokenBlock+card(3, "/p/3#frag"))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	var out collector
	stats, err := newExtractor(t, testConfig(srv.URL+"/list"), &logs).Run(context.Background(), out.emit)
	require.NoError(t, err)

	require.Len(t, out.rows, 3)
	require.Equal(t, int64(3), stats.Emitted)
	require.Equal(t, int64(1), stats.BlocksSkipped)
	require.Equal(t, int64(1), stats.PagesFetched)
	require.Equal(t, 1, strings.Count(logs.String(), "level=WARN"), logs.String())

	runID := out.rows[0].RunID
	require.NotEmpty(t, runID)
	for i, r := range out.rows {
		require.Equal(t, runID, r.RunID)
		require.Equal(t, srv.URL+"/list", r.PageURL)
		require.Equal(t, fmt.Sprintf("%s/p/%d", srv.URL, i+1), r.URL)
		require.Equal(t, fmt.Sprintf("R$ %d.000", i+1), r.RawPrice)
		require.False(t, r.ScrapedAt.IsZero())
	}
}

func TestExtractorRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writePage(w, card(1, "/p/1"))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	var out collector
	stats, err := newExtractor(t, testConfig(srv.URL+"/flaky"), &logs).Run(context.Background(), out.emit)
	require.NoError(t, err)
	require.Equal(t, int32(3), hits.Load())
	require.Len(t, out.rows, 1)
	require.Equal(t, int64(0), stats.PagesFailed)
}

func TestExtractorSkipsPageAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	var out collector
	stats, err := newExtractor(t, testConfig(srv.URL+"/down"), &logs).Run(context.Background(), out.emit)
	require.NoError(t, err)
	require.Equal(t, int32(3), hits.Load())
	require.Empty(t, out.rows)
	require.Equal(t, int64(1), stats.PagesFailed)
	require.Contains(t, logs.String(), "Skipping")
}

func TestExtractorStopsAfterMaxPageErrors(t *testing.T) {
	var badOnce sync.Once
	badServed := make(chan struct{})
	var nextHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad":
			badOnce.Do(func() { close(badServed) })
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/good":
			select {
			case <-badServed:
			case <-time.After(5 * time.Second):
			}
			time.Sleep(200 * time.Millisecond)
			writePage(w, card(1, "/p/1")+`<li class="andes-pagination__button--next"><a href="/good2">Seguinte</a></li>`)
		case "/good2":
			nextHits.Add(1)
			writePage(w, card(2, "/p/2"))
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/bad")
	cfg.SeedURLs = append(cfg.SeedURLs, srv.URL+"/good")
	cfg.MaxRetries = 1
	cfg.MaxPageErrors = 1

	var logs bytes.Buffer
	var out collector
	stats, err := newExtractor(t, cfg, &logs).Run(context.Background(), out.emit)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.PagesFailed)
	require.Zero(t, nextHits.Load(), "next page must not be followed after the error limit")
	require.Empty(t, out.rows)
	require.Contains(t, logs.String(), "1 pages failed, not scheduling more pages")
}

func TestExtractorPageErrorLimitStopsQueuedSeeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/a")
	cfg.SeedURLs = append(cfg.SeedURLs, srv.URL+"/b", srv.URL+"/c", srv.URL+"/d")
	cfg.MaxConcurrency = 1
	cfg.MaxPageErrors = 1
	cfg.RateLimitMs = 50

	var logs bytes.Buffer
	var out collector
	stats, err := newExtractor(t, cfg, &logs).Run(context.Background(), out.emit)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.PagesFailed)
	// the first page to fail three times halts the crawl: at most two
	// attempts per other seed precede it and one request may already be past the gate
	require.LessOrEqual(t, hits.Load(), int32(10))
	require.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestExtractorStopsAtMaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/page/"))
		next := fmt.Sprintf(`<li class="andes-pagination__button--next"><a href="/page/%d">Seguinte</a></li>`, n+1)
		writePage(w, card(n, fmt.Sprintf("/p/%d", n))+next)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/page/1")
	cfg.MaxPages = 3

	var logs bytes.Buffer
	var out collector
	stats, err := newExtractor(t, cfg, &logs).Run(context.Background(), out.emit)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.PagesFetched)
	require.Len(t, out.rows, 3)
}

func TestExtractorStopsOnEmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, card(1, "/p/1")+card(2, "/p/2"))
	}))
	defer srv.Close()

	errDisk := errors.New("disk full")
	calls := 0
	var logs bytes.Buffer
	stats, err := newExtractor(t, testConfig(srv.URL+"/list"), &logs).Run(context.Background(), func(*models.RawListing) error {
		calls++
		return errDisk
	})
	require.ErrorIs(t, err, errDisk)
	require.Equal(t, 1, calls)
	require.Equal(t, int64(0), stats.Emitted)
}

func TestExtractorCancelledContextFetchesNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writePage(w, card(1, "/p/1"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var logs bytes.Buffer
	var out collector
	_, err := newExtractor(t, testConfig(srv.URL+"/list"), &logs).Run(ctx, out.emit)
	require.NoError(t, err)
	require.Zero(t, hits.Load())
	require.Empty(t, out.rows)
}

func TestAllowedDomainsFromSeeds(t *testing.T) {
	got := allowedDomains(nil, []string{
		"https://lista.mercadolivre.com.br/geladeira",
		"https://lista.mercadolivre.com.br/fogao",
		"http://127.0.0.1:8080/x",
	})
	require.Equal(t, []string{"lista.mercadolivre.com.br", "127.0.0.1", "127.0.0.1:8080"}, got)
	require.Equal(t, []string{"a.com"}, allowedDomains([]string{"a.com"}, nil))
}
