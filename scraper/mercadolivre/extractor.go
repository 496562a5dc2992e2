package mercadolivre

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"marketplace-elt/config"
	"marketplace-elt/models"
	"marketplace-elt/utils"
)

const attemptKey = "attempt"

var errHalted = errors.New("crawl halted")

// Emit receives every raw listing as soon as its page is parsed. A returned
// error stops the crawl and is returned from Run.
type Emit func(*models.RawListing) error

// Extractor crawls Mercado Livre search result pages.
type Extractor struct {
	cfg       *config.Config
	logger    *utils.Logger
	profile   *Profile
	retry     *utils.RetryConfig
	transport http.RoundTripper
	now       func() time.Time
}

// New creates an Extractor for the configured seeds and limits.
func New(cfg *config.Config, logger *utils.Logger, profile *Profile) *Extractor {
	return &Extractor{
		cfg:     cfg,
		logger:  logger,
		profile: profile,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			Logger:      logger,
		},
		now: time.Now,
	}
}

// WithTransport replaces the HTTP transport, e.g. with a RenderTransport.
func (e *Extractor) WithTransport(rt http.RoundTripper) *Extractor {
	e.transport = rt
	return e
}

// crawl holds the state of one Run.
type crawl struct {
	*Extractor
	ctx       context.Context
	collector *colly.Collector
	emit      Emit
	runID     string
	visited   *utils.URLSet

	scheduled     atomic.Int64
	pagesFetched  atomic.Int64
	pagesFailed   atomic.Int64
	emitted       atomic.Int64
	blocksSkipped atomic.Int64
	stopped       atomic.Bool

	emitMu  sync.Mutex
	emitErr error
}

// Run crawls every seed, following next page links until none remain, the
// page limit is hit, too many pages failed or ctx is cancelled. Records are
// passed to emit one at a time.
func (e *Extractor) Run(ctx context.Context, emit Emit) (models.ExtractStats, error) {
	cr := &crawl{
		Extractor: e,
		ctx:       ctx,
		emit:      emit,
		runID:     uuid.NewString(),
		visited:   utils.NewURLSet(),
	}

	c, err := cr.newCollector()
	if err != nil {
		return models.ExtractStats{RunID: cr.runID}, err
	}
	cr.collector = c

	e.logger.Info("[extract] Starting run %s: %d seed(s), max %d pages, concurrency %d",
		cr.runID, len(e.cfg.SeedURLs), e.cfg.MaxPages, e.cfg.MaxConcurrency)

	for _, seed := range e.cfg.SeedURLs {
		cr.follow(seed)
	}
	c.Wait()

	stats := models.ExtractStats{
		RunID:         cr.runID,
		PagesFetched:  cr.pagesFetched.Load(),
		PagesFailed:   cr.pagesFailed.Load(),
		Emitted:       cr.emitted.Load(),
		BlocksSkipped: cr.blocksSkipped.Load(),
	}
	e.logger.Info("[extract] Run %s complete: %d pages fetched, %d parsed, %d failed, %d listings, %d blocks skipped",
		stats.RunID, stats.PagesFetched, cr.visited.Size(), stats.PagesFailed, stats.Emitted, stats.BlocksSkipped)

	if cr.emitErr != nil {
		return stats, cr.emitErr
	}
	if err := ctx.Err(); err != nil {
		e.logger.Warn("[extract] Run %s interrupted: %v", cr.runID, err)
	}
	return stats, nil
}

func (cr *crawl) newCollector() (*colly.Collector, error) {
	cfg := cr.cfg
	c := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	c.AllowedDomains = allowedDomains(cfg.AllowedDomains, cfg.SeedURLs)
	c.SetRequestTimeout(cfg.RequestTimeout)
	base := cr.transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.WithTransport(gate{cr: cr, next: base})

	parallelism := cfg.MaxConcurrency
	if parallelism < 1 {
		parallelism = 1
	}
	delay := time.Duration(cfg.RateLimitMs) * time.Millisecond
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		Delay:       delay,
		RandomDelay: delay,
	}); err != nil {
		return nil, fmt.Errorf("extract: limit rule: %w", err)
	}

	c.OnRequest(cr.onRequest)
	c.OnResponse(func(r *colly.Response) {
		cr.pagesFetched.Add(1)
		cr.logger.Debug("[extract] Received %s (%d bytes)", r.Request.URL, len(r.Body))
	})
	c.OnError(cr.onError)
	c.OnHTML("body", cr.onPage)
	return c, nil
}

// halted reports whether no further page should be fetched or parsed.
func (cr *crawl) halted() bool {
	return cr.ctx.Err() != nil || cr.stopped.Load()
}

// gate refuses requests once the crawl has halted. Unlike OnRequest it runs
// after colly has granted the request a parallelism slot.
type gate struct {
	cr   *crawl
	next http.RoundTripper
}

func (g gate) RoundTrip(req *http.Request) (*http.Response, error) {
	if g.cr.halted() {
		return nil, errHalted
	}
	return g.next.RoundTrip(req)
}

func (cr *crawl) onRequest(r *colly.Request) {
	if cr.halted() {
		r.Abort()
		return
	}
	cr.logger.Debug("[extract] Visiting %s", r.URL)
}

// onError retries a failed fetch with exponential backoff and skips the page
// once attempts are exhausted.
func (cr *crawl) onError(r *colly.Response, err error) {
	pageURL := r.Request.URL.String()
	if errors.Is(err, errHalted) || cr.halted() {
		cr.logger.Debug("[extract] Dropping %s, crawl halted", pageURL)
		return
	}
	attempt := 1
	if n, ok := r.Ctx.GetAny(attemptKey).(int); ok {
		attempt = n
	}

	if cr.retry.ShouldRetry(attempt) {
		delay := cr.retry.Backoff(attempt)
		cr.logger.Warn("[extract] %s failed (attempt %d/%d, status %d): %v, retrying in %v",
			pageURL, attempt, cr.retry.MaxAttempts, r.StatusCode, err, delay)
		if utils.Sleep(cr.ctx, delay) != nil || cr.halted() {
			cr.logger.Debug("[extract] Not retrying %s, crawl halted", pageURL)
			return
		}
		r.Ctx.Put(attemptKey, attempt+1)
		if err = r.Request.Retry(); err == nil {
			return
		}
	}

	failed := cr.pagesFailed.Add(1)
	cr.logger.Warn("[extract] Skipping %s after %d attempt(s): %v", pageURL, attempt, err)
	if limit := int64(cr.cfg.MaxPageErrors); limit > 0 && failed >= limit && !cr.stopped.Swap(true) {
		cr.logger.Warn("[extract] %d pages failed, not scheduling more pages", failed)
	}
}

func (cr *crawl) onPage(el *colly.HTMLElement) {
	pageURL := el.Request.URL.String()
	if cr.halted() {
		cr.logger.Debug("[extract] Discarding %s, crawl halted", pageURL)
		return
	}
	if !cr.visited.Add(pageURL) {
		cr.logger.Debug("[extract] Skipping already parsed page %s", pageURL)
		return
	}

	page := ParsePage(el.DOM, el.Request.URL, cr.profile)
	for _, err := range page.Skipped {
		cr.blocksSkipped.Add(1)
		cr.logger.Warn("[extract] %s: %v", pageURL, err)
	}
	if len(page.Blocks) == 0 && len(page.Skipped) == 0 {
		cr.logger.Warn("[extract] No product blocks found on %s", pageURL)
	}

	scrapedAt := cr.now().UTC()
	for _, b := range page.Blocks {
		if err := cr.send(b.Raw(cr.runID, pageURL, scrapedAt)); err != nil {
			return
		}
	}
	cr.logger.Info("[extract] Page %s: %d listings, %d skipped", pageURL, len(page.Blocks), len(page.Skipped))

	switch {
	case page.Next == "" || cr.halted():
	case cr.visited.Contains(page.Next):
		cr.logger.Debug("[extract] Next page %s already parsed", page.Next)
	default:
		cr.follow(page.Next)
	}
}

// send serialises calls to emit. The first error stops the crawl.
func (cr *crawl) send(rec *models.RawListing) error {
	cr.emitMu.Lock()
	defer cr.emitMu.Unlock()
	if cr.emitErr != nil {
		return cr.emitErr
	}
	if err := cr.emit(rec); err != nil {
		cr.emitErr = err
		cr.stopped.Store(true)
		cr.logger.Error("[extract] Stopping run %s: %v", cr.runID, err)
		return err
	}
	cr.emitted.Add(1)
	return nil
}

// follow schedules a page unless the page limit has been reached.
func (cr *crawl) follow(pageURL string) {
	n := cr.scheduled.Add(1)
	if limit := int64(cr.cfg.MaxPages); limit > 0 && n > limit {
		cr.logger.Info("[extract] Page limit %d reached, not following %s", limit, pageURL)
		return
	}
	if err := cr.collector.Visit(pageURL); err != nil {
		cr.scheduled.Add(-1)
		if errors.Is(err, colly.ErrAlreadyVisited) {
			cr.logger.Debug("[extract] Already visited %s", pageURL)
			return
		}
		cr.logger.Warn("[extract] Cannot visit %s: %v", pageURL, err)
	}
}

// allowedDomains returns the configured domains, or the hosts of the seed URLs.
func allowedDomains(configured, seeds []string) []string {
	if len(configured) > 0 {
		return configured
	}
	seen := utils.NewURLSet()
	var out []string
	for _, s := range seeds {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			continue
		}
		for _, h := range []string{u.Hostname(), u.Host} {
			if seen.Add(h) {
				out = append(out, h)
			}
		}
	}
	return out
}
