package mercadolivre

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"marketplace-elt/utils"
)

// RenderTransport fetches pages through headless Chrome and hands the
// rendered HTML back as an ordinary HTTP response, so the collector keeps
// scheduling and retries while the browser only does the fetch.
type RenderTransport struct {
	logger  *utils.Logger
	timeout time.Duration
	settle  time.Duration

	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc

	startOnce sync.Once
	startErr  error
}

// NewRenderTransport prepares a browser allocator. Chrome itself is launched
// on the first request.
func NewRenderTransport(chromeBin, userAgent string, timeout time.Duration, logger *utils.Logger) *RenderTransport {
	bin := findChromeBinary(chromeBin)
	logger.Info("[render] Using browser binary: %s", bin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &RenderTransport{
		logger:        logger,
		timeout:       timeout,
		settle:        2 * time.Second,
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
	}
}

// RoundTrip opens the URL in a new tab and returns the rendered document.
func (t *RenderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.startOnce.Do(func() {
		t.startErr = chromedp.Run(t.browserCtx)
	})
	if t.startErr != nil {
		return nil, fmt.Errorf("render: start browser: %w", t.startErr)
	}

	tabCtx, cancelTab := chromedp.NewContext(t.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, t.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(req.Context(), cancelTab)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(req.URL.String()),
		chromedp.Sleep(t.settle),
		// Scroll so lazy cards are attached
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(t.settle/2),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", req.URL, err)
	}
	t.logger.Debug("[render] %s rendered (%d bytes)", req.URL, len(html))

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(html)),
		ContentLength: int64(len(html)),
		Request:       req,
	}, nil
}

// Close shuts the browser down.
func (t *RenderTransport) Close() {
	t.cancelBrowser()
	t.cancelAlloc()
}

// findChromeBinary locates Chrome/Chromium, preferring the configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
