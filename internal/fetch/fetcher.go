package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/hyperifyio/deepresearch/internal/extract"
	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/provider"
	"github.com/hyperifyio/deepresearch/internal/robots"
	"github.com/hyperifyio/deepresearch/internal/scheduler"
	"github.com/rs/zerolog/log"
)

// navigationTimeout bounds a single browser navigation.
const navigationTimeout = 30 * time.Second

// Config tunes Fetcher strategy selection.
type Config struct {
	UseReader     bool
	ReaderBaseURL string
	ReaderAPIKey  string

	BrowseLite    bool
	MaxHTMLLength int
	MaxEvalTime   time.Duration

	PDFMaxPages    int
	PDFMaxFilesize int64
	PDFTimeout     time.Duration
	// PDFExtractorPath is an external document-extraction executable invoked
	// as `<path> <pdf-file>` (plus `--max-pages N` when PDFMaxPages > 0),
	// writing extracted text to stdout.
	PDFExtractorPath string

	UserAgent          string
	HTMLToMarkdownModel string
}

// Fetcher retrieves a URL through one of three strategies: a remote reader
// proxy, a headless-browser render (HTML lite/full), or a PDF extraction
// guarded by the Scheduler's process-wide mutex.
type Fetcher struct {
	Config    Config
	HTTP      *Client
	Robots    *robots.Manager
	Provider  provider.Provider
	Scheduler *scheduler.Scheduler
}

// Fetch retrieves url and returns one of three text shapes: a markdown
// page, a PDF dump, or a fallback error string beginning
// with "Error:" or "Failed to fetch". It never panics and never returns a
// Go error for a single-URL failure — the orchestrator treats any returned
// string beginning with those prefixes as a skippable FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) string {
	if f.Config.UseReader {
		if text, ok := f.fetchViaReader(ctx, rawURL); ok {
			return text
		}
		// Falls through to the browser strategy on reader failure.
	}
	if f.isAllowedByRobots(ctx, rawURL) {
		if f.isPDF(ctx, rawURL) {
			return f.fetchPDF(ctx, rawURL)
		}
		return f.fetchHTML(ctx, rawURL)
	}
	return "Error: disallowed by robots.txt"
}

func (f *Fetcher) isAllowedByRobots(ctx context.Context, rawURL string) bool {
	if f.Robots == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	rules, _, err := f.Robots.Get(ctx, robotsURL)
	if err != nil {
		return true
	}
	ua := f.Config.UserAgent
	if ua == "" {
		ua = "deepresearch"
	}
	return rules.IsAllowed(ua, u.EscapedPath())
}

// fetchViaReader issues a single GET to <ReaderBaseURL><url> with an auth
// header. Success returns the body verbatim.
func (f *Fetcher) fetchViaReader(ctx context.Context, rawURL string) (string, bool) {
	target := strings.TrimRight(f.Config.ReaderBaseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
	if strings.Contains(f.Config.ReaderBaseURL, "://") && !strings.HasSuffix(f.Config.ReaderBaseURL, "/") {
		target = f.Config.ReaderBaseURL + rawURL
	}
	var hdr http.Header
	if f.Config.ReaderAPIKey != "" {
		hdr = http.Header{"Authorization": []string{"Bearer " + f.Config.ReaderAPIKey}}
	}
	body, _, err := f.httpClient().GetWithHeader(ctx, target, hdr)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("fetch: reader request failed")
		return "", false
	}
	return string(body), true
}

func (f *Fetcher) httpClient() *Client {
	if f.HTTP != nil {
		return f.HTTP
	}
	return &Client{UserAgent: f.Config.UserAgent}
}

// isPDF checks the URL path suffix first (cheap, no network), falling back
// to a HEAD request's Content-Type.
func (f *Fetcher) isPDF(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}
	ct, err := f.httpClient().Head(ctx, rawURL)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(ct), "application/pdf")
}

// fetchPDF navigates to the document, prints it to PDF, then runs a
// bounded local document-extraction step guarded by the Scheduler's
// process-wide PDF mutex.
func (f *Fetcher) fetchPDF(ctx context.Context, rawURL string) string {
	navCtx, cancelNav := context.WithTimeout(ctx, navigationTimeout)
	defer cancelNav()

	pdfBytes, err := f.printToPDF(navCtx, rawURL)
	if err != nil {
		return fmt.Sprintf("Failed to fetch %s: %v", rawURL, err)
	}
	if f.Config.PDFMaxFilesize > 0 && int64(len(pdfBytes)) > f.Config.PDFMaxFilesize {
		return fmt.Sprintf("Error: PDF exceeds max filesize (%d bytes)", len(pdfBytes))
	}

	timeout := f.Config.PDFTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var release scheduler.Release
	if f.Scheduler != nil {
		r, err := f.Scheduler.AcquirePDF(ctx)
		if err != nil {
			return fmt.Sprintf("Error: PDF extraction cancelled: %v", err)
		}
		release = r
	}
	defer func() {
		if release != nil {
			release()
		}
	}()

	extractCtx, cancelExtract := context.WithTimeout(ctx, timeout)
	defer cancelExtract()

	text, err := f.extractPDFText(extractCtx, pdfBytes)
	if err != nil {
		if extractCtx.Err() != nil {
			return "Error: PDF extraction timed out"
		}
		return fmt.Sprintf("Failed to fetch %s: %v", rawURL, err)
	}
	return "# PDF Content\n" + text
}

func (f *Fetcher) printToPDF(ctx context.Context, rawURL string) ([]byte, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var buf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.ActionFunc(func(c context.Context) error {
			var printErr error
			buf, printErr = pagePrintToPDF(c)
			return printErr
		}),
	)
	return buf, err
}

// extractPDFText shells out to the configured document-extraction
// executable and bounds it to at most PDFMaxPages via a CLI flag when one
// is configured. The extractor's stdout is the plain-text result.
func (f *Fetcher) extractPDFText(ctx context.Context, pdfBytes []byte) (string, error) {
	if f.Config.PDFExtractorPath == "" {
		return "", fmt.Errorf("no PDF extractor configured")
	}
	tmp, err := os.CreateTemp("", "deepresearch-*.pdf")
	if err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(pdfBytes); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	args := []string{tmp.Name()}
	if f.Config.PDFMaxPages > 0 {
		args = append(args, "--max-pages", strconv.Itoa(f.Config.PDFMaxPages))
	}
	cmd := exec.CommandContext(ctx, f.Config.PDFExtractorPath, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdf extractor: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// fetchHTML renders the page and distills it: lite mode takes the page's
// innerText, full mode cleans the DOM and sends the HTML through the
// markdownify model.
func (f *Fetcher) fetchHTML(ctx context.Context, rawURL string) string {
	navCtx, cancelNav := context.WithTimeout(ctx, navigationTimeout)
	defer cancelNav()

	if f.Config.BrowseLite {
		title, text, err := f.renderInnerText(navCtx, rawURL)
		if err != nil {
			return fmt.Sprintf("Failed to fetch %s: %v", rawURL, err)
		}
		return "# " + title + "\n" + text
	}

	evalTimeout := f.Config.MaxEvalTime
	if evalTimeout <= 0 {
		evalTimeout = 20 * time.Second
	}
	evalCtx, cancelEval := context.WithTimeout(ctx, evalTimeout)
	defer cancelEval()

	title, rawHTML, err := f.renderOuterHTML(navCtx, rawURL)
	if err != nil {
		return fmt.Sprintf("Failed to fetch %s: %v", rawURL, err)
	}
	cleaned := extract.CleanHTML([]byte(rawHTML), f.Config.MaxHTMLLength)

	markdown, err := f.markdownifyViaProvider(evalCtx, cleaned.HTML)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("fetch: markdownify model call failed, using deterministic fallback")
		markdown, err = htmltomarkdown.ConvertString(cleaned.HTML)
		if err != nil {
			markdown = extract.Text([]byte(cleaned.HTML))
		}
		if strings.TrimSpace(markdown) == "" {
			return fmt.Sprintf("Error: could not distill %s", rawURL)
		}
	}
	if title == "" {
		title = cleaned.Title
	}
	if title == "" {
		if art, rerr := readability.FromReader(strings.NewReader(rawHTML), nil); rerr == nil {
			title = strings.TrimSpace(art.Title)
		}
	}
	return "# " + title + "\n" + strings.TrimSpace(markdown)
}

func (f *Fetcher) renderInnerText(ctx context.Context, rawURL string) (title, text string, err error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	err = chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Evaluate(`(document.querySelector('main') || document.body).innerText`, &text),
	)
	return title, text, err
}

func (f *Fetcher) renderOuterHTML(ctx context.Context, rawURL string) (title, html string, err error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	err = chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return title, html, err
}

// markdownifyViaProvider sends cleaned HTML through the dedicated small
// HTML-to-markdown model, bounded by ctx (MaxEvalTime).
func (f *Fetcher) markdownifyViaProvider(ctx context.Context, cleanedHTML string) (string, error) {
	if f.Provider == nil {
		return "", fmt.Errorf("no markdownify provider configured")
	}
	return f.Provider.Generate(ctx, provider.Request{
		Model:    f.Config.HTMLToMarkdownModel,
		Messages: buildMarkdownifyMessages(cleanedHTML),
	})
}

// buildMarkdownifyMessages wraps cleaned HTML as the single user turn sent
// to the HTML-to-markdown model.
func buildMarkdownifyMessages(cleanedHTML string) []message.WireMessage {
	return []message.WireMessage{
		{Role: "system", Content: "Convert the following HTML into clean Markdown. Output only the Markdown, no commentary."},
		{Role: "user", Content: cleanedHTML},
	}
}

// pagePrintToPDF renders the currently navigated page as a PDF document.
func pagePrintToPDF(ctx context.Context) ([]byte, error) {
	buf, _, err := page.PrintToPDF().WithPrintBackground(false).Do(ctx)
	return buf, err
}
