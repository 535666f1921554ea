// Package fetcher is the pluggable capability that turns a remote album URL
// into an AlbumManifest and downloads individual image URLs to disk. The
// core engine only ever talks to the Fetcher interface, never HTTPFetcher
// directly, so tests can substitute a fake.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kmkr/telegrab-go/internal/network"
)

// telegraphOrigin is prefixed onto root-relative image sources, matching the
// one source site this scraper targets.
const telegraphOrigin = "https://telegra.ph"

// AlbumManifest is the parsed representation of a remote album page.
type AlbumManifest struct {
	URL       string
	Title     string
	Date      string // ISO-8601, empty if the page had no <time> element
	ImageURLs []string
}

// DownloadResult reports the outcome of a single successful download.
type DownloadResult struct {
	Size     int64
	Duration time.Duration
	Speed    float64 // bytes/sec; equals Size when Duration < 1s
}

// HTTPError is returned by Download when the server responds with a
// non-2xx status.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetcher: unexpected HTTP status %d", e.Code)
}

// Fetcher is the capability the core engine's handlers depend on.
type Fetcher interface {
	ParseAlbum(ctx context.Context, url string) (AlbumManifest, error)
	Download(ctx context.Context, url, path string) (DownloadResult, error)
}

// HTTPFetcher is the production Fetcher: plain net/http GETs, goquery HTML
// selection, and an optional global rate limiter shared across downloads,
// a single GET per image rather than ranged multi-part transfers.
type HTTPFetcher struct {
	client    *http.Client
	bandwidth *network.BandwidthManager
	userAgent string
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithRateLimit caps aggregate download throughput in bytes/sec. 0 disables
// the limiter.
func WithRateLimit(bytesPerSec int) Option {
	return func(f *HTTPFetcher) {
		f.bandwidth.SetLimit(bytesPerSec)
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

const defaultUserAgent = "Mozilla/5.0 (compatible; telegrab-go/1.0)"

// New constructs an HTTPFetcher with sane connect/read timeouts.
func New(opts ...Option) *HTTPFetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	f := &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
		bandwidth: network.NewBandwidthManager(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	return req, nil
}

// ParseAlbum fetches url and extracts the page title, optional date, and
// the ordered, deduplicated list of image URLs.
func (f *HTTPFetcher) ParseAlbum(ctx context.Context, url string) (AlbumManifest, error) {
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return AlbumManifest{}, fmt.Errorf("fetcher: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return AlbumManifest{}, fmt.Errorf("fetcher: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return AlbumManifest{}, &HTTPError{Code: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return AlbumManifest{}, fmt.Errorf("fetcher: parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())

	date := ""
	if t := doc.Find("time").First(); t.Length() > 0 {
		if dt, ok := t.Attr("datetime"); ok && dt != "" {
			date = dt
		} else {
			date = strings.TrimSpace(t.Text())
		}
	}

	seen := make(map[string]struct{})
	var imageURLs []string
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok {
			return
		}
		switch {
		case strings.HasPrefix(src, "http"):
			// verbatim
		case strings.HasPrefix(src, "/"):
			src = telegraphOrigin + src
		default:
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		imageURLs = append(imageURLs, src)
	})

	return AlbumManifest{URL: url, Title: title, Date: date, ImageURLs: imageURLs}, nil
}

// Download GETs url and writes the response body to path, overwriting any
// existing file. Non-2xx responses return *HTTPError.
func (f *HTTPFetcher) Download(ctx context.Context, url, path string) (DownloadResult, error) {
	start := time.Now()

	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("fetcher: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("fetcher: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DownloadResult{}, &HTTPError{Code: resp.StatusCode}
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("fetcher: open %s: %w", path, err)
	}
	defer out.Close()

	var body io.Reader = resp.Body
	size, err := f.copyThrottled(ctx, out, body)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("fetcher: write %s: %w", path, err)
	}

	duration := time.Since(start)
	speed := float64(size)
	if duration >= time.Second {
		speed = float64(size) / duration.Seconds()
	}

	return DownloadResult{Size: size, Duration: duration, Speed: speed}, nil
}

const downloadBufSize = 32 * 1024

func (f *HTTPFetcher) copyThrottled(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, downloadBufSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if err := f.bandwidth.Wait(ctx, n); err != nil {
				return total, err
			}
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
	}
}

// LastPathSegment returns the final "/"-delimited segment of a URL path,
// used for picDir naming and default archive filenames.
func LastPathSegment(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// Extension returns the lowercase file extension (without dot) of a URL's
// last path segment, or def if none is present.
func Extension(rawURL, def string) string {
	seg := LastPathSegment(rawURL)
	if qi := strings.IndexAny(seg, "?#"); qi >= 0 {
		seg = seg[:qi]
	}
	idx := strings.LastIndex(seg, ".")
	if idx < 0 || idx == len(seg)-1 {
		return def
	}
	return strings.ToLower(seg[idx+1:])
}
