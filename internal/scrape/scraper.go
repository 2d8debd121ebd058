package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// PageCapture is the raw body of one fetched listing page, kept for
// archival.
type PageCapture struct {
	URL    string
	PageNo int
	Body   []byte
}

// Result is the output of one full inventory scrape.
type Result struct {
	Records []domain.ListingRecord
	Pages   []PageCapture
	Outcome domain.ScrapeOutcome
}

// Config holds scraper parameters.
type Config struct {
	BaseURL        string
	InventoryPath  string
	Pages          int
	UserAgent      string
	AcceptLanguage string
	PageTimeout    time.Duration
	RequestsPerSec float64
}

// Scraper fetches the dealership's paginated inventory listing and every
// vehicle detail page, normalizing results into listing records.
type Scraper struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Scraper. Requests are rate limited to be polite to the
// dealer site.
func New(cfg Config, logger *slog.Logger) *Scraper {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	timeout := cfg.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scraper{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.With(slog.String("component", "scraper")),
	}
}

// FetchInventory scrapes the configured listing pages plus every discovered
// detail page and returns the observed records. Listing-page failures are
// tolerated as long as at least one page succeeds; detail-page failures skip
// that vehicle. Records missing a stock number or title are dropped, since
// no stable key can be derived for them.
func (s *Scraper) FetchInventory(ctx context.Context) (Result, error) {
	var res Result
	observedAt := time.Now().UTC()

	urlSet := map[string]bool{}
	for page := 1; page <= s.cfg.Pages; page++ {
		pageURL := s.cfg.BaseURL + s.cfg.InventoryPath
		if page > 1 {
			pageURL = fmt.Sprintf("%s?page=%d", pageURL, page)
		}

		body, err := s.get(ctx, pageURL)
		if err != nil {
			res.Outcome.PagesFailed++
			s.logger.WarnContext(ctx, "listing page fetch failed",
				slog.String("url", pageURL),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Outcome.PagesFetched++
		res.Pages = append(res.Pages, PageCapture{URL: pageURL, PageNo: page, Body: body})

		for _, u := range ParseListingURLs(s.cfg.BaseURL, s.cfg.InventoryPath, body) {
			urlSet[u] = true
		}
	}

	if res.Outcome.PagesFetched == 0 {
		res.Outcome.Error = "no listing page could be fetched"
		return res, fmt.Errorf("scrape: %w: no listing page could be fetched", domain.ErrScrapeFailed)
	}

	urls := make([]string, 0, len(urlSet))
	for u := range urlSet {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("scrape: cancelled: %w", err)
		}

		body, err := s.get(ctx, u)
		if err != nil {
			s.logger.WarnContext(ctx, "detail page fetch failed",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
			continue
		}

		d, err := ParseDetail(u, body)
		if err != nil {
			s.logger.WarnContext(ctx, "detail page parse failed",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
			continue
		}
		if d.Stock == "" || d.Title == "" {
			s.logger.DebugContext(ctx, "skipping listing without stock or title",
				slog.String("url", u),
			)
			continue
		}

		res.Records = append(res.Records, domain.ListingRecord{
			Key:        domain.MakeListingKey(d.Title, d.Stock),
			Stock:      d.Stock,
			VIN:        d.VIN,
			Title:      d.Title,
			Price:      d.Price,
			MileageKM:  d.MileageKM,
			PhotoURLs:  d.Photos,
			SourceURL:  d.URL,
			ObservedAt: observedAt,
		})
	}

	res.Outcome.Listings = len(res.Records)
	s.logger.InfoContext(ctx, "inventory scrape complete",
		slog.Int("pages", res.Outcome.PagesFetched),
		slog.Int("listings", res.Outcome.Listings),
	)
	return res, nil
}

func (s *Scraper) get(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	if s.cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", s.cfg.AcceptLanguage)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
