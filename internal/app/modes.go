package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kenbotlabs/lotwatch/internal/audit"
	"github.com/kenbotlabs/lotwatch/internal/domain"
	"github.com/kenbotlabs/lotwatch/internal/enrich"
	"github.com/kenbotlabs/lotwatch/internal/orchestrator"
	"github.com/kenbotlabs/lotwatch/internal/publish"
	"github.com/kenbotlabs/lotwatch/internal/scrape"
	"github.com/kenbotlabs/lotwatch/internal/textengine"
)

// buildOrchestrator assembles the pipeline from configuration and the wired
// dependencies.
func (a *App) buildOrchestrator(deps *Dependencies) *orchestrator.Orchestrator {
	scraper := scrape.New(scrape.Config{
		BaseURL:        a.cfg.Dealer.BaseURL,
		InventoryPath:  a.cfg.Dealer.InventoryPath,
		Pages:          a.cfg.Dealer.Pages,
		UserAgent:      a.cfg.Scrape.UserAgent,
		AcceptLanguage: a.cfg.Scrape.AcceptLanguage,
		PageTimeout:    a.cfg.Scrape.PageTimeout.Duration,
		RequestsPerSec: a.cfg.Scrape.RequestsPerSec,
	}, a.logger)

	var gen enrich.TextGenerator
	if a.cfg.TextEngine.URL != "" {
		gen = textengine.New(a.cfg.TextEngine.URL, a.cfg.TextEngine.Timeout.Duration)
	}
	enricher := enrich.New(gen, a.logger)

	poster := a.buildPoster()
	publisher := publish.New(poster, deps.PostStore, publish.Policy{
		PostPhotos: a.cfg.Facebook.PostPhotos,
		MaxPhotos:  a.cfg.Facebook.MaxPhotos,
	}, a.logger)

	return orchestrator.New(
		orchestrator.Config{
			Deadline:          a.cfg.Run.Deadline.Duration,
			LockTTL:           a.cfg.Run.LockTTL.Duration,
			RetryAttempts:     a.cfg.Run.RetryAttempts,
			RetryBackoff:      a.cfg.Run.RetryBackoff.Duration,
			EnrichWorkers:     a.cfg.Run.EnrichWorkers,
			MinInventoryAbs:   a.cfg.Sanity.MinInventoryAbs,
			MinInventoryRatio: a.cfg.Sanity.MinInventoryRatio,
		},
		scraper,
		enricher,
		publisher,
		deps.SnapshotStore,
		deps.RunStore,
		deps.LockManager,
		deps.SummaryCache,
		deps.BlobWriter,
		deps.Notifier,
		a.logger,
	)
}

// buildPoster returns the page client, or the dry-run stand-in that only
// logs what it would post.
func (a *App) buildPoster() publish.PagePoster {
	if a.cfg.Facebook.DryRun {
		return publish.NewDryRunPoster(a.logger)
	}
	return publish.NewFacebookClient(publish.FacebookConfig{
		PageID:      a.cfg.Facebook.PageID,
		AccessToken: a.cfg.Facebook.AccessToken,
		GraphVer:    a.cfg.Facebook.GraphVer,
	})
}

// OnceMode executes a single pipeline run and exits. This is the production
// mode: an external cron invokes the binary once per period.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	orch := a.buildOrchestrator(deps)

	summary, err := orch.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRunActive) {
			a.logger.WarnContext(ctx, "another run is active, exiting")
			return nil
		}
		return err
	}

	a.logger.InfoContext(ctx, "run finished",
		slog.String("run_id", summary.RunID),
		slog.String("stage", string(summary.Stage)),
	)
	return nil
}

// LoopMode runs the pipeline on an internal ticker until the context is
// cancelled. Intended for development; production scheduling is external.
func (a *App) LoopMode(ctx context.Context, deps *Dependencies) error {
	orch := a.buildOrchestrator(deps)
	interval := a.cfg.Run.Interval.Duration

	a.logger.InfoContext(ctx, "starting loop mode",
		slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := orch.RunOnce(ctx); err != nil {
			if errors.Is(err, domain.ErrRunActive) {
				a.logger.WarnContext(ctx, "run still active, skipping tick")
			} else {
				// A failed run aborts cleanly and the next tick starts
				// fresh from the committed snapshot.
				a.logger.ErrorContext(ctx, "run failed",
					slog.String("error", err.Error()))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AuditMode scans the post ledger against the committed snapshot, repairs
// drift unless dry-run is set, and exits.
func (a *App) AuditMode(ctx context.Context, deps *Dependencies) error {
	var editor audit.PostEditor
	if !a.cfg.Facebook.DryRun {
		editor = publish.NewFacebookClient(publish.FacebookConfig{
			PageID:      a.cfg.Facebook.PageID,
			AccessToken: a.cfg.Facebook.AccessToken,
			GraphVer:    a.cfg.Facebook.GraphVer,
		})
	}

	auditor := audit.New(
		deps.PostStore,
		deps.SnapshotStore,
		editor,
		deps.Notifier,
		a.cfg.Facebook.DryRun,
		a.logger,
	)

	findings, err := auditor.Run(ctx)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "audit finished",
		slog.Int("findings", len(findings)))
	return nil
}

// StatusMode reports the last run's summary and the state of the report
// archive, then exits. Reads the summary cache first and falls back to the
// run store when the cache is cold.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	summary, err := deps.SummaryCache.GetLast(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		run, lastErr := deps.RunStore.LoadLast(ctx)
		if errors.Is(lastErr, domain.ErrNotFound) {
			a.logger.InfoContext(ctx, "no runs recorded yet")
			return nil
		}
		if lastErr != nil {
			return lastErr
		}
		summary = run.Summarize()
	} else if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "last run",
		slog.String("run_id", summary.RunID),
		slog.String("stage", string(summary.Stage)),
		slog.Int("new", summary.New),
		slog.Int("sold", summary.Sold),
		slog.Int("price_changed", summary.PriceChanged),
		slog.Int("published", summary.Published),
		slog.Int("publish_fails", summary.PublishFails),
		slog.Duration("duration", summary.Duration),
	)

	if deps.BlobReader != nil {
		reports, err := deps.BlobReader.List(ctx, "runs/")
		if err != nil {
			a.logger.WarnContext(ctx, "report archive unavailable",
				slog.String("error", err.Error()))
			return nil
		}
		newest := time.Time{}
		for _, info := range reports {
			if info.LastModified.After(newest) {
				newest = info.LastModified
			}
		}
		a.logger.InfoContext(ctx, "report archive",
			slog.Int("reports", len(reports)),
			slog.Time("newest", newest),
		)
	}
	return nil
}
