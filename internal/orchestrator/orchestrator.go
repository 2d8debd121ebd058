// Package orchestrator sequences one scheduled pipeline execution: scrape,
// diff, enrich, publish, persist. It owns the run state machine, the sanity
// gate against implausible inventory shrinks, the bounded retry policy, and
// the guarantee that the stored snapshot never advances past a run whose
// events were lost.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kenbotlabs/lotwatch/internal/domain"
	"github.com/kenbotlabs/lotwatch/internal/notify"
	"github.com/kenbotlabs/lotwatch/internal/reconcile"
	"github.com/kenbotlabs/lotwatch/internal/scrape"
)

// runLockKey guards the snapshot store against concurrent runs across
// processes.
const runLockKey = "inventory_run"

// Fetcher scrapes the dealership inventory. Implemented by scrape.Scraper.
type Fetcher interface {
	FetchInventory(ctx context.Context) (scrape.Result, error)
}

// Enricher attaches ad text to one event. Implemented by enrich.Enricher.
type Enricher interface {
	Enrich(ctx context.Context, ev domain.ChangeEvent) domain.EnrichedEvent
}

// Publisher delivers one enriched event. Implemented by publish.Publisher.
type Publisher interface {
	Publish(ctx context.Context, ev domain.EnrichedEvent) domain.PublishOutcome
}

// Notifier delivers the run summary to the operator channels. Implemented
// by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds run orchestration parameters.
type Config struct {
	Deadline          time.Duration
	LockTTL           time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	EnrichWorkers     int
	MinInventoryAbs   int
	MinInventoryRatio float64
}

// Orchestrator executes runs. Locks, summaries, blobs, and notifier are
// optional; a nil value disables that concern.
type Orchestrator struct {
	cfg       Config
	fetcher   Fetcher
	enricher  Enricher
	publisher Publisher
	snapshots domain.SnapshotStore
	runs      domain.RunStore
	locks     domain.LockManager
	summaries domain.SummaryCache
	blobs     domain.BlobWriter
	notifier  Notifier
	logger    *slog.Logger

	running atomic.Bool
}

// New creates an Orchestrator.
func New(
	cfg Config,
	fetcher Fetcher,
	enricher Enricher,
	publisher Publisher,
	snapshots domain.SnapshotStore,
	runs domain.RunStore,
	locks domain.LockManager,
	summaries domain.SummaryCache,
	blobs domain.BlobWriter,
	notifier Notifier,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.EnrichWorkers < 1 {
		cfg.EnrichWorkers = 1
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		enricher:  enricher,
		publisher: publisher,
		snapshots: snapshots,
		runs:      runs,
		locks:     locks,
		summaries: summaries,
		blobs:     blobs,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// RunOnce executes one full pipeline run. It is the only externally callable
// surface: the external scheduler invokes it once per period. A trigger that
// arrives while a run is active is rejected with ErrRunActive, in-process
// via an atomic guard and across processes via the distributed lock.
func (o *Orchestrator) RunOnce(ctx context.Context) (domain.Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return domain.Summary{}, domain.ErrRunActive
	}
	defer o.running.Store(false)

	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, runLockKey, o.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.Summary{}, domain.ErrRunActive
			}
			return domain.Summary{}, fmt.Errorf("orchestrator: acquire run lock: %w", err)
		}
		defer unlock()
	}

	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	// Surface an aborted predecessor so the operator can connect a burst of
	// re-detected events to the earlier failure.
	if last, err := o.runs.LoadLast(ctx); err == nil && last.Stage == domain.StageAborted {
		o.logger.WarnContext(ctx, "previous run aborted",
			slog.String("run_id", last.ID),
			slog.String("reason", last.AbortReason),
		)
	}

	run := domain.RunRecord{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Stage:     domain.StageScraping,
	}
	o.logger.InfoContext(ctx, "run starting", slog.String("run_id", run.ID))

	if err := o.withRetry(ctx, "begin run", func(c context.Context) error {
		return o.runs.Begin(c, run)
	}); err != nil {
		return domain.Summary{}, fmt.Errorf("orchestrator: %w", err)
	}

	// ── SCRAPING ──
	var res scrape.Result
	scrapeErr := o.withRetry(ctx, "scrape inventory", func(c context.Context) (err error) {
		res, err = o.fetcher.FetchInventory(c)
		return err
	})
	run.Scrape = res.Outcome
	if scrapeErr != nil {
		run.Scrape.Error = scrapeErr.Error()
		return o.abort(ctx, run, "scrape failed: "+scrapeErr.Error()), scrapeErr
	}

	o.archivePages(ctx, run.ID, res.Pages)

	current := domain.Snapshot{}
	for _, rec := range res.Records {
		current[rec.Key] = rec
	}

	var previous domain.Snapshot
	if err := o.withRetry(ctx, "load snapshot", func(c context.Context) (err error) {
		previous, err = o.snapshots.Load(c)
		return err
	}); err != nil {
		return o.abort(ctx, run, "load previous snapshot: "+err.Error()), err
	}

	// Sanity gate: a drastic shrink is far more likely a broken scrape
	// than a mass sell-off. Bail before the diff can emit SOLD for the
	// whole lot. First-ever runs have no baseline to compare against.
	if len(previous) > 0 {
		if gateErr := o.checkSanity(len(previous), len(current)); gateErr != nil {
			return o.abort(ctx, run, gateErr.Error()), gateErr
		}
	}

	// ── DIFFING ──
	run.Stage = domain.StageDiffing
	events := reconcile.Diff(previous, current, run.ID, time.Now().UTC())
	o.logger.InfoContext(ctx, "reconciliation complete",
		slog.String("run_id", run.ID),
		slog.Int("previous", len(previous)),
		slog.Int("current", len(current)),
		slog.Int("events", len(events)),
	)

	// ── ENRICHING ──
	// Events are independent once the deterministic list exists, so text
	// generation fans out across workers. Enrich never fails; generator
	// errors degrade to the fallback template.
	run.Stage = domain.StageEnriching
	enriched := make([]domain.EnrichedEvent, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EnrichWorkers)
	for i, ev := range events {
		i, ev := i, ev
		g.Go(func() error {
			enriched[i] = o.enricher.Enrich(gctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	// ── PUBLISHING ──
	// Sequential and in event order: page feed ordering should follow the
	// deterministic event order, and each outcome is appended to the run
	// record as it completes.
	run.Stage = domain.StagePublishing
	for _, ev := range enriched {
		outcome := o.publisher.Publish(ctx, ev)

		item := domain.RunItem{
			Event:        ev.ChangeEvent,
			Text:         ev.Text,
			TextFallback: ev.Fallback,
			Publish:      outcome,
			CompletedAt:  time.Now().UTC(),
		}
		run.Items = append(run.Items, item)

		if err := o.withRetry(ctx, "append run item", func(c context.Context) error {
			return o.runs.AppendItem(c, run.ID, item)
		}); err != nil {
			o.logger.ErrorContext(ctx, "run item not recorded",
				slog.String("run_id", run.ID),
				slog.String("key", string(ev.Key)),
				slog.String("error", err.Error()),
			)
		}
	}

	// ── PERSISTING ──
	run.Stage = domain.StageDone
	run.FinishedAt = time.Now().UTC()
	if err := o.withRetry(ctx, "commit snapshot", func(c context.Context) error {
		return o.snapshots.Commit(c, current, run)
	}); err != nil {
		persistErr := fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
		return o.abort(ctx, run, persistErr.Error()), persistErr
	}

	summary := run.Summarize()
	o.finish(ctx, run, summary)
	return summary, nil
}

// checkSanity applies the implausible-shrink gate.
func (o *Orchestrator) checkSanity(previous, current int) error {
	if current < o.cfg.MinInventoryAbs {
		return fmt.Errorf("%w: %d listings scraped, floor is %d",
			domain.ErrSanityGate, current, o.cfg.MinInventoryAbs)
	}
	if o.cfg.MinInventoryRatio > 0 {
		if float64(current) < o.cfg.MinInventoryRatio*float64(previous) {
			return fmt.Errorf("%w: %d listings scraped vs %d stored (ratio floor %.2f)",
				domain.ErrSanityGate, current, previous, o.cfg.MinInventoryRatio)
		}
	}
	return nil
}

// abort closes the run as ABORTED without touching the snapshot store. The
// previously committed snapshot stays authoritative for the next run.
func (o *Orchestrator) abort(ctx context.Context, run domain.RunRecord, reason string) domain.Summary {
	run.Stage = domain.StageAborted
	run.AbortReason = reason
	run.FinishedAt = time.Now().UTC()

	// Best effort: the abort reason must be visible to the operator, but a
	// failing run store cannot be allowed to mask the original failure.
	if err := o.runs.Finish(ctx, run); err != nil {
		o.logger.ErrorContext(ctx, "abort not recorded",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	o.logger.ErrorContext(ctx, "run aborted",
		slog.String("run_id", run.ID),
		slog.String("reason", reason),
	)

	summary := run.Summarize()
	o.publishSummary(ctx, run, summary)
	return summary
}

func (o *Orchestrator) finish(ctx context.Context, run domain.RunRecord, summary domain.Summary) {
	o.logger.InfoContext(ctx, "run complete",
		slog.String("run_id", run.ID),
		slog.Int("new", summary.New),
		slog.Int("sold", summary.Sold),
		slog.Int("price_changed", summary.PriceChanged),
		slog.Int("published", summary.Published),
		slog.Int("publish_fails", summary.PublishFails),
		slog.Int("text_fallback", summary.TextFallback),
		slog.Duration("duration", summary.Duration),
	)
	o.publishSummary(ctx, run, summary)
}

// publishSummary pushes the summary to the cache, the archive, and the
// operator channels. All best-effort.
func (o *Orchestrator) publishSummary(ctx context.Context, run domain.RunRecord, summary domain.Summary) {
	if o.summaries != nil {
		if err := o.summaries.SetLast(ctx, summary); err != nil {
			o.logger.WarnContext(ctx, "summary cache update failed",
				slog.String("error", err.Error()))
		}
	}

	if o.blobs != nil {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err == nil {
			path := fmt.Sprintf("runs/%s.json", run.ID)
			if err := o.blobs.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
				o.logger.WarnContext(ctx, "summary archive failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if o.notifier != nil {
		event := notifyEventForStage(run.Stage)
		title, message := formatSummary(summary)
		if err := o.notifier.Notify(ctx, event, title, message); err != nil {
			o.logger.WarnContext(ctx, "summary notification failed",
				slog.String("error", err.Error()))
		}
	}
}

// archivePages uploads the raw listing-page HTML captured during the
// scrape. Best-effort: archival is for later debugging, not correctness.
func (o *Orchestrator) archivePages(ctx context.Context, runID string, pages []scrape.PageCapture) {
	if o.blobs == nil {
		return
	}
	for _, page := range pages {
		path := fmt.Sprintf("raw_pages/%s/page_%02d.html", runID, page.PageNo)
		if err := o.blobs.Put(ctx, path, bytes.NewReader(page.Body), "text/html"); err != nil {
			o.logger.WarnContext(ctx, "raw page archive failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	return retry(ctx, o.cfg.RetryAttempts, o.cfg.RetryBackoff, op, o.logger, fn)
}

func notifyEventForStage(stage domain.RunStage) string {
	if stage == domain.StageAborted {
		return notify.EventRunAborted
	}
	return notify.EventRunDone
}

func formatSummary(s domain.Summary) (string, string) {
	return notify.FormatSummary(s)
}
