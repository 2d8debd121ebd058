// Package audit cross-checks the post ledger against the committed inventory
// snapshot. Publishing is best-effort per event, so the ledger can drift: a
// vehicle leaves the lot but its post is never marked sold (a ghost post), or
// a sold-marked vehicle reappears in inventory. The audit reports the drift
// and, outside dry-run, repairs it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kenbotlabs/lotwatch/internal/domain"
	"github.com/kenbotlabs/lotwatch/internal/enrich"
	"github.com/kenbotlabs/lotwatch/internal/notify"
)

// PostEditor is the slice of the page client the auditor needs.
type PostEditor interface {
	UpdatePostText(ctx context.Context, postID, text string) error
}

// Notifier delivers the audit report.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Finding is one ledger/snapshot mismatch.
type Finding struct {
	Key    domain.ListingKey
	PostID string
	Kind   FindingKind
}

// FindingKind classifies a mismatch.
type FindingKind string

const (
	// FindingGhost: the post is ACTIVE but the vehicle is gone from the
	// snapshot. A SOLD event was missed or its publish failed.
	FindingGhost FindingKind = "GHOST"
	// FindingRelisted: the post is marked SOLD but the vehicle is back in
	// the snapshot, usually a sale that fell through.
	FindingRelisted FindingKind = "RELISTED"
)

// Auditor detects and repairs ledger drift.
type Auditor struct {
	posts    domain.PostStore
	snaps    domain.SnapshotStore
	editor   PostEditor
	notifier Notifier
	dryRun   bool
	logger   *slog.Logger
}

// New creates an Auditor. editor and notifier may be nil: a nil editor makes
// Repair report-only for ghost posts, a nil notifier skips the report.
func New(posts domain.PostStore, snaps domain.SnapshotStore, editor PostEditor, notifier Notifier, dryRun bool, logger *slog.Logger) *Auditor {
	return &Auditor{
		posts:    posts,
		snaps:    snaps,
		editor:   editor,
		notifier: notifier,
		dryRun:   dryRun,
		logger:   logger.With(slog.String("component", "audit")),
	}
}

// Scan compares every ledger entry against the committed snapshot and returns
// the mismatches, sorted by listing key.
func (a *Auditor) Scan(ctx context.Context) ([]Finding, error) {
	snap, err := a.snaps.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: load snapshot: %w", err)
	}

	active, err := a.posts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: list active posts: %w", err)
	}

	var findings []Finding
	for _, p := range active {
		if _, ok := snap[p.Key]; !ok {
			findings = append(findings, Finding{Key: p.Key, PostID: p.PostID, Kind: FindingGhost})
		}
	}

	// Relisted vehicles: snapshot entries whose ledger record says SOLD.
	for _, key := range snap.Keys() {
		post, err := a.posts.Get(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("audit: load post %s: %w", key, err)
		}
		if post.Status == domain.PostStatusSold {
			findings = append(findings, Finding{Key: key, PostID: post.PostID, Kind: FindingRelisted})
		}
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Key < findings[j].Key })
	return findings, nil
}

// Run scans, repairs each finding unless dry-run, and sends the report. The
// returned findings describe what was detected regardless of repair outcome.
func (a *Auditor) Run(ctx context.Context) ([]Finding, error) {
	findings, err := a.Scan(ctx)
	if err != nil {
		return nil, err
	}

	repaired := 0
	for _, f := range findings {
		if a.dryRun {
			a.logger.InfoContext(ctx, "dry run, skipping repair",
				slog.String("key", string(f.Key)),
				slog.String("kind", string(f.Kind)),
			)
			continue
		}
		if err := a.repair(ctx, f); err != nil {
			a.logger.ErrorContext(ctx, "repair failed",
				slog.String("key", string(f.Key)),
				slog.String("kind", string(f.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		repaired++
	}

	a.report(ctx, findings, repaired)
	return findings, nil
}

// repair reconciles one finding: ghost posts get the sold banner and a SOLD
// ledger entry, relisted posts get their clean text back and go ACTIVE again.
func (a *Auditor) repair(ctx context.Context, f Finding) error {
	post, err := a.posts.Get(ctx, f.Key)
	if err != nil {
		return fmt.Errorf("load post: %w", err)
	}

	now := time.Now().UTC()
	switch f.Kind {
	case FindingGhost:
		if post.PostID != "" && a.editor != nil {
			text := enrich.SoldBanner + post.BaseText
			if err := a.editor.UpdatePostText(ctx, post.PostID, text); err != nil {
				return fmt.Errorf("update post text: %w", err)
			}
		}
		post.Status = domain.PostStatusSold
		post.SoldAt = &now

	case FindingRelisted:
		if post.PostID != "" && a.editor != nil && post.BaseText != "" {
			if err := a.editor.UpdatePostText(ctx, post.PostID, post.BaseText); err != nil {
				return fmt.Errorf("restore post text: %w", err)
			}
		}
		post.Status = domain.PostStatusActive
		post.SoldAt = nil
	}

	post.LastUpdatedAt = now
	if err := a.posts.Upsert(ctx, post); err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}
	return nil
}

func (a *Auditor) report(ctx context.Context, findings []Finding, repaired int) {
	a.logger.InfoContext(ctx, "audit complete",
		slog.Int("findings", len(findings)),
		slog.Int("repaired", repaired),
		slog.Bool("dry_run", a.dryRun),
	)
	if a.notifier == nil || len(findings) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d ledger mismatches (%d repaired, dry_run=%t)\n", len(findings), repaired, a.dryRun)
	for _, f := range findings {
		fmt.Fprintf(&b, "%s %s post_id=%s\n", f.Kind, f.Key, f.PostID)
	}
	if err := a.notifier.Notify(ctx, notify.EventGhostPosts, "Post ledger audit", strings.TrimRight(b.String(), "\n")); err != nil {
		a.logger.WarnContext(ctx, "audit notification failed",
			slog.String("error", err.Error()))
	}
}
