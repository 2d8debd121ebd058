package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kenbotlabs/lotwatch/internal/domain"
	"github.com/kenbotlabs/lotwatch/internal/enrich"
)

// PagePoster is the Graph API surface the publisher needs. Implemented by
// FacebookClient; tests supply fakes.
type PagePoster interface {
	UploadUnpublishedPhoto(ctx context.Context, photoURL string) (string, error)
	CreatePost(ctx context.Context, message string, mediaIDs []string) (string, error)
	UpdatePostText(ctx context.Context, postID, message string) error
	AttachPhotoComment(ctx context.Context, postID, photoURL string) error
}

// Policy holds the photo attachment tiers: the first PostPhotos photo URLs
// are required content, the remainder up to MaxPhotos are best-effort.
type Policy struct {
	PostPhotos int
	MaxPhotos  int
}

// Publisher publishes one enriched event to the page, consulting the post
// ledger so a listing that already has an active post is updated rather than
// duplicated. One publish attempt is made per event per run; the orchestrator
// never hands the same (run, key, kind) to Publish twice.
type Publisher struct {
	poster PagePoster
	posts  domain.PostStore
	policy Policy
	logger *slog.Logger
}

// New creates a Publisher.
func New(poster PagePoster, posts domain.PostStore, policy Policy, logger *slog.Logger) *Publisher {
	if policy.PostPhotos <= 0 {
		policy.PostPhotos = 10
	}
	if policy.MaxPhotos < policy.PostPhotos {
		policy.MaxPhotos = policy.PostPhotos
	}
	return &Publisher{
		poster: poster,
		posts:  posts,
		policy: policy,
		logger: logger.With(slog.String("component", "publisher")),
	}
}

// Publish delivers one enriched event.
//
//   - SOLD: the existing post's text is replaced with the sold message and
//     the ledger entry is marked SOLD. No post means nothing to update.
//   - NEW and PRICE_CHANGED with an existing active post: text update.
//   - NEW and PRICE_CHANGED without a post: create a post with the primary
//     photo batch attached, then best-effort extra photos as comments.
//
// Failures are returned inside the outcome, never as a Go error: a publish
// failure degrades this one event, not the run.
func (p *Publisher) Publish(ctx context.Context, ev domain.EnrichedEvent) domain.PublishOutcome {
	existing, err := p.posts.Get(ctx, ev.Key)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		existing = domain.PostRecord{}
	default:
		return failed(fmt.Errorf("load post record: %w", err))
	}

	if ev.Kind == domain.EventSold {
		return p.publishSold(ctx, ev, existing)
	}

	if existing.PostID != "" {
		return p.updateExisting(ctx, ev, existing)
	}
	return p.createPost(ctx, ev)
}

func (p *Publisher) publishSold(ctx context.Context, ev domain.EnrichedEvent, existing domain.PostRecord) domain.PublishOutcome {
	now := time.Now().UTC()

	if existing.PostID == "" {
		// Never posted; just record the sale.
		_ = p.upsert(ctx, domain.PostRecord{
			Key:           ev.Key,
			Status:        domain.PostStatusSold,
			SoldAt:        &now,
			LastUpdatedAt: now,
		})
		return domain.PublishOutcome{Status: domain.PublishStatusSkipped}
	}

	// Prefer the last clean ad text from the ledger so the banner lands on
	// top of what the post actually says, not a freshly generated rewrite.
	soldText := ev.Text
	if existing.BaseText != "" {
		soldText = enrich.SoldBanner + existing.BaseText
	}

	outcome := domain.PublishOutcome{Status: domain.PublishStatusPublished, PostID: existing.PostID}
	if existing.Status != domain.PostStatusSold {
		if err := p.poster.UpdatePostText(ctx, existing.PostID, soldText); err != nil {
			p.logger.WarnContext(ctx, "sold text update failed",
				slog.String("key", string(ev.Key)),
				slog.String("post_id", existing.PostID),
				slog.String("error", err.Error()),
			)
			outcome = domain.PublishOutcome{
				Status: domain.PublishStatusFailed,
				PostID: existing.PostID,
				Error:  err.Error(),
			}
		}
	}

	existing.Status = domain.PostStatusSold
	existing.SoldAt = &now
	existing.LastUpdatedAt = now
	if err := p.upsert(ctx, existing); err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}

func (p *Publisher) updateExisting(ctx context.Context, ev domain.EnrichedEvent, existing domain.PostRecord) domain.PublishOutcome {
	if err := p.poster.UpdatePostText(ctx, existing.PostID, ev.Text); err != nil {
		return domain.PublishOutcome{
			Status: domain.PublishStatusFailed,
			PostID: existing.PostID,
			Error:  err.Error(),
		}
	}

	existing.Status = domain.PostStatusActive
	existing.BaseText = ev.Text
	existing.LastUpdatedAt = time.Now().UTC()
	if err := p.upsert(ctx, existing); err != nil {
		return domain.PublishOutcome{
			Status: domain.PublishStatusPublished,
			PostID: existing.PostID,
			Error:  err.Error(),
		}
	}
	return domain.PublishOutcome{Status: domain.PublishStatusPublished, PostID: existing.PostID}
}

func (p *Publisher) createPost(ctx context.Context, ev domain.EnrichedEvent) domain.PublishOutcome {
	photos := ev.Record().PhotoURLs
	if len(photos) > p.policy.MaxPhotos {
		photos = photos[:p.policy.MaxPhotos]
	}
	primary := photos
	var extra []string
	if len(photos) > p.policy.PostPhotos {
		primary = photos[:p.policy.PostPhotos]
		extra = photos[p.policy.PostPhotos:]
	}

	// Primary batch is required content: any upload failure fails the
	// publish, no partial post is created.
	mediaIDs := make([]string, 0, len(primary))
	for _, u := range primary {
		mid, err := p.poster.UploadUnpublishedPhoto(ctx, u)
		if err != nil {
			return failed(fmt.Errorf("upload primary photo: %w", err))
		}
		mediaIDs = append(mediaIDs, mid)
	}

	postID, err := p.poster.CreatePost(ctx, ev.Text, mediaIDs)
	if err != nil {
		return failed(fmt.Errorf("create post: %w", err))
	}

	attached := len(mediaIDs)
	for _, u := range extra {
		if err := p.poster.AttachPhotoComment(ctx, postID, u); err != nil {
			p.logger.DebugContext(ctx, "extra photo attach failed",
				slog.String("key", string(ev.Key)),
				slog.String("error", err.Error()),
			)
			continue
		}
		attached++
	}

	now := time.Now().UTC()
	outcome := domain.PublishOutcome{
		Status:         domain.PublishStatusPublished,
		PostID:         postID,
		PhotosAttached: attached,
	}
	if err := p.upsert(ctx, domain.PostRecord{
		Key:           ev.Key,
		PostID:        postID,
		Status:        domain.PostStatusActive,
		BaseText:      ev.Text,
		PublishedAt:   now,
		LastUpdatedAt: now,
	}); err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}

func (p *Publisher) upsert(ctx context.Context, rec domain.PostRecord) error {
	if err := p.posts.Upsert(ctx, rec); err != nil {
		p.logger.ErrorContext(ctx, "post ledger upsert failed",
			slog.String("key", string(rec.Key)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("post ledger upsert: %w", err)
	}
	return nil
}

func failed(err error) domain.PublishOutcome {
	return domain.PublishOutcome{Status: domain.PublishStatusFailed, Error: err.Error()}
}
