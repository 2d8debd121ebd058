package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// DryRunPoster implements PagePoster without calling Facebook. Every
// operation succeeds and is logged, so a full pipeline run can be rehearsed
// against production data.
type DryRunPoster struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// NewDryRunPoster creates a DryRunPoster.
func NewDryRunPoster(logger *slog.Logger) *DryRunPoster {
	return &DryRunPoster{logger: logger.With(slog.String("component", "dry_run_poster"))}
}

func (d *DryRunPoster) UploadUnpublishedPhoto(ctx context.Context, photoURL string) (string, error) {
	d.logger.InfoContext(ctx, "dry run: would upload photo", slog.String("url", photoURL))
	return fmt.Sprintf("dryrun-media-%d", d.seq.Add(1)), nil
}

func (d *DryRunPoster) CreatePost(ctx context.Context, message string, mediaIDs []string) (string, error) {
	d.logger.InfoContext(ctx, "dry run: would create post",
		slog.Int("media", len(mediaIDs)),
		slog.Int("message_len", len(message)),
	)
	return fmt.Sprintf("dryrun-post-%d", d.seq.Add(1)), nil
}

func (d *DryRunPoster) UpdatePostText(ctx context.Context, postID, message string) error {
	d.logger.InfoContext(ctx, "dry run: would update post text",
		slog.String("post_id", postID),
		slog.Int("message_len", len(message)),
	)
	return nil
}

func (d *DryRunPoster) AttachPhotoComment(ctx context.Context, postID, photoURL string) error {
	d.logger.InfoContext(ctx, "dry run: would attach photo comment",
		slog.String("post_id", postID),
		slog.String("url", photoURL),
	)
	return nil
}
