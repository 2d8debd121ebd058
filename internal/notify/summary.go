package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// Event types used to filter run notifications.
const (
	EventRunDone    = "run_done"
	EventRunAborted = "run_aborted"
	EventGhostPosts = "ghost_posts"
)

// FormatSummary renders a run summary as a notification title and body.
func FormatSummary(s domain.Summary) (title, message string) {
	if s.Stage == domain.StageAborted {
		title = "Inventory run aborted"
		message = fmt.Sprintf("run %s aborted: %s (after %s)",
			s.RunID, s.AbortReason, s.Duration.Round(time.Second))
		return title, message
	}

	title = "Inventory run complete"
	var b strings.Builder
	fmt.Fprintf(&b, "run %s finished in %s\n", s.RunID, s.Duration.Round(time.Second))
	fmt.Fprintf(&b, "NEW=%d SOLD=%d PRICE_CHANGED=%d\n", s.New, s.Sold, s.PriceChanged)
	fmt.Fprintf(&b, "published=%d failed=%d fallback_text=%d", s.Published, s.PublishFails, s.TextFallback)
	return title, b.String()
}
