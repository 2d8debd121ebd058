// Package enrich attaches generated ad text to change events. Each event is
// enriched independently; a text-engine failure falls back to a
// deterministic template so the pipeline never blocks on the generator.
package enrich

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// TextGenerator produces ad text for one change event. Implemented by the
// textengine client.
type TextGenerator interface {
	Generate(ctx context.Context, ev domain.ChangeEvent) (string, error)
}

// Enricher turns change events into enriched events.
type Enricher struct {
	gen    TextGenerator
	logger *slog.Logger
}

// New creates an Enricher. gen may be nil, in which case every event gets
// the fallback template.
func New(gen TextGenerator, logger *slog.Logger) *Enricher {
	return &Enricher{
		gen:    gen,
		logger: logger.With(slog.String("component", "enricher")),
	}
}

// Enrich attaches text to one event. It never fails: on generator error the
// deterministic fallback template is used and the event is flagged so the
// run record reflects the degraded outcome.
func (e *Enricher) Enrich(ctx context.Context, ev domain.ChangeEvent) domain.EnrichedEvent {
	if e.gen != nil {
		text, err := e.gen.Generate(ctx, ev)
		if err == nil {
			return domain.EnrichedEvent{ChangeEvent: ev, Text: text}
		}
		e.logger.WarnContext(ctx, "text generation failed, using fallback",
			slog.String("key", string(ev.Key)),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}

	return domain.EnrichedEvent{
		ChangeEvent: ev,
		Text:        FallbackText(ev),
		Fallback:    true,
	}
}

// SoldBanner is prepended to a post's text once the vehicle is gone.
const SoldBanner = "🚨 VENDU 🚨\n\n" +
	"Ce véhicule n’est plus disponible.\n\n" +
	"👉 Vous recherchez un véhicule semblable ?\n" +
	"Contactez-moi directement, je peux vous aider à en trouver un rapidement.\n\n" +
	"Daniel Giroux\n" +
	"📞 418-222-3939\n" +
	"────────────────────\n\n"

// FallbackText builds the deterministic template text for an event. The
// output depends only on the event's kind and records.
func FallbackText(ev domain.ChangeEvent) string {
	rec := ev.Record()
	switch ev.Kind {
	case domain.EventSold:
		return SoldBanner + "Ce véhicule est vendu."
	case domain.EventPriceChanged:
		return fmt.Sprintf("💰 Nouveau prix : %s\n%s ➜ %s\nKilométrage : %d km\n👉 %s\n",
			rec.Title, ev.Before.Price, ev.After.Price, rec.MileageKM, rec.SourceURL)
	default:
		return fmt.Sprintf("🚗 %s\nPrix : %s\nKilométrage : %d km\n👉 %s\n",
			rec.Title, rec.Price, rec.MileageKM, rec.SourceURL)
	}
}
