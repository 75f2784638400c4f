package poller

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// DetailLimit is the number of most recent activities enriched per cycle.
const DetailLimit = 50

// sortDate returns the start_date.date of an activity entry, if it has one.
func sortDate(entry map[string]any) (string, bool) {
	start, ok := entry["start_date"].(map[string]any)
	if !ok {
		return "", false
	}
	date, ok := start["date"].(string)
	return date, ok && date != ""
}

// Merge overlays detail onto entry. Keys present in both take the detail's
// value. Neither input is modified.
func Merge(entry, detail map[string]any) map[string]any {
	merged := make(map[string]any, len(entry)+len(detail))
	maps.Copy(merged, entry)
	maps.Copy(merged, detail)
	return merged
}

// Recent selects the dated entries of an activity list, newest first, capped
// at DetailLimit. Entries with equal dates keep their list order.
func Recent(activities []any) []map[string]any {
	type dated struct {
		entry map[string]any
		date  string
	}

	var candidates []dated
	for _, a := range activities {
		entry, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if date, ok := sortDate(entry); ok {
			candidates = append(candidates, dated{entry, date})
		}
	}

	slices.SortStableFunc(candidates, func(a, b dated) int {
		return strings.Compare(b.date, a.date)
	})

	if len(candidates) > DetailLimit {
		candidates = candidates[:DetailLimit]
	}

	recent := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		recent = append(recent, c.entry)
	}
	return recent
}

// enrich replaces the activity list with its most recent entries, each
// merged with its detail record. Detail failures leave the entry as listed;
// only a cancelled context aborts the whole enrichment.
func (p *Poller) enrich(ctx context.Context, token string, list map[string]any) (map[string]any, error) {
	logger := zerolog.Ctx(ctx)

	success := true
	if s, ok := list["success"].(bool); ok {
		success = s
	}

	activities, _ := list["activities"].([]any)
	recent := Recent(activities)

	enriched := make([]any, 0, len(recent))
	for _, entry := range recent {
		path, _ := entry["path"].(string)
		if path == "" {
			enriched = append(enriched, entry)
			continue
		}

		if err := p.details.Wait(ctx); err != nil {
			return nil, fmt.Errorf("activity enrichment interrupted: %w", err)
		}

		detail, err := p.api.ActivityDetail(ctx, token, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("activity enrichment interrupted: %w", ctx.Err())
			}
			logger.Warn().Err(err).Str("path", path).Msg("activity detail unavailable, using list entry")
			enriched = append(enriched, entry)
			continue
		}

		if !truthy(detail["success"]) {
			logger.Debug().Str("path", path).Msg("activity detail reported failure, using list entry")
			enriched = append(enriched, entry)
			continue
		}

		enriched = append(enriched, Merge(entry, detail))
	}

	logger.Info().
		Int("listed", len(activities)).
		Int("enriched", len(enriched)).
		Msg("enriched activities with details")

	return map[string]any{
		"success":    success,
		"activities": enriched,
	}, nil
}

// truthy reports whether an upstream flag is set. Xert usually sends a bool,
// but a non-zero number or a non-empty string also counts.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
