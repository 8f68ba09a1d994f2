package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codequest/progression/internal/domain/activity"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COMPLETION HEATMAP QUERY
// Completions per calendar day for one year, keyed YYYY-MM-DD.
// ══════════════════════════════════════════════════════════════════════════════

// GetHeatmapQuery selects the user and year.
type GetHeatmapQuery struct {
	UserID shared.UserID
	Year   int
}

// Validate validates the query.
func (q *GetHeatmapQuery) Validate() error {
	if q.UserID == (shared.UserID{}) {
		return shared.ErrInvalidUserID
	}
	return activity.ValidateYear(q.Year)
}

// GetHeatmapHandler handles GetHeatmapQuery.
type GetHeatmapHandler struct {
	reader   activity.HeatmapReader
	location *time.Location
	logger   *slog.Logger
}

// NewGetHeatmapHandler creates a new GetHeatmapHandler. Days are counted in loc.
func NewGetHeatmapHandler(reader activity.HeatmapReader, loc *time.Location, logger *slog.Logger) *GetHeatmapHandler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetHeatmapHandler{
		reader:   reader,
		location: loc,
		logger:   logger.With("handler", "get_heatmap"),
	}
}

// Handle executes the query. Days without completions are absent.
func (h *GetHeatmapHandler) Handle(ctx context.Context, q GetHeatmapQuery) (map[string]int, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_heatmap: validation failed: %w", err)
	}

	from, to := timeutil.YearBounds(q.Year, h.location)

	heatmap, err := h.reader.CompletionHeatmap(ctx, q.UserID, from, to, h.location)
	if err != nil {
		return nil, fmt.Errorf("get_heatmap: %w", err)
	}
	if heatmap == nil {
		heatmap = activity.Heatmap{}
	}

	h.logger.Debug("heatmap served",
		"user_id", q.UserID,
		"year", q.Year,
		"days", len(heatmap),
		"total", heatmap.Total(),
	)

	return heatmap, nil
}
