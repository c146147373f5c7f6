// internal/server/handlers/trend.go

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"socialpulse/internal/domain/trend"
)

// TrendHandler serves read-only views over the live aggregate, ranking and
// persisted snapshot state.
type TrendHandler struct {
	aggregator trend.Aggregator
	entities   trend.Entities
	rankings   trend.Rankings
	store      trend.SnapshotStore
}

// NewTrendHandler creates a new trend handler
func NewTrendHandler(aggregator trend.Aggregator, entities trend.Entities, rankings trend.Rankings, store trend.SnapshotStore) *TrendHandler {
	return &TrendHandler{
		aggregator: aggregator,
		entities:   entities,
		rankings:   rankings,
		store:      store,
	}
}

// parseFilter builds a trend filter from common query parameters.
func parseFilter(r *http.Request) trend.Filter {
	filter := trend.Filter{
		Source: r.URL.Query().Get("source"),
	}

	switch r.URL.Query().Get("granularity") {
	case "day":
		filter.Granularity = trend.GranularityDay
	case "hour", "":
		filter.Granularity = trend.GranularityHour
	}

	hours := 24
	if h, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && h > 0 {
		hours = h
	}
	filter.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	} else {
		filter.Limit = 100
	}

	return filter
}

// GetTrends returns the live bucket statistics matching the query.
func (h *TrendHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	stats := h.aggregator.Stats(parseFilter(r))
	respondWithJSON(w, http.StatusOK, stats)
}

// GetTrendHistory returns persisted snapshot rows for time-series views.
func (h *TrendHandler) GetTrendHistory(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.store.FindSnapshots(r.Context(), parseFilter(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get snapshot history", err)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshots)
}

// GetTopPosts returns the bounded ranked lists. Without a source parameter
// every tracked source is included.
func (h *TrendHandler) GetTopPosts(w http.ResponseWriter, r *http.Request) {
	metric := trend.Metric(r.URL.Query().Get("metric"))
	switch metric {
	case trend.MetricScore, trend.MetricViral, trend.MetricVelocity, trend.MetricEngagement:
	case "":
		metric = trend.MetricScore
	default:
		respondWithError(w, http.StatusBadRequest, "Unknown metric", nil)
		return
	}

	limit := 10
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	sources := []string{}
	if source := r.URL.Query().Get("source"); source != "" {
		sources = append(sources, source)
	} else {
		sources = h.rankings.Sources()
	}

	out := make(map[string][]trend.RankedPost, len(sources))
	for _, source := range sources {
		out[source] = h.rankings.Top(source, metric, limit)
	}
	respondWithJSON(w, http.StatusOK, out)
}

// GetEntities returns the current top entities for a window.
func (h *TrendHandler) GetEntities(w http.ResponseWriter, r *http.Request) {
	granularity := trend.GranularityHour
	if r.URL.Query().Get("granularity") == "day" {
		granularity = trend.GranularityDay
	}

	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	start := granularity.BucketStart(time.Now().UTC())
	entities := h.entities.TopEntities(granularity, start, limit)
	respondWithJSON(w, http.StatusOK, entities)
}

// GetStats returns an overall summary merged across the live hour buckets
// of the requested window.
func (h *TrendHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	filter.Granularity = trend.GranularityHour
	filter.Limit = 0
	stats := h.aggregator.Stats(filter)

	var postCount, highPerformers int64
	var scoreSum, sentimentSum, viralSum float64
	var positive, negative float64
	sources := make(map[string]int64)
	for _, st := range stats {
		postCount += st.PostCount
		highPerformers += st.HighPerformers
		n := float64(st.PostCount)
		scoreSum += st.AvgScore * n
		sentimentSum += st.AvgSentiment * n
		viralSum += st.AvgViral * n
		positive += st.PositivePct * n / 100
		negative += st.NegativePct * n / 100
		sources[st.Source] += st.PostCount
	}

	summary := map[string]interface{}{
		"post_count":      postCount,
		"high_performers": highPerformers,
		"sources":         sources,
	}
	if postCount > 0 {
		n := float64(postCount)
		summary["avg_score"] = scoreSum / n
		summary["avg_sentiment"] = sentimentSum / n
		summary["avg_viral_score"] = viralSum / n
		summary["positive_pct"] = 100 * positive / n
		summary["negative_pct"] = 100 * negative / n
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["detail"] = err.Error()
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
