package trend

import (
	"time"
)

// Granularity is a time-bucket width.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Duration returns the bucket width.
func (g Granularity) Duration() time.Duration {
	if g == GranularityDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// BucketStart truncates t to the start of the bucket containing it.
func (g Granularity) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(g.Duration())
}

// BucketKey identifies one aggregate bucket.
type BucketKey struct {
	Source      string
	Granularity Granularity
	Start       time.Time
}

// KeywordCount is one entry of a bucket's top-keyword list.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int64  `json:"count"`
}

// BucketStats is a read-time view of an aggregate bucket. Average and ratio
// fields are derived from the stored sums and counts when the view is built,
// never maintained incrementally.
type BucketStats struct {
	Source          string           `json:"source"`
	Granularity     Granularity      `json:"granularity"`
	BucketStart     time.Time        `json:"bucket_start"`
	PostCount       int64            `json:"post_count"`
	AvgScore        float64          `json:"avg_score"`
	AvgComments     float64          `json:"avg_comments"`
	AvgSentiment    float64          `json:"avg_sentiment"`
	AvgViral        float64          `json:"avg_viral_score"`
	AvgVelocity     float64          `json:"avg_velocity"`
	SentimentIndex  float64          `json:"sentiment_index"`
	PositivePct     float64          `json:"positive_pct"`
	NegativePct     float64          `json:"negative_pct"`
	SentimentCounts map[string]int64 `json:"sentiment_counts"`
	ViralCounts     map[string]int64 `json:"viral_counts"`
	ContentCounts   map[string]int64 `json:"content_counts"`
	HighPerformers  int64            `json:"high_performers"`
	TopKeywords     []KeywordCount   `json:"top_keywords"`
}

// Snapshot is an immutable materialization of a bucket's state at a point
// in time. Snapshots are append-only: a later snapshot for the same bucket
// supersedes earlier ones for query purposes but never replaces them.
type Snapshot struct {
	ID           string      `json:"id"`
	SnapshotTime time.Time   `json:"snapshot_time"`
	Stats        BucketStats `json:"stats"`
}

// RankedPost is one entry of a ranking set, with flags derived at read time.
type RankedPost struct {
	Source          string  `json:"source"`
	ExternalID      string  `json:"external_id"`
	Title           string  `json:"title"`
	Rank            int     `json:"rank"`
	Value           float64 `json:"value"`
	Score           int     `json:"score"`
	AgeHours        float64 `json:"age_hours"`
	IsTopPost       bool    `json:"is_top_post"`
	IsHighPerformer bool    `json:"is_high_performer"`
}

// TopEntity is one trending entity within a bucket, aggregated across
// sources.
type TopEntity struct {
	EntityText   string           `json:"entity_text"`
	EntityType   string           `json:"entity_type"`
	MentionCount int64            `json:"mention_count"`
	AvgSentiment float64          `json:"avg_sentiment"`
	Sources      map[string]int64 `json:"sources"`
}

// Filter restricts bucket-stat and snapshot queries.
type Filter struct {
	Source      string
	Granularity Granularity
	Since       time.Time
	Limit       int
}
