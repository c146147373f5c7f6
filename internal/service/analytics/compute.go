// internal/service/analytics/compute.go

package analytics

import (
	"time"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/domain/trend"
)

// Compute derives the analytic metrics for a post at the given clock. It is
// a pure function of (post raw fields, now): no state, safe for concurrent
// use, and reused verbatim for offline backfills from stored raw posts. The
// category thresholds are exact literal constants and part of the durable
// contract; real-time and recomputed results must agree bit-for-bit.
func Compute(p post.Post, now time.Time) post.Derived {
	ageHours := now.Sub(p.CreatedAt).Hours()
	if ageHours < 0 {
		// Clock skew between origin and ingestion; clamp rather than
		// produce negative ages.
		ageHours = 0
	}

	velocity := float64(p.Score)
	if ageHours > 0 {
		velocity = float64(p.Score) / ageHours
	}

	engagementRate := 0.0
	if p.Score > 0 {
		engagementRate = float64(p.NumComments) / float64(p.Score)
	}

	return post.Derived{
		AgeHours:          ageHours,
		Velocity:          velocity,
		EngagementRate:    engagementRate,
		SentimentCategory: sentimentCategory(p.SentimentScore),
		ViralCategory:     viralCategory(p.ViralScore),
		ContentType:       contentType(p.BodyLength),
		IsHighPerformer:   p.Score > 100 || p.ViralScore > 0.6,
	}
}

// sentimentCategory buckets a sentiment score. Evaluation order matters:
// exact 0.5 and 0.1 fall to the more positive bucket, exact -0.5 and -0.1
// to the more negative one.
func sentimentCategory(score float64) string {
	switch {
	case score >= 0.5:
		return post.SentimentVeryPositive
	case score >= 0.1:
		return post.SentimentPositive
	case score <= -0.5:
		return post.SentimentVeryNegative
	case score <= -0.1:
		return post.SentimentNegative
	default:
		return post.SentimentNeutral
	}
}

// viralCategory buckets the externally supplied 0-1 viral score.
func viralCategory(score float64) string {
	switch {
	case score >= 0.8:
		return post.ViralViral
	case score >= 0.6:
		return post.ViralTrending
	case score >= 0.4:
		return post.ViralEngaging
	default:
		return post.ViralStandard
	}
}

// contentType classifies a post by trimmed body length.
func contentType(bodyLength int) string {
	switch {
	case bodyLength > 500:
		return post.ContentLongForm
	case bodyLength > 100:
		return post.ContentMedium
	case bodyLength > 0:
		return post.ContentShort
	default:
		return post.ContentLinkOnly
	}
}

// MetricValue selects the ranking value for a metric from a post and its
// derived metrics.
func MetricValue(metric trend.Metric, p post.Post, d post.Derived) float64 {
	switch metric {
	case trend.MetricViral:
		return p.ViralScore
	case trend.MetricVelocity:
		return d.Velocity
	case trend.MetricEngagement:
		return d.EngagementRate
	default:
		return float64(p.Score)
	}
}
