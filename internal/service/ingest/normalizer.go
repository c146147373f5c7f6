// internal/service/ingest/normalizer.go

package ingest

import (
	"fmt"
	"strings"
	"time"

	"socialpulse/internal/domain/post"
)

// ErrValidation marks an unanalyzable raw post. Records failing validation
// are dropped and counted, never retried.
var ErrValidation = fmt.Errorf("validation error")

// RawPost is the inbound message shape delivered by the stream layer.
type RawPost struct {
	Source         string        `json:"source"`
	ExternalID     string        `json:"external_id"`
	Title          string        `json:"title"`
	Body           string        `json:"body"`
	URL            string        `json:"url"`
	Author         string        `json:"author"`
	Score          *int          `json:"score"`
	NumComments    *int          `json:"num_comments"`
	UpvoteRatio    float64       `json:"upvote_ratio"`
	Subreddit      string        `json:"subreddit"`
	StoryType      string        `json:"story_type"`
	CreatedAt      time.Time     `json:"created_at"`
	ObservedAt     time.Time     `json:"observed_at"`
	SentimentScore float64       `json:"sentiment_score"`
	ViralScore     float64       `json:"viral_score"`
	Topics         []string      `json:"topics"`
	Keywords       []string      `json:"keywords"`
	Entities       []post.Entity `json:"entities"`
}

// Normalize validates a raw payload and produces the canonical post value.
// A post needs a source, an external id and a non-empty trimmed title to
// carry analytic signal; anything else is rejected with ErrValidation.
// Missing numeric fields default to zero. Stateless.
func Normalize(raw RawPost, now time.Time) (post.Post, error) {
	source := strings.TrimSpace(raw.Source)
	externalID := strings.TrimSpace(raw.ExternalID)
	title := strings.TrimSpace(raw.Title)

	if source == "" {
		return post.Post{}, fmt.Errorf("%w: missing source", ErrValidation)
	}
	if externalID == "" {
		return post.Post{}, fmt.Errorf("%w: missing external_id", ErrValidation)
	}
	if title == "" {
		return post.Post{}, fmt.Errorf("%w: empty title", ErrValidation)
	}

	body := strings.TrimSpace(raw.Body)

	score := 0
	if raw.Score != nil {
		score = *raw.Score
	}
	comments := 0
	if raw.NumComments != nil {
		comments = *raw.NumComments
	}

	createdAt := raw.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	observedAt := raw.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}

	return post.Post{
		Source:         source,
		ExternalID:     externalID,
		Title:          title,
		Body:           body,
		URL:            raw.URL,
		Author:         raw.Author,
		Score:          score,
		NumComments:    comments,
		UpvoteRatio:    raw.UpvoteRatio,
		Subreddit:      raw.Subreddit,
		StoryType:      raw.StoryType,
		CreatedAt:      createdAt,
		ObservedAt:     observedAt,
		SentimentScore: raw.SentimentScore,
		ViralScore:     raw.ViralScore,
		Topics:         raw.Topics,
		Keywords:       raw.Keywords,
		Entities:       raw.Entities,
		TitleLength:    len(title),
		BodyLength:     len(body),
	}, nil
}
