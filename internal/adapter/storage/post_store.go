// internal/adapter/storage/post_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"socialpulse/internal/domain/post"
)

// PostStore persists upserted post rows with raw and derived fields. The
// derived columns are recomputable from the raw ones; they are stored for
// query convenience, never read back as ground truth.
type PostStore struct {
	db *pgxpool.Pool
}

// NewPostStore creates a new post store.
func NewPostStore(db *pgxpool.Pool) *PostStore {
	return &PostStore{
		db: db,
	}
}

// UpsertPost writes the latest state of a post, raw and derived, keyed on
// (source, external_id). Repeated writes for the same revision are
// harmless; later revisions overwrite earlier ones.
func (s *PostStore) UpsertPost(ctx context.Context, p post.Post, d post.Derived, revision int64) error {
	query := `
		INSERT INTO posts (
			source, external_id, title, body, url, author,
			score, num_comments, upvote_ratio, subreddit, story_type,
			created_at, observed_at,
			sentiment_score, viral_score, topics, keywords, entities,
			age_hours, velocity, engagement_rate,
			sentiment_category, viral_category, content_type,
			is_high_performer, revision
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21,
			$22, $23, $24,
			$25, $26
		)
		ON CONFLICT (source, external_id) DO UPDATE
		SET
			title = $3,
			body = $4,
			url = $5,
			author = $6,
			score = $7,
			num_comments = $8,
			upvote_ratio = $9,
			subreddit = $10,
			story_type = $11,
			created_at = $12,
			observed_at = $13,
			sentiment_score = $14,
			viral_score = $15,
			topics = $16,
			keywords = $17,
			entities = $18,
			age_hours = $19,
			velocity = $20,
			engagement_rate = $21,
			sentiment_category = $22,
			viral_category = $23,
			content_type = $24,
			is_high_performer = $25,
			revision = $26
	`

	topicsJSON, err := json.Marshal(p.Topics)
	if err != nil {
		return fmt.Errorf("error marshaling topics: %w", err)
	}
	keywordsJSON, err := json.Marshal(p.Keywords)
	if err != nil {
		return fmt.Errorf("error marshaling keywords: %w", err)
	}
	entitiesJSON, err := json.Marshal(p.Entities)
	if err != nil {
		return fmt.Errorf("error marshaling entities: %w", err)
	}

	_, err = s.db.Exec(
		ctx,
		query,
		p.Source,
		p.ExternalID,
		p.Title,
		p.Body,
		p.URL,
		p.Author,
		p.Score,
		p.NumComments,
		p.UpvoteRatio,
		p.Subreddit,
		p.StoryType,
		p.CreatedAt,
		p.ObservedAt,
		p.SentimentScore,
		p.ViralScore,
		topicsJSON,
		keywordsJSON,
		entitiesJSON,
		d.AgeHours,
		d.Velocity,
		d.EngagementRate,
		d.SentimentCategory,
		d.ViralCategory,
		d.ContentType,
		d.IsHighPerformer,
		revision,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}

	return nil
}
