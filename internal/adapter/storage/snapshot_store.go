// internal/adapter/storage/snapshot_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"socialpulse/internal/domain/trend"
)

// SnapshotStore persists published trend snapshots and top-entity rows.
// Both tables are append-only: a later snapshot for the same bucket
// supersedes earlier ones for query purposes but never deletes them.
type SnapshotStore struct {
	db *pgxpool.Pool
}

// NewSnapshotStore creates a new snapshot store.
func NewSnapshotStore(db *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{
		db: db,
	}
}

// SaveSnapshot appends one immutable snapshot row.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap trend.Snapshot) error {
	query := `
		INSERT INTO trend_snapshots (
			id, snapshot_time, source, granularity, bucket_start,
			post_count, avg_score, avg_comments, avg_sentiment,
			avg_viral_score, avg_velocity, sentiment_index,
			positive_pct, negative_pct, high_performers,
			sentiment_counts, viral_counts, content_counts, top_keywords
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19
		)
	`

	st := snap.Stats
	sentimentJSON, err := json.Marshal(st.SentimentCounts)
	if err != nil {
		return fmt.Errorf("error marshaling sentiment counts: %w", err)
	}
	viralJSON, err := json.Marshal(st.ViralCounts)
	if err != nil {
		return fmt.Errorf("error marshaling viral counts: %w", err)
	}
	contentJSON, err := json.Marshal(st.ContentCounts)
	if err != nil {
		return fmt.Errorf("error marshaling content counts: %w", err)
	}
	keywordsJSON, err := json.Marshal(st.TopKeywords)
	if err != nil {
		return fmt.Errorf("error marshaling top keywords: %w", err)
	}

	_, err = s.db.Exec(
		ctx,
		query,
		snap.ID,
		snap.SnapshotTime,
		st.Source,
		string(st.Granularity),
		st.BucketStart,
		st.PostCount,
		st.AvgScore,
		st.AvgComments,
		st.AvgSentiment,
		st.AvgViral,
		st.AvgVelocity,
		st.SentimentIndex,
		st.PositivePct,
		st.NegativePct,
		st.HighPerformers,
		sentimentJSON,
		viralJSON,
		contentJSON,
		keywordsJSON,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}

	return nil
}

// SaveTopEntities appends the top-entity rows for one snapshot time.
func (s *SnapshotStore) SaveTopEntities(ctx context.Context, snapshotTime time.Time, entities []trend.TopEntity) error {
	query := `
		INSERT INTO top_entities (
			snapshot_time, entity_text, entity_type,
			mention_count, avg_sentiment, sources
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, e := range entities {
		sourcesJSON, err := json.Marshal(e.Sources)
		if err != nil {
			return fmt.Errorf("error marshaling sources: %w", err)
		}
		_, err = s.db.Exec(
			ctx,
			query,
			snapshotTime,
			e.EntityText,
			e.EntityType,
			e.MentionCount,
			e.AvgSentiment,
			sourcesJSON,
		)
		if err != nil {
			return fmt.Errorf("error executing query: %w", err)
		}
	}

	return nil
}

// FindSnapshots returns persisted snapshot history matching the filter,
// newest first.
func (s *SnapshotStore) FindSnapshots(ctx context.Context, filter trend.Filter) ([]trend.Snapshot, error) {
	query := `
		SELECT
			id, snapshot_time, source, granularity, bucket_start,
			post_count, avg_score, avg_comments, avg_sentiment,
			avg_viral_score, avg_velocity, sentiment_index,
			positive_pct, negative_pct, high_performers,
			sentiment_counts, viral_counts, content_counts, top_keywords
		FROM trend_snapshots
		WHERE 1=1
	`

	args := []interface{}{}
	argIndex := 1

	if filter.Source != "" {
		query += fmt.Sprintf(" AND source = $%d", argIndex)
		args = append(args, filter.Source)
		argIndex++
	}
	if filter.Granularity != "" {
		query += fmt.Sprintf(" AND granularity = $%d", argIndex)
		args = append(args, string(filter.Granularity))
		argIndex++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND snapshot_time >= $%d", argIndex)
		args = append(args, filter.Since)
		argIndex++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY snapshot_time DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var snapshots []trend.Snapshot
	for rows.Next() {
		var snap trend.Snapshot
		var granularity string
		var sentimentJSON, viralJSON, contentJSON, keywordsJSON []byte

		err := rows.Scan(
			&snap.ID,
			&snap.SnapshotTime,
			&snap.Stats.Source,
			&granularity,
			&snap.Stats.BucketStart,
			&snap.Stats.PostCount,
			&snap.Stats.AvgScore,
			&snap.Stats.AvgComments,
			&snap.Stats.AvgSentiment,
			&snap.Stats.AvgViral,
			&snap.Stats.AvgVelocity,
			&snap.Stats.SentimentIndex,
			&snap.Stats.PositivePct,
			&snap.Stats.NegativePct,
			&snap.Stats.HighPerformers,
			&sentimentJSON,
			&viralJSON,
			&contentJSON,
			&keywordsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning snapshot: %w", err)
		}

		snap.Stats.Granularity = trend.Granularity(granularity)
		if err := json.Unmarshal(sentimentJSON, &snap.Stats.SentimentCounts); err != nil {
			return nil, fmt.Errorf("error unmarshaling sentiment counts: %w", err)
		}
		if err := json.Unmarshal(viralJSON, &snap.Stats.ViralCounts); err != nil {
			return nil, fmt.Errorf("error unmarshaling viral counts: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &snap.Stats.ContentCounts); err != nil {
			return nil, fmt.Errorf("error unmarshaling content counts: %w", err)
		}
		if err := json.Unmarshal(keywordsJSON, &snap.Stats.TopKeywords); err != nil {
			return nil, fmt.Errorf("error unmarshaling top keywords: %w", err)
		}

		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}
