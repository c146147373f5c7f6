package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_RejectsMissingFields(t *testing.T) {
	now := time.Now()

	_, err := Normalize(RawPost{ExternalID: "x", Title: "t"}, now)
	assert.ErrorIs(t, err, ErrValidation, "missing source")

	_, err = Normalize(RawPost{Source: "reddit", Title: "t"}, now)
	assert.ErrorIs(t, err, ErrValidation, "missing external_id")

	_, err = Normalize(RawPost{Source: "reddit", ExternalID: "x"}, now)
	assert.ErrorIs(t, err, ErrValidation, "missing title")

	_, err = Normalize(RawPost{Source: "reddit", ExternalID: "x", Title: "   "}, now)
	assert.ErrorIs(t, err, ErrValidation, "whitespace-only title carries no signal")
}

func TestNormalize_DefaultsAndLengths(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p, err := Normalize(RawPost{
		Source:     "  hackernews ",
		ExternalID: " 41000000 ",
		Title:      "  Show HN: something  ",
		Body:       "  a body  ",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "hackernews", p.Source)
	assert.Equal(t, "41000000", p.ExternalID)
	assert.Equal(t, "Show HN: something", p.Title)
	assert.Equal(t, len("Show HN: something"), p.TitleLength)
	assert.Equal(t, len("a body"), p.BodyLength)
	assert.Zero(t, p.Score, "missing score defaults to zero")
	assert.Zero(t, p.NumComments)
	assert.Equal(t, now, p.CreatedAt, "missing created_at falls back to the ingestion clock")
	assert.Equal(t, now, p.ObservedAt)
}

func TestNormalize_KeepsProvidedValues(t *testing.T) {
	now := time.Now()
	score := 77
	comments := 13
	created := now.Add(-4 * time.Hour)

	p, err := Normalize(RawPost{
		Source:         "reddit",
		ExternalID:     "t3_xyz",
		Title:          "title",
		Score:          &score,
		NumComments:    &comments,
		CreatedAt:      created,
		SentimentScore: -0.3,
		ViralScore:     0.45,
		Keywords:       []string{"k1", "k2"},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, 77, p.Score)
	assert.Equal(t, 13, p.NumComments)
	assert.Equal(t, created, p.CreatedAt)
	assert.Equal(t, -0.3, p.SentimentScore)
	assert.Equal(t, 0.45, p.ViralScore)
	assert.Equal(t, []string{"k1", "k2"}, p.Keywords)
}
