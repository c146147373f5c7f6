package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/domain/trend"
)

var bucketHour = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func aggPost(id string, score int) (post.Post, post.Derived) {
	p := post.Post{
		Source:         "x",
		ExternalID:     id,
		Score:          score,
		NumComments:    score / 2,
		SentimentScore: 0.2,
		ViralScore:     0.3,
		Keywords:       []string{"ai", "golang"},
		CreatedAt:      bucketHour.Add(10 * time.Minute),
	}
	d := Compute(p, bucketHour.Add(2*time.Hour))
	return p, d
}

func hourKey(source string) trend.BucketKey {
	return trend.BucketKey{
		Source:      source,
		Granularity: trend.GranularityHour,
		Start:       bucketHour,
	}
}

func TestAggregator_AddThenDeriveAverages(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})

	for i, score := range []int{10, 20, 30} {
		p, d := aggPost(string(rune('a'+i)), score)
		agg.AddPost(p, d)
	}

	st, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)
	assert.Equal(t, int64(3), st.PostCount)
	assert.InDelta(t, 20.0, st.AvgScore, 1e-9)

	// Day bucket tracks the same posts
	dayStats := agg.Stats(trend.Filter{Source: "x", Granularity: trend.GranularityDay})
	require.Len(t, dayStats, 1)
	assert.Equal(t, int64(3), dayStats[0].PostCount)
}

func TestAggregator_RetractRestoresAverages(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})

	posts := make([]post.Post, 0, 3)
	deriveds := make([]post.Derived, 0, 3)
	for i, score := range []int{10, 20, 30} {
		p, d := aggPost(string(rune('a'+i)), score)
		posts = append(posts, p)
		deriveds = append(deriveds, d)
		agg.AddPost(p, d)
	}

	require.NoError(t, agg.RetractPost(posts[2], deriveds[2]))

	st, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)
	assert.Equal(t, int64(2), st.PostCount)
	assert.InDelta(t, 15.0, st.AvgScore, 1e-9)
}

func TestAggregator_AddRetractIsExact(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})

	base, baseDerived := aggPost("base", 50)
	agg.AddPost(base, baseDerived)
	before, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)

	p, d := aggPost("extra", 123)
	p.SentimentScore = -0.7
	p.ViralScore = 0.85
	d = Compute(p, bucketHour.Add(3*time.Hour))

	agg.AddPost(p, d)
	require.NoError(t, agg.RetractPost(p, d))

	after, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)
	assert.Equal(t, before, after, "add followed by retract must restore the bucket exactly")
}

func TestAggregator_FloatSumsRetractWithoutResidue(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []trend.Granularity{trend.GranularityHour}})

	base, _ := aggPost("base", 10)
	base.ViralScore = 0.2
	base.SentimentScore = 0.2
	agg.AddPost(base, Compute(base, bucketHour.Add(2*time.Hour)))

	extra, _ := aggPost("extra", 10)
	extra.ViralScore = 0.7
	extra.SentimentScore = -0.3
	extraDerived := Compute(extra, bucketHour.Add(2*time.Hour))
	agg.AddPost(extra, extraDerived)
	require.NoError(t, agg.RetractPost(extra, extraDerived))

	st, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)
	assert.Equal(t, 0.2, st.AvgViral, "retraction must leave no floating-point residue")
	assert.Equal(t, 0.2, st.AvgSentiment)
}

func TestAggregator_SentimentIndex(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []trend.Granularity{trend.GranularityHour}})

	scores := []float64{0.6, 0.2, -0.3, 0.0}
	for i, s := range scores {
		p, _ := aggPost(string(rune('a'+i)), 10)
		p.SentimentScore = s
		d := Compute(p, bucketHour.Add(time.Hour))
		agg.AddPost(p, d)
	}

	st, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)
	// very_positive + positive = 2, negative = 1, neutral ignored
	assert.InDelta(t, 0.25, st.SentimentIndex, 1e-9)
	assert.InDelta(t, 50.0, st.PositivePct, 1e-9)
	assert.InDelta(t, 25.0, st.NegativePct, 1e-9)
}

func TestAggregator_EmptyBucketGuards(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []trend.Granularity{trend.GranularityHour}})

	p, d := aggPost("only", 10)
	agg.AddPost(p, d)
	require.NoError(t, agg.RetractPost(p, d))

	st, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)
	assert.Zero(t, st.PostCount)
	assert.Zero(t, st.SentimentIndex, "zero post_count never divides")
	assert.Zero(t, st.AvgScore)
}

func TestAggregator_RetractBelowZeroIsCorruption(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []trend.Granularity{trend.GranularityHour}})

	p, d := aggPost("only", 10)
	agg.AddPost(p, d)
	require.NoError(t, agg.RetractPost(p, d))

	err := agg.RetractPost(p, d)
	assert.ErrorIs(t, err, ErrStateCorruption, "double retraction must be detected")

	_, ok := agg.StatsFor(hourKey("x"))
	assert.False(t, ok, "corrupted bucket is evicted, not computed on")
}

func TestAggregator_KeywordCapBoundsMemory(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{
		Granularities: []trend.Granularity{trend.GranularityHour},
		KeywordCap:    5,
	})

	for i := 0; i < 20; i++ {
		p, _ := aggPost(string(rune('a'+i)), 10)
		p.Keywords = []string{"k", string(rune('A' + i))}
		d := Compute(p, bucketHour.Add(time.Hour))
		agg.AddPost(p, d)
	}

	st, ok := agg.StatsFor(hourKey("x"))
	require.True(t, ok)
	assert.LessOrEqual(t, len(st.TopKeywords), 5)
	require.NotEmpty(t, st.TopKeywords)
	assert.Equal(t, "k", st.TopKeywords[0].Keyword, "the frequent keyword survives eviction")
	assert.Equal(t, int64(20), st.TopKeywords[0].Count)
}

func TestAggregator_EvictBefore(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []trend.Granularity{trend.GranularityHour}})

	p, d := aggPost("a", 10)
	agg.AddPost(p, d)

	old := p
	old.ExternalID = "old"
	old.CreatedAt = bucketHour.Add(-72 * time.Hour)
	agg.AddPost(old, Compute(old, bucketHour))

	evicted := agg.EvictBefore(trend.GranularityHour, bucketHour.Add(-48*time.Hour))
	assert.Equal(t, 1, evicted)

	_, ok := agg.StatsFor(hourKey("x"))
	assert.True(t, ok, "recent bucket survives eviction")
}

func TestAggregator_StatsFilterAndOrder(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Granularities: []trend.Granularity{trend.GranularityHour}})

	p1, d1 := aggPost("a", 10)
	agg.AddPost(p1, d1)

	p2 := p1
	p2.Source = "y"
	p2.ExternalID = "b"
	agg.AddPost(p2, d1)

	p3 := p1
	p3.ExternalID = "c"
	p3.CreatedAt = bucketHour.Add(time.Hour)
	agg.AddPost(p3, d1)

	all := agg.Stats(trend.Filter{Granularity: trend.GranularityHour})
	require.Len(t, all, 3)
	assert.True(t, all[0].BucketStart.After(all[1].BucketStart) || all[0].Source < all[1].Source,
		"newest bucket first, source breaks ties")

	onlyX := agg.Stats(trend.Filter{Source: "x", Granularity: trend.GranularityHour})
	assert.Len(t, onlyX, 2)
}
