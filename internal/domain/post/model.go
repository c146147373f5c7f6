package post

import (
	"time"
)

// Identity uniquely identifies a post across redeliveries.
type Identity struct {
	Source     string
	ExternalID string
}

// Post is the canonical form of a social media post after normalization.
// Raw fields come from the scraper payload; NLP fields (SentimentScore,
// ViralScore, Topics, Keywords, Entities) are supplied by the external
// analyzer and are inputs here, never computed.
type Post struct {
	Source      string
	ExternalID  string
	Title       string
	Body        string
	URL         string
	Author      string
	Score       int
	NumComments int
	UpvoteRatio float64
	Subreddit   string
	StoryType   string
	CreatedAt   time.Time
	ObservedAt  time.Time

	SentimentScore float64
	ViralScore     float64
	Topics         []string
	Keywords       []string
	Entities       []Entity

	TitleLength int
	BodyLength  int
}

// Entity is a named entity extracted by the external analyzer.
type Entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// ID returns the post's identity key.
func (p Post) ID() Identity {
	return Identity{Source: p.Source, ExternalID: p.ExternalID}
}

// Sentiment categories, from most positive to most negative.
const (
	SentimentVeryPositive = "very_positive"
	SentimentPositive     = "positive"
	SentimentNeutral      = "neutral"
	SentimentNegative     = "negative"
	SentimentVeryNegative = "very_negative"
)

// Viral categories.
const (
	ViralViral    = "viral"
	ViralTrending = "trending"
	ViralEngaging = "engaging"
	ViralStandard = "standard"
)

// Content types, by body length.
const (
	ContentLongForm = "long_form"
	ContentMedium   = "medium"
	ContentShort    = "short"
	ContentLinkOnly = "link_only"
)

// Derived holds the metrics computed from a post's raw fields and the
// ingestion clock. Derived fields are a pure function of their inputs:
// recomputing from identical inputs yields identical outputs, so they are
// never treated as ground truth in storage.
type Derived struct {
	AgeHours          float64
	Velocity          float64
	EngagementRate    float64
	SentimentCategory string
	ViralCategory     string
	ContentType       string
	IsHighPerformer   bool
}

// DecisionKind classifies the outcome of applying a delivery to the ledger.
type DecisionKind int

const (
	DecisionNew DecisionKind = iota
	DecisionUnchanged
	DecisionUpdated
)

// String returns the wire name of the decision.
func (k DecisionKind) String() string {
	switch k {
	case DecisionNew:
		return "new"
	case DecisionUnchanged:
		return "unchanged"
	case DecisionUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Decision is the ledger's verdict for one delivery. For Updated decisions
// Previous and PreviousDerived carry the prior state so downstream
// aggregates can retract stale contributions before reapplying.
type Decision struct {
	Kind            DecisionKind
	Revision        int64
	Previous        *Post
	PreviousDerived *Derived
}
