package model

import "time"

// DataSource is the kind of memory a retrieval call targets.
type DataSource string

const (
	SourceEpisode   DataSource = "episode"
	SourceEventLog  DataSource = "event_log"
	SourceForesight DataSource = "foresight"
	SourceProfile   DataSource = "profile"
)

// RetrievalMode selects the backend combination used to produce candidates.
type RetrievalMode string

const (
	ModeEmbedding       RetrievalMode = "embedding"
	ModeBM25            RetrievalMode = "bm25"
	ModeRRF             RetrievalMode = "rrf"
	ModeAgenticFallback RetrievalMode = "agentic_fallback"
)

// Candidate is the uniform record produced by the retrieval engine,
// regardless of which backend or data source it came from.
type Candidate struct {
	Score     float64
	EventID   string
	UserID    string
	GroupID   string
	Timestamp time.Time
	Subject   string
	Episode   string // populated from whichever field the source supplies
	Summary   string
	Evidence  []Evidence
	AtomicFact []string
	Metadata  map[string]string
	StartTime *time.Time
	EndTime   *time.Time
}

// RetrievalMetadata carries diagnostics about how a retrieval call executed.
type RetrievalMetadata struct {
	RetrievalMode      RetrievalMode
	DataSource         DataSource
	EmbeddingCandidates int
	BM25Candidates      int
	FinalCount          int
	TotalLatencyMS      int64

	// Agentic-specific extras.
	IsSufficient  bool
	Reasoning     string
	MissingInfo   string
	RefinedQueries []string
	Round1Count    int
	Round2Count    int
	IsMultiRound   bool
	FallbackReason string

	Error string
}
