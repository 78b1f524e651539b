// Package memory assembles the extraction, retrieval, and persistence
// building blocks behind the process boundary named in spec.md §6:
// deliver_memorize, extract_memcell, extract_memory, retrieve_lightweight,
// retrieve_agentic, fetch_mem. It is the only package a CLI or other glue
// layer needs to import.
package memory

import (
	"sync"
	"time"

	"evermemcore/internal/memory/agentic"
	"evermemcore/internal/memory/episode"
	"evermemcore/internal/memory/eventlog"
	"evermemcore/internal/memory/fetchmem"
	"evermemcore/internal/memory/memcell"
	"evermemcore/internal/memory/profile"
	"evermemcore/internal/memory/retrieval"
	"evermemcore/internal/persistence/repo"
)

// Clock abstracts time.Now for deterministic tests, mirroring the teacher's
// rag/service.Clock option.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Deps bundles every already-built component the façade wires together.
// None of these have a sane zero-value default, unlike the teacher's
// rag/service.Service (whose embedder/reranker fall back to deterministic
// stand-ins): every field here is backed by an LLM call or a persistence
// store, so construction happens entirely at the composition root.
type Deps struct {
	Cells  *memcell.Extractor
	Buffer *memcell.Buffer

	Episodes      *episode.Extractor
	EventLogs     *eventlog.Extractor
	UserProfiles  *profile.UserProfileExtractor
	GroupProfiles *profile.GroupProfileExtractor

	Retrieval *retrieval.Engine
	Agentic   *agentic.Loop
	Fetch     *fetchmem.Service

	MemCellRepo         repo.MemCellRepo
	EpisodeRepo         repo.EpisodeRepo
	EventLogRepo        repo.EventLogRepo
	UserProfileRepo     repo.UserProfileRepo
	GroupProfileRepo    repo.GroupProfileRepo
	GroupImportanceRepo repo.GroupImportanceRepo
	ClusterRepo         repo.ClusterRepo
}

// Service implements the process-boundary operations over Deps.
type Service struct {
	cells  *memcell.Extractor
	buffer *memcell.Buffer

	episodes      *episode.Extractor
	eventLogs     *eventlog.Extractor
	userProfiles  *profile.UserProfileExtractor
	groupProfiles *profile.GroupProfileExtractor

	retrieval *retrieval.Engine
	agentic   *agentic.Loop
	fetch     *fetchmem.Service

	memCellRepo         repo.MemCellRepo
	episodeRepo         repo.EpisodeRepo
	eventLogRepo        repo.EventLogRepo
	userProfileRepo     repo.UserProfileRepo
	groupProfileRepo    repo.GroupProfileRepo
	groupImportanceRepo repo.GroupImportanceRepo
	clusterRepo         repo.ClusterRepo

	clock Clock

	clusterMu  sync.Mutex
	lastCluster map[string]string // group_id -> most recently assigned cluster_id
}

// Option configures a Service during construction.
type Option func(*Service)

// WithClock overrides the Service's Clock, e.g. for deterministic tests.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// New builds a Service from deps, applying any Options.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		cells:  deps.Cells,
		buffer: deps.Buffer,

		episodes:      deps.Episodes,
		eventLogs:     deps.EventLogs,
		userProfiles:  deps.UserProfiles,
		groupProfiles: deps.GroupProfiles,

		retrieval: deps.Retrieval,
		agentic:   deps.Agentic,
		fetch:     deps.Fetch,

		memCellRepo:         deps.MemCellRepo,
		episodeRepo:         deps.EpisodeRepo,
		eventLogRepo:        deps.EventLogRepo,
		userProfileRepo:     deps.UserProfileRepo,
		groupProfileRepo:    deps.GroupProfileRepo,
		groupImportanceRepo: deps.GroupImportanceRepo,
		clusterRepo:         deps.ClusterRepo,

		clock:       SystemClock{},
		lastCluster: make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
