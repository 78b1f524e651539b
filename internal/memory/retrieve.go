package memory

import (
	"context"

	"evermemcore/internal/memory/fetchmem"
	"evermemcore/internal/memory/model"
	"evermemcore/internal/memory/retrieval"
)

// RetrieveLightweight implements retrieve_lightweight (spec.md §4.4, §6):
// single-pass dense/lexical/RRF retrieval, no LLM involved.
func (s *Service) RetrieveLightweight(ctx context.Context, query string, opt retrieval.Options) (*retrieval.Result, error) {
	return s.retrieval.RetrieveLightweight(ctx, query, opt)
}

// RetrieveAgentic implements retrieve_agentic (spec.md §4.5, §6): the
// sufficiency-checked, multi-query-refining retrieval loop built over the
// same Engine RetrieveLightweight uses.
func (s *Service) RetrieveAgentic(ctx context.Context, query string, opt retrieval.Options) (*retrieval.Result, error) {
	return s.agentic.Retrieve(ctx, query, opt)
}

// FetchMem implements fetch_mem (spec.md §6): paginated lookup of stored
// memories for one user, scoped to a data source, with an optional version
// range and limit/has_more cursor.
func (s *Service) FetchMem(ctx context.Context, userID, groupID string, source model.DataSource, versions *fetchmem.VersionRange, limit int) (fetchmem.Result, error) {
	return s.fetch.Fetch(ctx, userID, groupID, source, versions, limit)
}
