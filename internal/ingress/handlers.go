package ingress

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"evermemcore/internal/memory"
	"evermemcore/internal/memory/fetchmem"
	"evermemcore/internal/memory/model"
	"evermemcore/internal/memory/retrieval"
)

var errGroupIDRequired = errors.New("group_id is required")

// handleDeliverMemorize implements deliver_memorize's HTTP ingress. When
// the queue is configured it enqueues (spec §4.6) and returns the queue's
// accept/reject verdict without running the pipeline synchronously; when
// Redis is disabled it runs DeliverMemorize directly so the endpoint still
// works in a queueless deployment.
func (s *Server) handleDeliverMemorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req memory.DeliverMemorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.GroupID == "" {
		respondError(w, http.StatusBadRequest, errGroupIDRequired)
		return
	}

	if s.queue == nil {
		memories, err := s.svc.DeliverMemorize(ctx, req)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
		return
	}

	result, err := s.enqueue(ctx, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusAccepted
	if !result.Accepted {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{"accepted": result.Accepted, "reason": result.Reason})
}

type retrieveRequest struct {
	Query         string             `json:"query"`
	UserID        string             `json:"user_id"`
	GroupID       string             `json:"group_id"`
	DataSource    model.DataSource   `json:"data_source"`
	RetrievalMode model.RetrievalMode `json:"retrieval_mode"`
	TopK          int                `json:"top_k"`
	TimeRangeDays int                `json:"time_range_days"`
	Radius        float64            `json:"radius"`
}

func (r retrieveRequest) toOptions() retrieval.Options {
	return retrieval.Options{
		UserID:        r.UserID,
		GroupID:       r.GroupID,
		TimeRangeDays: r.TimeRangeDays,
		TopK:          r.TopK,
		RetrievalMode: r.RetrievalMode,
		DataSource:    r.DataSource,
		Radius:        r.Radius,
	}
}

func (s *Server) handleRetrieveLightweight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.RetrieveLightweight(ctx, req.Query, req.toOptions())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRetrieveAgentic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.RetrieveAgentic(ctx, req.Query, req.toOptions())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleFetchMem implements fetch_mem's HTTP ingress as a GET with query
// parameters, matching the teacher's read-handler idiom (parse from
// r.URL.Query(), no body).
func (s *Server) handleFetchMem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	userID := q.Get("user_id")
	groupID := q.Get("group_id")
	source := model.DataSource(q.Get("data_source"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	var versions *fetchmem.VersionRange
	if startRaw := q.Get("version_start"); startRaw != "" {
		if start, err := strconv.Atoi(startRaw); err == nil {
			versions = &fetchmem.VersionRange{Start: &start}
		}
	}
	if endRaw := q.Get("version_end"); endRaw != "" {
		if end, err := strconv.Atoi(endRaw); err == nil {
			if versions == nil {
				versions = &fetchmem.VersionRange{}
			}
			versions.End = &end
		}
	}

	res, err := s.svc.FetchMem(ctx, userID, groupID, source, versions, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
