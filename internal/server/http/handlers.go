package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/citescope/citation-crawler/internal/crawl"
)

// maxRequestBodySize caps request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// addPapersRequest is the JSON request body for adding papers by ID or DOI.
type addPapersRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100,dive,required"`
}

// addPapersResponse reports the store counts after the addition.
type addPapersResponse struct {
	Added     int `json:"requested"`
	Papers    int `json:"papers"`
	Processed int `json:"processed"`
	Stubs     int `json:"stubs"`
}

// storeSummaryResponse is one table's shape plus the processed split.
type storeSummaryResponse struct {
	Tables    map[string]tableShape `json:"tables"`
	Processed int                   `json:"processed"`
	Stubs     int                   `json:"stubs"`
}

type tableShape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type forbiddenEntryResponse struct {
	Key       string `json:"key"`
	Reason    string `json:"reason"`
	Sampler   bool   `json:"sampler"`
	Reporting bool   `json:"reporting"`
}

// getRunStatus handles GET /api/v1/run.
func (s *Server) getRunStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

// getStoreSummary handles GET /api/v1/store/summary. The record store is not
// safe for concurrent reads while a tick is merging, so the handler refuses
// while the run is iterating.
func (s *Server) getStoreSummary(w http.ResponseWriter, _ *http.Request) {
	if !s.storeReadable(w) {
		return
	}

	shapes := s.view.ShapeSummary()
	tables := make(map[string]tableShape, len(shapes))
	for name, shape := range shapes {
		tables[name] = tableShape{Rows: shape.Rows, Cols: shape.Cols}
	}
	processed, stubs := s.view.ProcessedCounts()

	writeJSON(w, http.StatusOK, storeSummaryResponse{
		Tables:    tables,
		Processed: processed,
		Stubs:     stubs,
	})
}

// getForbiddenEntries handles GET /api/v1/store/forbidden.
func (s *Server) getForbiddenEntries(w http.ResponseWriter, _ *http.Request) {
	if !s.storeReadable(w) {
		return
	}

	entries := s.view.ForbiddenEntries()
	out := make([]forbiddenEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, forbiddenEntryResponse{
			Key:       e.Key,
			Reason:    e.Reason,
			Sampler:   e.Sampler,
			Reporting: e.Reporting,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"forbidden": out})
}

// addUserPapers handles POST /api/v1/papers. The papers are retrieved,
// merged, and marked Selected but not Seed; they participate in sampling
// like any other unprocessed row.
func (s *Server) addUserPapers(w http.ResponseWriter, r *http.Request) {
	s.handleAddPapers(w, r, s.controller.AddUserPapers)
}

// addKeyAuthorPapers handles POST /api/v1/key-authors. The papers are merged
// with the key-author flag set, exempting them from orphan pruning.
func (s *Server) addKeyAuthorPapers(w http.ResponseWriter, r *http.Request) {
	s.handleAddPapers(w, r, s.controller.AddKeyAuthorPapers)
}

func (s *Server) handleAddPapers(w http.ResponseWriter, r *http.Request, add func(ctx context.Context, ids []string) error) {
	if !s.storeReadable(w) {
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req addPapersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := s.validate.Struct(&req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid field %s: failed %q validation", fieldErrs[0].Field(), fieldErrs[0].Tag()))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := add(r.Context(), req.IDs); err != nil {
		s.logger.Error().Err(err).Int("ids", len(req.IDs)).Msg("adding papers failed")
		writeError(w, http.StatusBadGateway, "paper retrieval failed")
		return
	}

	processed, stubs := s.view.ProcessedCounts()
	writeJSON(w, http.StatusOK, addPapersResponse{
		Added:     len(req.IDs),
		Papers:    s.view.ShapeSummary()["papers"].Rows,
		Processed: processed,
		Stubs:     stubs,
	})
}

// storeReadable rejects store access while a crawl tick may be writing.
func (s *Server) storeReadable(w http.ResponseWriter) bool {
	if s.controller.Status().State == crawl.StateIterating {
		writeError(w, http.StatusConflict, "crawl in progress; retry after the run stops")
		return false
	}
	return true
}
