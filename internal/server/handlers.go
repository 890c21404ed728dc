package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/juspay/hippocampus/pkg/engine"
	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/temporal"
)

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var in engine.AddInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	engrams, err := s.memory.Add(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if engrams == nil {
		engrams = []*store.Engram{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"engrams": engrams,
		"count":   len(engrams),
	})
}

func (s *Server) handleListEngrams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), s.defaultLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	engrams, err := s.memory.List(r.Context(), q.Get("ownerId"), limit, offset, store.Strand(q.Get("strand")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if engrams == nil {
		engrams = []*store.Engram{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engrams": engrams,
		"count":   len(engrams),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var in engine.SearchInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.Limit == 0 {
		in.Limit = s.defaultLimit
	}
	if in.MinFinalScore == nil {
		min := s.minFinalScore
		in.MinFinalScore = &min
	}
	result, err := s.memory.Search(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetEngram(w http.ResponseWriter, r *http.Request) {
	engram, err := s.memory.Get(r.Context(), r.URL.Query().Get("ownerId"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, engram)
}

func (s *Server) handleUpdateEngram(w http.ResponseWriter, r *http.Request) {
	var in engine.UpdateInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	engram, err := s.memory.Update(r.Context(), r.URL.Query().Get("ownerId"), chi.URLParam(r, "id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, engram)
}

func (s *Server) handleDeleteEngram(w http.ResponseWriter, r *http.Request) {
	if err := s.memory.Delete(r.Context(), r.URL.Query().Get("ownerId"), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerID string  `json:"ownerId"`
		Boost   float64 `json:"boost"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	engram, err := s.memory.Reinforce(r.Context(), in.OwnerID, chi.URLParam(r, "id"), in.Boost)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, engram)
}

func (s *Server) handleRecordFact(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerID string `json:"ownerId"`
		temporal.RecordInput
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	chronicle, err := s.memory.RecordFact(r.Context(), in.OwnerID, in.RecordInput)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chronicle)
}

func (s *Server) handleQueryChronicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.ChronicleQuery{
		Entity:    q.Get("entity"),
		Attribute: q.Get("attribute"),
	}
	var err error
	if query.At, err = timeParam(q.Get("at")); err != nil {
		s.fail(w, r, err)
		return
	}
	if query.From, err = timeParam(q.Get("from")); err != nil {
		s.fail(w, r, err)
		return
	}
	if query.To, err = timeParam(q.Get("to")); err != nil {
		s.fail(w, r, err)
		return
	}
	if query.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		s.fail(w, r, err)
		return
	}
	chronicles, err := s.memory.QueryChronicles(r.Context(), q.Get("ownerId"), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChronicles(w, chronicles)
}

// handleCurrent answers both shapes: with entity and attribute it is
// the single open fact, without them the owner's full current view.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entity, attribute := q.Get("entity"), q.Get("attribute")
	if entity != "" || attribute != "" {
		chronicle, err := s.memory.CurrentFact(r.Context(), q.Get("ownerId"), entity, attribute)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chronicle)
		return
	}
	chronicles, err := s.memory.Temporal().CurrentChronicles(r.Context(), q.Get("ownerId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChronicles(w, chronicles)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chronicles, err := s.memory.Timeline(r.Context(), q.Get("ownerId"), q.Get("entity"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChronicles(w, chronicles)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	chronicles, err := s.memory.Related(r.Context(), r.URL.Query().Get("ownerId"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChronicles(w, chronicles)
}

func (s *Server) handleUpdateChronicle(w http.ResponseWriter, r *http.Request) {
	var in temporal.UpdateInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	chronicle, err := s.memory.Temporal().Update(r.Context(), r.URL.Query().Get("ownerId"), chi.URLParam(r, "id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chronicle)
}

func (s *Server) handleExpireChronicle(w http.ResponseWriter, r *http.Request) {
	chronicle, err := s.memory.Temporal().Expire(r.Context(), r.URL.Query().Get("ownerId"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chronicle)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerID string `json:"ownerId"`
		temporal.LinkInput
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	nexus, err := s.memory.Link(r.Context(), in.OwnerID, in.LinkInput)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nexus)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerID string `json:"ownerId"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.memory.RunDecay(r.Context(), in.OwnerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.memory.Stats(r.Context(), r.URL.Query().Get("ownerId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.memory.Store().HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeChronicles(w http.ResponseWriter, chronicles []*store.Chronicle) {
	if chronicles == nil {
		chronicles = []*store.Chronicle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chronicles": chronicles,
		"count":      len(chronicles),
	})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: not a number: %q", store.ErrInvalidInput, raw)
	}
	return n, nil
}

func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not an RFC3339 timestamp: %q", store.ErrInvalidInput, raw)
	}
	return &t, nil
}
