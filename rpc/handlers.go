package rpc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bdnprotocol/core"
	"bdnprotocol/crypto"
	"bdnprotocol/indexer"
	"bdnprotocol/native/bond"
	"bdnprotocol/native/permissions"
)

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "not_found":
		status = http.StatusNotFound
	case "invalid_request":
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("rpc query failed",
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"error", err)
		writeError(w, status, kind, "internal error")
		return
	}
	writeError(w, status, kind, err.Error())
}

func (s *Server) address(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	addr, err := s.backend.ResolveAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return [20]byte{}, false
	}
	return addr, true
}

func uintParam(w http.ResponseWriter, raw, name string) (uint64, bool) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" must be an unsigned integer")
		return 0, false
	}
	return v, true
}

func (s *Server) handleBond(w http.ResponseWriter, r *http.Request) {
	overview, err := s.backend.Bond()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleBondPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	position, err := s.backend.BondPosition(addr)
	if errors.Is(err, bond.ErrNoBond) {
		writeError(w, http.StatusNotFound, "not_found", "no bond for "+crypto.Format(addr))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	overview, err := s.backend.Treasury()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleRewardCycle(w http.ResponseWriter, r *http.Request) {
	n, ok := uintParam(w, chi.URLParam(r, "n"), "cycle")
	if !ok {
		return
	}
	current, err := s.backend.CurrentRewardCycle()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if n == 0 || n > current {
		writeError(w, http.StatusNotFound, "not_found", "cycle "+strconv.FormatUint(n, 10)+" has not started")
		return
	}
	cycle, err := s.backend.RewardCycle(n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	cycle, ok := uintParam(w, chi.URLParam(r, "cycle"), "cycle")
	if !ok {
		return
	}
	view, err := s.backend.Claim(addr, cycle)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type permissionResponse struct {
	Category   string `json:"category"`
	Address    string `json:"address"`
	Status     string `json:"status"`
	Active     bool   `json:"active"`
	QueuedAt   uint64 `json:"queuedAt,omitempty"`
	Calculator string `json:"calculator,omitempty"`
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	category, err := permissions.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	entry, err := s.backend.Permission(category, addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := permissionResponse{
		Category: category.String(),
		Address:  crypto.Format(addr),
		Status:   entry.Status.String(),
		Active:   entry.Active(),
		QueuedAt: entry.QueuedAt,
	}
	if entry.BoundCalculator != ([20]byte{}) {
		resp.Calculator = crypto.Format(entry.BoundCalculator)
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	Head   string                `json:"head"`
	Events []indexer.EventRecord `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event index not configured")
		return
	}
	q := r.URL.Query()
	f := indexer.Filter{Type: q.Get("type"), Op: q.Get("op")}
	if raw := q.Get("height"); raw != "" {
		height, ok := uintParam(w, raw, "height")
		if !ok {
			return
		}
		f.Height = &height
	}
	if raw := q.Get("after"); raw != "" {
		after, ok := uintParam(w, raw, "after")
		if !ok {
			return
		}
		f.AfterSeq = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, ok := uintParam(w, raw, "limit")
		if !ok {
			return
		}
		f.Limit = int(limit)
	}
	records, err := s.events.Events(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	head, _, err := s.events.Head(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if records == nil {
		records = []indexer.EventRecord{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Head: head, Events: records})
}
