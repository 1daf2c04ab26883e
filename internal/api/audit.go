package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-instruments/internal/audit"
)

// auditSource tags entries recorded by the HTTP API.
const auditSource = "api"

// record writes an audit entry for a state-changing request. Failures to
// record are logged and never fail the request.
func (s *Server) record(r *http.Request, action, inst, member string, details map[string]any, opErr error) {
	if s.audit == nil {
		return
	}
	e := &audit.Entry{
		Action:     action,
		Instrument: inst,
		Member:     member,
		Source:     auditSource,
		Details:    details,
	}
	if claims := claimsFrom(r); claims != nil {
		e.Source = auditSource + ":" + claims.Subject
	}
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		e.RequestID = id
	}
	if opErr != nil {
		e.Outcome = opErr.Error()
	}
	if err := s.audit.Create(r.Context(), e); err != nil {
		s.logger.Warn("failed to record audit entry",
			"action", action,
			"instrument", inst,
			"error", err,
		)
	}
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log is not configured")
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		Instrument: q.Get("instrument"),
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, key+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit entries")
		return
	}
	entries := res.Entries
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   res.Total,
		"limit":   res.Limit,
		"offset":  res.Offset,
	})
}
