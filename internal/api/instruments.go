package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-instruments/internal/audit"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch/mqttlink"
	"github.com/nerrad567/gray-logic-instruments/internal/instrument"
	"github.com/nerrad567/gray-logic-instruments/internal/process"
	"github.com/nerrad567/gray-logic-instruments/internal/snapshot"
)

// instrumentView is the JSON shape of one instrument.
type instrumentView struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	UUID       string   `json:"uuid"`
	Server     string   `json:"server,omitempty"`
	Connected  bool     `json:"connected"`
	Parameters []string `json:"parameters"`
	Functions  []string `json:"functions"`
}

func viewOf(inst *instrument.Instrument) instrumentView {
	return instrumentView{
		Name:       inst.Name(),
		Kind:       inst.Kind(),
		UUID:       inst.UUID(),
		Server:     inst.Server(),
		Connected:  inst.Connected(),
		Parameters: inst.Parameters(),
		Functions:  inst.Functions(),
	}
}

// snapshotView is the JSON shape of a stored snapshot.
type snapshotView struct {
	ID      int64          `json:"id"`
	UUID    string         `json:"uuid"`
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	TakenAt time.Time      `json:"taken_at"`
	Data    map[string]any `json:"data"`
}

func snapshotViewOf(rec snapshot.Record) snapshotView {
	return snapshotView{
		ID:      rec.ID,
		UUID:    rec.InstrumentUUID,
		Name:    rec.InstrumentName,
		Kind:    rec.Kind,
		TakenAt: rec.TakenAt,
		Data:    rec.Data,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"instruments":    len(s.instruments()),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListDelegates(w http.ResponseWriter, _ *http.Request) {
	delegates := []dispatch.DelegateStats{}
	if s.delegates != nil {
		delegates = append(delegates, s.delegates.Stats()...)
	}
	workers := []mqttlink.WorkerStatus{}
	if s.workers != nil {
		workers = append(workers, s.workers.Workers()...)
	}
	processes := []process.Stats{}
	if s.processes != nil {
		processes = append(processes, s.processes.Stats()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delegates": delegates,
		"workers":   workers,
		"processes": processes,
	})
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")

	views := make([]instrumentView, 0)
	for _, inst := range s.instruments() {
		if inst.Closed() || (kind != "" && inst.Kind() != kind) {
			continue
		}
		views = append(views, viewOf(inst))
	}
	sort.Slice(views, func(a, b int) bool { return views[a].Name < views[b].Name })

	writeJSON(w, http.StatusOK, map[string]any{
		"instruments": views,
		"count":       len(views),
	})
}

// lookup resolves the {name} URL parameter, writing a 404 when absent.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*instrument.Instrument, bool) {
	name := chi.URLParam(r, "name")
	for _, inst := range s.instruments() {
		if inst.Name() == name && !inst.Closed() {
			return inst, true
		}
	}
	writeNotFound(w, "instrument not found: "+name)
	return nil, false
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(inst))
}

func (s *Server) handleLiveSnapshot(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	update, err := boolQuery(r, "update")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	snap, err := inst.Snapshot(r.Context(), update)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeNotFound(w, "snapshot storage is not configured")
		return
	}
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	update, err := boolQuery(r, "update")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.snapshots.Capture(r.Context(), inst, update)
	s.record(r, audit.ActionSnapshot, inst.Name(), "", map[string]any{"update": update}, err)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshotViewOf(rec))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeNotFound(w, "snapshot storage is not configured")
		return
	}
	name := chi.URLParam(r, "name")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.snapshots.Repository().ListByInstrument(r.Context(), name, limit)
	if err != nil {
		writeOpError(w, err)
		return
	}
	views := make([]snapshotView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, snapshotViewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": views,
		"count":     len(views),
	})
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.Metadata())
}

// handlePatchMetadata merges the request body into the instrument's
// metadata and persists the result when storage is configured.
func (s *Server) handlePatchMetadata(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON object: "+err.Error())
		return
	}
	inst.LoadMetadata(patch)

	var err error
	if s.snapshots != nil {
		err = s.snapshots.Persist(r.Context(), inst)
	}
	s.record(r, audit.ActionUpdateMetadata, inst.Name(), "", patch, err)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst.Metadata())
}

func (s *Server) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	param := chi.URLParam(r, "param")
	value, err := inst.Get(r.Context(), param)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": inst.Name(),
		"parameter":  param,
		"value":      value,
	})
}

type setParameterRequest struct {
	Value *json.RawMessage `json:"value"`
}

func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req setParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	var value any
	if err := json.Unmarshal(*req.Value, &value); err != nil {
		writeBadRequest(w, "invalid value: "+err.Error())
		return
	}

	param := chi.URLParam(r, "param")
	err := inst.Set(r.Context(), param, value)
	s.record(r, audit.ActionSetParameter, inst.Name(), param, map[string]any{"value": value}, err)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": inst.Name(),
		"parameter":  param,
		"value":      value,
	})
}

type callFunctionRequest struct {
	Args []any `json:"args"`
}

func (s *Server) handleCallFunction(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req callFunctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	fn := chi.URLParam(r, "function")
	result, err := inst.Call(r.Context(), fn, req.Args...)
	s.record(r, audit.ActionCallFunction, inst.Name(), fn, map[string]any{"args": req.Args}, err)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": inst.Name(),
		"function":   fn,
		"result":     result,
	})
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return v, nil
}
