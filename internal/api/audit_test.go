package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/gray-logic-instruments/internal/audit"
)

func TestAuditRecordsStateChanges(t *testing.T) {
	f := testServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/instruments/dmm/parameters/range",
		bytes.NewReader([]byte(`{"value": 10}`)))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT range status = %d", rec.Code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/v1/instruments/dmm/functions/reset", ""); code != http.StatusOK {
		t.Fatalf("POST reset status = %d", code)
	}
	if code, _ := f.do(t, http.MethodPatch, "/api/v1/instruments/dmm/metadata", `{"owner":"lab"}`); code != http.StatusOK {
		t.Fatalf("PATCH metadata status = %d", code)
	}
	// Reads are not audited.
	f.do(t, http.MethodGet, "/api/v1/instruments/dmm/parameters/range", "")

	res, err := f.audit.List(context.Background(), audit.Filter{Instrument: "dmm"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("recorded %d entries, want 3: %+v", res.Total, res.Entries)
	}

	byAction := map[string]audit.Entry{}
	for _, e := range res.Entries {
		byAction[e.Action] = e
	}
	set := byAction[audit.ActionSetParameter]
	if set.Member != "range" || set.RequestID != "req-42" || set.Source != "api" || set.Outcome != "ok" {
		t.Errorf("set entry = %+v", set)
	}
	if byAction[audit.ActionCallFunction].Member != "reset" {
		t.Errorf("call entry = %+v", byAction[audit.ActionCallFunction])
	}
	if byAction[audit.ActionUpdateMetadata].Details["owner"] != "lab" {
		t.Errorf("metadata entry = %+v", byAction[audit.ActionUpdateMetadata])
	}
}

func TestAuditRecordsFailures(t *testing.T) {
	f := testServer(t)

	if code, _ := f.do(t, http.MethodPut, "/api/v1/instruments/dmm/parameters/voltage", `{"value": 1}`); code != http.StatusMethodNotAllowed {
		t.Fatalf("PUT voltage status = %d, want 405", code)
	}

	res, err := f.audit.List(context.Background(), audit.Filter{Action: audit.ActionSetParameter})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].Outcome == "ok" {
		t.Errorf("entries = %+v, want one failed set", res.Entries)
	}
}

func TestListAudit(t *testing.T) {
	f := testServer(t)

	f.do(t, http.MethodPut, "/api/v1/instruments/dmm/parameters/range", `{"value": 10}`)
	f.do(t, http.MethodPost, "/api/v1/instruments/dmm/functions/reset", "")

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal float64
	}{
		{"all", "", http.StatusOK, 2},
		{"by action", "?action=call_function", http.StatusOK, 1},
		{"other instrument", "?instrument=psu", http.StatusOK, 0},
		{"paged", "?limit=1&offset=1", http.StatusOK, 2},
		{"bad limit", "?limit=x", http.StatusBadRequest, 0},
		{"negative offset", "?offset=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodGet, "/api/v1/audit"+tt.query, "")
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%v)", code, tt.wantCode, body)
			}
			if code != http.StatusOK {
				return
			}
			if body["total"] != tt.wantTotal {
				t.Errorf("total = %v, want %v", body["total"], tt.wantTotal)
			}
			if _, ok := body["entries"].([]any); !ok {
				t.Errorf("entries = %T, want array", body["entries"])
			}
		})
	}
}

func TestListAudit_NotConfigured(t *testing.T) {
	f := testServer(t)
	f.srv.audit = nil
	handler := f.srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
