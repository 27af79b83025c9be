package api

import (
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleReports(t *testing.T) {
	st := &MockStore{}
	s, _ := newTestServer(t, st)
	h := s.Handler()
	for _, num := range []uint32{1, 2} {
		if w := post(t, h, nodeInfoPacket(num)); w.Code != http.StatusOK {
			t.Fatalf("ingest %d: %d %s", num, w.Code, w.Body.String())
		}
	}

	tests := []struct {
		name   string
		query  string
		status int
		rows   int
	}{
		{"nodes", "?type=nodes", http.StatusOK, 2},
		{"edges", "?type=edges", http.StatusOK, 0},
		{"packets", "?type=packets", http.StatusOK, 2},
		{"packets from node", "?type=packets&from=!00000002", http.StatusOK, 1},
		{"packets by port", "?type=packets&port=POSITION_APP", http.StatusOK, 0},
		{"packets before range", "?type=packets&end=2023-12-31T00:00:00Z", http.StatusOK, 0},
		{"missing type", "", http.StatusBadRequest, 0},
		{"unknown type", "?type=usage", http.StatusBadRequest, 0},
		{"bad start", "?type=packets&start=yesterday", http.StatusBadRequest, 0},
		{"bad node", "?type=edges&source=zz", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/reports"+tt.query, nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
				t.Errorf("expected text/csv, got %q", ct)
			}
			records, err := csv.NewReader(w.Body).ReadAll()
			if err != nil {
				t.Fatalf("Failed to read CSV: %v", err)
			}
			if len(records)-1 != tt.rows {
				t.Errorf("expected %d rows, got %d: %v", tt.rows, len(records)-1, records)
			}
		})
	}
}
