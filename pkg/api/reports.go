package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
	"github.com/rmax-ai/meshgraph/pkg/reports"
)

// handleReports generates and streams CSV reports.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		http.Error(w, `{"error":"missing_type"}`, http.StatusBadRequest)
		return
	}

	end := s.now()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error":"invalid_end","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
		end = t
	}

	// Default time range: last 24h if not specified
	start := end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error":"invalid_start","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
		start = t
	}

	params := reports.ReportParams{
		Start:   start,
		End:     end,
		Filters: make(map[string]interface{}),
	}
	for _, key := range []string{"source", "from"} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		num, err := mesh.ParseNodeID(v)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"invalid_%s"}`, key), http.StatusBadRequest)
			return
		}
		params.Filters[key] = num
	}
	if v := q.Get("port"); v != "" {
		port, err := mesh.ParsePortNum(v)
		if err != nil {
			http.Error(w, `{"error":"invalid_port"}`, http.StatusBadRequest)
			return
		}
		params.Filters["port"] = port
	}

	gen, err := reports.NewReportGenerator(reportType, s.projection, s.store)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid_report_type","details":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	reader, err := gen.Generate(r.Context(), params)
	if err != nil {
		s.logger.Error("failed_to_generate_report", "trace_id", getTraceID(r.Context()), "type", reportType, "error", err)
		http.Error(w, `{"error":"report_generation_failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	filename := fmt.Sprintf("meshgraph_%s_%d.csv", reportType, end.Unix())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("failed_to_stream_report", "trace_id", getTraceID(r.Context()), "error", err)
	}
}
