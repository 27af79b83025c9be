package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/engine"
	"github.com/rmax-ai/meshgraph/pkg/mesh"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

const maxPacketBody = 1 << 20

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed_to_encode_response", "trace_id", getTraceID(r.Context()), "path", r.URL.Path, "error", err)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{Status: "ok"}
	if s.projection != nil {
		g := s.projection.GetGraph()
		resp.Nodes = len(g.Nodes)
		resp.Edges = len(g.Edges)
		if pkt, ok := s.projection.LastPacket(); ok {
			resp.LastPacket = &pkt
		}
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.projection == nil {
		http.Error(w, `{"error":"graph_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	now := s.now()
	g := s.projection.GetGraph()
	s.writeJSON(w, r, http.StatusOK, GraphResponse{
		Nodes:       nodeViews(g.Nodes, now),
		Edges:       edgeViews(g.Edges),
		GeneratedAt: now.UTC(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.projection == nil {
		http.Error(w, `{"error":"graph_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, r, http.StatusOK, nodeViews(s.projection.GetGraph().Nodes, s.now()))
}

// handleNode serves /v1/nodes/{id}, id being !hex, 0xhex or decimal
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.projection == nil {
		http.Error(w, `{"error":"graph_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/v1/nodes/")
	num, err := mesh.ParseNodeID(raw)
	if err != nil {
		http.Error(w, `{"error":"invalid_node_id"}`, http.StatusBadRequest)
		return
	}

	n, ok := s.projection.GetNode(num)
	if !ok {
		http.Error(w, `{"error":"node_not_found"}`, http.StatusNotFound)
		return
	}

	s.writeJSON(w, r, http.StatusOK, NodeResponse{
		Node:  nodeView(n, s.now()),
		Edges: edgeViews(s.projection.EdgesFrom(num)),
	})
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.projection == nil {
		http.Error(w, `{"error":"graph_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	if src := r.URL.Query().Get("source"); src != "" {
		num, err := mesh.ParseNodeID(src)
		if err != nil {
			http.Error(w, `{"error":"invalid_source"}`, http.StatusBadRequest)
			return
		}
		s.writeJSON(w, r, http.StatusOK, edgeViews(s.projection.EdgesFrom(num)))
		return
	}

	s.writeJSON(w, r, http.StatusOK, edgeViews(s.projection.GetGraph().Edges))
}

func (s *Server) handleStale(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.projection == nil {
		http.Error(w, `{"error":"graph_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	now := s.now()
	s.writeJSON(w, r, http.StatusOK, nodeViews(s.projection.StaleNodes(now), now))
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listPackets(w, r)
	case http.MethodPost:
		s.ingestPacket(w, r)
	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

// ingestPacket validates, persists and then applies one decoded packet.
func (s *Server) ingestPacket(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.projection == nil {
		http.Error(w, `{"error":"ingest_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	var pkt mesh.Packet
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPacketBody)).Decode(&pkt); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}

	rec, res, err := s.projection.Ingest(r.Context(), s.store, pkt)
	switch {
	case errors.Is(err, engine.ErrUnsupportedPort):
		http.Error(w, `{"error":"unsupported_port"}`, http.StatusUnprocessableEntity)
		return
	case errors.Is(err, engine.ErrInvalidPayload):
		http.Error(w, `{"error":"invalid_payload"}`, http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("failed_to_ingest_packet", "trace_id", getTraceID(r.Context()), "event_id", rec.EventID, "error", err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, r, http.StatusOK, PacketResponse{EventID: rec.EventID, Result: res})
}

func (s *Server) listPackets(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, `{"error":"store_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	filter := store.PacketFilter{Limit: 100}

	if l := q.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			filter.Limit = val
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, `{"error":"invalid_since","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
		filter.Since = t
	}
	if from := q.Get("from"); from != "" {
		num, err := mesh.ParseNodeID(from)
		if err != nil {
			http.Error(w, `{"error":"invalid_from"}`, http.StatusBadRequest)
			return
		}
		filter.From = num
	}
	if port := q.Get("port"); port != "" {
		p, err := mesh.ParsePortNum(port)
		if err != nil {
			http.Error(w, `{"error":"invalid_port"}`, http.StatusBadRequest)
			return
		}
		filter.PortNum = p
	}

	records, err := s.store.QueryPackets(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed_to_read_packets", "trace_id", getTraceID(r.Context()), "error", err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*store.PacketRecord{}
	}

	s.writeJSON(w, r, http.StatusOK, records)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.store == nil {
		http.Error(w, `{"error":"store_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	retention, err := time.ParseDuration(r.URL.Query().Get("retention"))
	if err != nil || retention <= 0 {
		http.Error(w, `{"error":"invalid_retention","format":"duration, e.g. 24h"}`, http.StatusBadRequest)
		return
	}

	deleted, err := s.store.PrunePackets(r.Context(), retention)
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) {
			http.Error(w, `{"error":"no_snapshot"}`, http.StatusConflict)
			return
		}
		s.logger.Error("failed_to_prune_packets", "trace_id", getTraceID(r.Context()), "error", err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("packets_pruned", "trace_id", getTraceID(r.Context()), "deleted", deleted, "retention", retention)
	s.writeJSON(w, r, http.StatusOK, PruneResponse{Deleted: deleted, Retention: retention.String()})
}
