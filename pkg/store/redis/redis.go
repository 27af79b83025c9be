package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/meshgraph/pkg/graph"
)

const (
	nodesSet = "meshgraph:nodes"
	edgesKey = "meshgraph:edges"
)

// NodeMirror copies the topology into Redis. Node keys expire when the node
// goes stale, so other processes can read liveness straight from Redis.
type NodeMirror struct {
	client *redis.Client
	now    func() time.Time
}

func NewNodeMirror(client *redis.Client) *NodeMirror {
	return &NodeMirror{client: client, now: time.Now}
}

func (m *NodeMirror) Name() string { return "redis" }

func (m *NodeMirror) makeKey(num uint32) string {
	return fmt.Sprintf("meshgraph:node:%d", num)
}

func edgeField(key graph.EdgeKey) string {
	return fmt.Sprintf("%d:%d", key.Source, key.Target)
}

// UpsertNode stores the node with a TTL of the time it has left before going
// stale. Nodes that are already stale are not written.
func (m *NodeMirror) UpsertNode(ctx context.Context, n graph.Node) error {
	ttl := n.ExpiresAt().Sub(m.now())
	if ttl <= 0 {
		return m.RemoveNode(ctx, n.Num)
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal node %d: %w", n.Num, err)
	}

	key := m.makeKey(n.Num)
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, nodesSet, n.Num)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to SET node %s: %w", key, err)
	}
	return nil
}

func (m *NodeMirror) UpsertEdge(ctx context.Context, e graph.Edge) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal edge %s: %w", e.Key(), err)
	}
	if err := m.client.HSet(ctx, edgesKey, edgeField(e.Key()), data).Err(); err != nil {
		return fmt.Errorf("failed to HSET edge %s: %w", e.Key(), err)
	}
	return nil
}

// RemoveNode deletes the node and every edge that touches it.
func (m *NodeMirror) RemoveNode(ctx context.Context, num uint32) error {
	fields, err := m.client.HKeys(ctx, edgesKey).Result()
	if err != nil {
		return fmt.Errorf("failed to HKEYS %s: %w", edgesKey, err)
	}

	id := strconv.FormatUint(uint64(num), 10)
	var incident []string
	for _, f := range fields {
		src, dst, ok := strings.Cut(f, ":")
		if ok && (src == id || dst == id) {
			incident = append(incident, f)
		}
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.makeKey(num))
	pipe.SRem(ctx, nodesSet, num)
	if len(incident) > 0 {
		pipe.HDel(ctx, edgesKey, incident...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove node %d: %w", num, err)
	}
	return nil
}

// Get returns the mirrored node, or false if it is absent or expired.
func (m *NodeMirror) Get(ctx context.Context, num uint32) (graph.Node, bool) {
	key := m.makeKey(num)
	data, err := m.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("Failed to GET node", "key", key, "error", err)
		}
		return graph.Node{}, false
	}
	var n graph.Node
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		slog.Warn("Failed to unmarshal node", "key", key, "error", err)
		return graph.Node{}, false
	}
	return n, true
}

// GetAll returns every live mirrored node. Members whose key has expired are
// dropped from the index set on the way.
func (m *NodeMirror) GetAll(ctx context.Context) ([]graph.Node, error) {
	members, err := m.client.SMembers(ctx, nodesSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to SMEMBERS %s: %w", nodesSet, err)
	}
	if len(members) == 0 {
		return []graph.Node{}, nil
	}

	keys := make([]string, len(members))
	for i, member := range members {
		keys[i] = "meshgraph:node:" + member
	}
	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET nodes: %w", err)
	}

	var (
		nodes   []graph.Node
		expired []interface{}
	)
	for i, val := range values {
		str, ok := val.(string)
		if !ok {
			expired = append(expired, members[i])
			continue
		}
		var n graph.Node
		if err := json.Unmarshal([]byte(str), &n); err != nil {
			slog.Warn("Failed to unmarshal node", "key", keys[i], "error", err)
			continue
		}
		nodes = append(nodes, n)
	}
	if len(expired) > 0 {
		if err := m.client.SRem(ctx, nodesSet, expired...).Err(); err != nil {
			slog.Warn("Failed to SREM expired nodes", "error", err)
		}
	}
	return nodes, nil
}

// Edges returns every mirrored edge.
func (m *NodeMirror) Edges(ctx context.Context) ([]graph.Edge, error) {
	values, err := m.client.HGetAll(ctx, edgesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to HGETALL %s: %w", edgesKey, err)
	}
	edges := make([]graph.Edge, 0, len(values))
	for field, val := range values {
		var e graph.Edge
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			slog.Warn("Failed to unmarshal edge", "field", field, "error", err)
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Clear removes everything the mirror wrote.
func (m *NodeMirror) Clear(ctx context.Context) error {
	members, err := m.client.SMembers(ctx, nodesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s during clear: %w", nodesSet, err)
	}
	keys := []string{nodesSet, edgesKey}
	for _, member := range members {
		keys = append(keys, "meshgraph:node:"+member)
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to DEL keys: %w", err)
	}
	return nil
}
