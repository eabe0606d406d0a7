package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

// Key namespaces under a ranker root.
const (
	nodeNamespace  = "ranker_node"
	scoreNamespace = "ranker_score"
)

// Node is one counting node of a ranker tree.
type Node struct {
	ID          uint64
	ChildCounts []int64
}

// Total returns the sum of all child counts.
func (n *Node) Total() int64 {
	var sum int64
	for _, c := range n.ChildCounts {
		sum += c
	}
	return sum
}

// ScoreRecord is the current score of one named entity.
type ScoreRecord struct {
	Name  string
	Value tree.Score
}

type nodeDoc struct {
	ChildCounts []int64 `json:"child_counts"`
}

type scoreDoc struct {
	Value string `json:"value"`
}

// NodeStore maps ranker nodes and score records onto backend keys under one
// ranker root key.
//
// PutAll splits its mutations into chunks no larger than the effective
// transaction limit and commits them in order. Each chunk is atomic; the
// whole call is not. If a chunk fails after an earlier one committed, the
// returned error wraps ErrPartialWrite and readers may already observe the
// committed part. Callers must tolerate that or retry idempotently.
type NodeStore struct {
	backend      Backend
	root         string
	maxMutations int
	logger       logger.Logger
	metrics      *metrics.Manager
}

// NewNodeStore returns a store for the ranker rooted at rootKey.
func NewNodeStore(backend Backend, rootKey string, opts ...StoreOption) *NodeStore {
	s := &NodeStore{
		backend: backend,
		root:    rootKey,
		logger:  logger.Nop(),
		metrics: metrics.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RootKey returns the ranker root key.
func (s *NodeStore) RootKey() string { return s.root }

// KeyForNode returns the backend key of node id.
func (s *NodeStore) KeyForNode(id uint64) string {
	return CreateKey(nodeNamespace, s.root, "node_"+strconv.FormatUint(id, 10))
}

// KeyForScore returns the backend key of the score record of name.
func (s *NodeStore) KeyForScore(name string) string {
	return CreateKey(scoreNamespace, s.root, name)
}

// ChunkLimit returns the effective mutations-per-transaction limit, or 0
// when neither the store nor the backend imposes one.
func (s *NodeStore) ChunkLimit() int {
	limit := s.maxMutations
	if bl := s.backend.MaxMutations(); bl > 0 && (limit == 0 || bl < limit) {
		limit = bl
	}
	return limit
}

// GetNodes fetches the given nodes in one batched read. Absent nodes are
// omitted from the result.
func (s *NodeStore) GetNodes(ctx context.Context, ids []uint64) (map[uint64]*Node, error) {
	if len(ids) == 0 {
		return map[uint64]*Node{}, nil
	}
	byKey := make(map[string]uint64, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		k := s.KeyForNode(id)
		if _, dup := byKey[k]; dup {
			continue
		}
		byKey[k] = id
		keys = append(keys, k)
	}

	docs, err := s.getMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get %d nodes: %w", len(keys), err)
	}

	out := make(map[uint64]*Node, len(docs))
	for k, raw := range docs {
		var doc nodeDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("node %q: %w: %w", k, ErrDecode, err)
		}
		id := byKey[k]
		out[id] = &Node{ID: id, ChildCounts: doc.ChildCounts}
	}
	return out, nil
}

// GetNode fetches a single node, or ErrNotFound.
func (s *NodeStore) GetNode(ctx context.Context, id uint64) (*Node, error) {
	nodes, err := s.GetNodes(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	n, ok := nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, nil
}

// GetScores fetches the score records of names in one batched read. Names
// without a record are omitted from the result.
func (s *NodeStore) GetScores(ctx context.Context, names []string) (map[string]ScoreRecord, error) {
	if len(names) == 0 {
		return map[string]ScoreRecord{}, nil
	}
	byKey := make(map[string]string, len(names))
	keys := make([]string, 0, len(names))
	for _, name := range names {
		k := s.KeyForScore(name)
		if _, dup := byKey[k]; dup {
			continue
		}
		byKey[k] = name
		keys = append(keys, k)
	}

	docs, err := s.getMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get %d score records: %w", len(keys), err)
	}

	out := make(map[string]ScoreRecord, len(docs))
	for k, raw := range docs {
		var doc scoreDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("score record %q: %w: %w", k, ErrDecode, err)
		}
		value, err := tree.ParseScore(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("score record %q: %w: %w", k, ErrDecode, err)
		}
		name := byKey[k]
		out[name] = ScoreRecord{Name: name, Value: value}
	}
	return out, nil
}

// GetScore fetches the score record of name, or ErrNotFound.
func (s *NodeStore) GetScore(ctx context.Context, name string) (ScoreRecord, error) {
	recs, err := s.GetScores(ctx, []string{name})
	if err != nil {
		return ScoreRecord{}, err
	}
	rec, ok := recs[name]
	if !ok {
		return ScoreRecord{}, fmt.Errorf("score record %q: %w", name, ErrNotFound)
	}
	return rec, nil
}

// PutAll persists nodes, score record upserts and score record deletes.
// Nodes are written first, then upserts, then deletes; see NodeStore for the
// chunking and atomicity contract.
func (s *NodeStore) PutAll(ctx context.Context, nodes []*Node, upserts []ScoreRecord, deletes []string) error {
	muts := make([]Mutation, 0, len(nodes)+len(upserts)+len(deletes))
	for _, n := range nodes {
		raw, err := json.Marshal(nodeDoc{ChildCounts: n.ChildCounts})
		if err != nil {
			return fmt.Errorf("encode node %d: %w", n.ID, err)
		}
		muts = append(muts, Mutation{Key: s.KeyForNode(n.ID), Value: raw})
	}
	for _, r := range upserts {
		raw, err := json.Marshal(scoreDoc{Value: r.Value.Key()})
		if err != nil {
			return fmt.Errorf("encode score record %q: %w", r.Name, err)
		}
		muts = append(muts, Mutation{Key: s.KeyForScore(r.Name), Value: raw})
	}
	for _, name := range deletes {
		muts = append(muts, Mutation{Key: s.KeyForScore(name), Delete: true})
	}
	if len(muts) == 0 {
		return nil
	}

	limit := s.ChunkLimit()
	if limit <= 0 {
		limit = len(muts)
	}
	chunks := slices.Collect(slices.Chunk(muts, limit))

	committed := 0
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			s.metrics.RecordTransactionChunk()
		}
		start := time.Now()
		if err := s.backend.Apply(ctx, chunk); err != nil {
			s.metrics.RecordBackendError("write")
			if committed == 0 {
				return fmt.Errorf("apply chunk %d/%d: %w", i+1, len(chunks), err)
			}
			s.metrics.RecordPartialWrite()
			s.logger.Warn(ctx, "chunked write failed after partial commit",
				logger.String("root", s.root),
				logger.Int("chunk", i+1),
				logger.Int("chunks", len(chunks)),
				logger.Int("committed_mutations", committed),
				logger.Error(err),
			)
			return fmt.Errorf("apply chunk %d/%d after %d committed mutations: %w: %w",
				i+1, len(chunks), committed, ErrPartialWrite, err)
		}
		s.metrics.RecordBackendWrite(len(chunk), float64(time.Since(start).Milliseconds()))
		committed += len(chunk)
	}
	return nil
}

func (s *NodeStore) getMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	docs, err := s.backend.GetMulti(ctx, keys)
	if err != nil {
		s.metrics.RecordBackendError("read")
		return nil, err
	}
	s.metrics.RecordBackendRead(len(keys), float64(time.Since(start).Milliseconds()))
	return docs, nil
}

// IsNotFound reports whether err is a not-found condition from this package.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
