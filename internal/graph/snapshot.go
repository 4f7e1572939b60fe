// internal/graph/snapshot.go
package graph

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// snapshotVersion guards against loading snapshots written by an
// incompatible layout.
const snapshotVersion = 1

type snapshot struct {
	Version int
	Nodes   []Node
	Edges   []Edge
}

// Snapshot writes the graph to the configured path atomically
// (temp file + rename). No-op when the graph hasn't changed since the
// last snapshot.
func (s *MemoryStore) Snapshot() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snap := snapshot{Version: snapshotVersion}
	snap.Nodes = make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		snap.Nodes = append(snap.Nodes, *node)
	}
	snap.Edges = make([]Edge, 0, len(s.edges))
	for _, edge := range s.edges {
		snap.Edges = append(snap.Edges, *edge)
	}
	s.dirty = false
	s.mu.Unlock()

	if err := writeSnapshot(s.cfg.Path, snap); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	s.logger.Debug("graph snapshot written",
		zap.String("path", s.cfg.Path),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)))
	return nil
}

func writeSnapshot(path string, snap snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// load replaces store contents with a snapshot from disk. A missing file
// is not an error: the store starts empty.
func (s *MemoryStore) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range snap.Nodes {
		node := snap.Nodes[i]
		s.nodes[node.ID] = &node
	}
	for i := range snap.Edges {
		edge := snap.Edges[i]
		key := edge.Key()
		s.edges[key] = &edge
		if s.out[edge.From] == nil {
			s.out[edge.From] = make(map[EdgeKey]struct{})
		}
		if s.in[edge.To] == nil {
			s.in[edge.To] = make(map[EdgeKey]struct{})
		}
		s.out[edge.From][key] = struct{}{}
		s.in[edge.To][key] = struct{}{}
	}
	s.logger.Info("graph snapshot loaded",
		zap.String("path", path),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)))
	return nil
}
