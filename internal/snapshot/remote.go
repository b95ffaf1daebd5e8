// Package snapshot implements the remote snapshot graph (C7) and the local
// snapshot sequence (C8).
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/presslabs/z3/internal/objstore"
)

// Reasons a RemoteSnapshot can be unhealthy.
const (
	ReasonCycle         = "cycle detected"
	ReasonMissingParent = "missing parent"
	ReasonParentBroken  = "parent broken"
)

// RemoteSnapshot is one object-store-resident snapshot record.
type RemoteSnapshot struct {
	Name     string
	Size     int64
	Metadata map[string]string
}

// IsFull reports whether the snapshot is a full image. The legacy
// "is_full" metadata key is accepted alongside "isfull".
func (s *RemoteSnapshot) IsFull() bool {
	if v, ok := s.Metadata["isfull"]; ok {
		return v == "true"
	}
	return s.Metadata["is_full"] == "true"
}

// ParentName returns the declared parent name and whether one is present.
// Absent iff the snapshot is full.
func (s *RemoteSnapshot) ParentName() (string, bool) {
	v, ok := s.Metadata["parent"]
	return v, ok && v != ""
}

// Compressor returns the compressor tag metadata, "" meaning none.
func (s *RemoteSnapshot) Compressor() string {
	return s.Metadata["compressor"]
}

type healthResult struct {
	healthy bool
	reason  string
}

// RemoteGraph is the name -> RemoteSnapshot mapping populated once from an
// object store listing, with lazily computed, memoised node health.
type RemoteGraph struct {
	nodes map[string]*RemoteSnapshot

	mu   sync.Mutex
	memo map[string]healthResult
}

// BuildRemoteGraph lists every key under s3Prefix (trailing-slash
// normalised) and fetches its metadata, keying each RemoteSnapshot by its
// name with s3Prefix stripped so it lines up with local "dataset@snap"
// naming.
func BuildRemoteGraph(ctx context.Context, store objstore.Store, s3Prefix string) (*RemoteGraph, error) {
	prefix := normalizeTrailingSlash(s3Prefix)

	refs, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list remote snapshots under %s: %w", prefix, err)
	}

	nodes := make(map[string]*RemoteSnapshot, len(refs))
	for _, ref := range refs {
		meta, err := store.GetKey(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch metadata for %s: %w", ref.Key, err)
		}
		name := strings.TrimPrefix(meta.Name, prefix)
		nodes[name] = &RemoteSnapshot{Name: name, Size: meta.Size, Metadata: meta.Metadata}
	}

	return &RemoteGraph{nodes: nodes, memo: make(map[string]healthResult)}, nil
}

func normalizeTrailingSlash(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// Get returns the snapshot by stripped name, if present.
func (g *RemoteGraph) Get(name string) (*RemoteSnapshot, bool) {
	s, ok := g.nodes[name]
	return s, ok
}

// List returns every snapshot sorted by name.
func (g *RemoteGraph) List() []*RemoteSnapshot {
	out := make([]*RemoteSnapshot, 0, len(g.nodes))
	for _, s := range g.nodes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsHealthy reports whether following parent from name reaches a full
// snapshot in finitely many steps without revisiting a node. A name absent
// from the graph is unhealthy with reason "missing parent".
func (g *RemoteGraph) IsHealthy(name string) bool {
	return g.health(name, nil).healthy
}

// ReasonBroken returns the reason name is unhealthy, or "" if it is
// healthy.
func (g *RemoteGraph) ReasonBroken(name string) string {
	return g.health(name, nil).reason
}

// health computes, and memoises, the health of name. visited carries the
// set of names already walked on the current path from the queried node
// (not including name itself); a node revisiting one of them is a cycle.
func (g *RemoteGraph) health(name string, visited map[string]bool) healthResult {
	g.mu.Lock()
	if r, ok := g.memo[name]; ok {
		g.mu.Unlock()
		return r
	}
	g.mu.Unlock()

	node, ok := g.nodes[name]
	if !ok {
		return g.store(name, healthResult{reason: ReasonMissingParent})
	}

	if node.IsFull() {
		return g.store(name, healthResult{healthy: true})
	}

	if visited[name] {
		return g.store(name, healthResult{reason: ReasonCycle})
	}

	parentName, hasParent := node.ParentName()
	if !hasParent {
		return g.store(name, healthResult{reason: ReasonMissingParent})
	}
	if _, ok := g.nodes[parentName]; !ok {
		return g.store(name, healthResult{reason: ReasonMissingParent})
	}

	childVisited := make(map[string]bool, len(visited)+1)
	for k := range visited {
		childVisited[k] = true
	}
	childVisited[name] = true

	parentHealth := g.health(parentName, childVisited)
	switch {
	case parentHealth.healthy:
		return g.store(name, healthResult{healthy: true})
	case parentHealth.reason == ReasonCycle:
		return g.store(name, healthResult{reason: ReasonCycle})
	default:
		return g.store(name, healthResult{reason: ReasonParentBroken})
	}
}

func (g *RemoteGraph) store(name string, r healthResult) healthResult {
	g.mu.Lock()
	g.memo[name] = r
	g.mu.Unlock()
	return r
}
