package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newGraph(nodes map[string]*RemoteSnapshot) *RemoteGraph {
	return &RemoteGraph{nodes: nodes, memo: make(map[string]healthResult)}
}

func TestHealthyChain(t *testing.T) {
	g := newGraph(map[string]*RemoteSnapshot{
		"fs@full": {Name: "fs@full", Metadata: map[string]string{"isfull": "true"}},
		"fs@inc1": {Name: "fs@inc1", Metadata: map[string]string{"isfull": "false", "parent": "fs@full"}},
		"fs@inc2": {Name: "fs@inc2", Metadata: map[string]string{"isfull": "false", "parent": "fs@inc1"}},
	})

	require.True(t, g.IsHealthy("fs@inc2"))
	require.Equal(t, "", g.ReasonBroken("fs@inc2"))
}

func TestLegacyIsFullKey(t *testing.T) {
	g := newGraph(map[string]*RemoteSnapshot{
		"fs@full": {Name: "fs@full", Metadata: map[string]string{"is_full": "true"}},
	})
	require.True(t, g.IsHealthy("fs@full"))
}

func TestMissingParent(t *testing.T) {
	g := newGraph(map[string]*RemoteSnapshot{
		"fs@inc1": {Name: "fs@inc1", Metadata: map[string]string{"isfull": "false", "parent": "fs@ghost"}},
	})
	require.False(t, g.IsHealthy("fs@inc1"))
	require.Equal(t, ReasonMissingParent, g.ReasonBroken("fs@inc1"))
}

func TestCycleDetected(t *testing.T) {
	g := newGraph(map[string]*RemoteSnapshot{
		"fs@a": {Name: "fs@a", Metadata: map[string]string{"isfull": "false", "parent": "fs@b"}},
		"fs@b": {Name: "fs@b", Metadata: map[string]string{"isfull": "false", "parent": "fs@a"}},
	})
	require.False(t, g.IsHealthy("fs@a"))
	require.Equal(t, ReasonCycle, g.ReasonBroken("fs@a"))
}

func TestParentBroken(t *testing.T) {
	g := newGraph(map[string]*RemoteSnapshot{
		"fs@orphan": {Name: "fs@orphan", Metadata: map[string]string{"isfull": "false", "parent": "fs@ghost"}},
		"fs@child":  {Name: "fs@child", Metadata: map[string]string{"isfull": "false", "parent": "fs@orphan"}},
	})
	require.False(t, g.IsHealthy("fs@child"))
	require.Equal(t, ReasonParentBroken, g.ReasonBroken("fs@child"))
}

func TestListSortedByName(t *testing.T) {
	g := newGraph(map[string]*RemoteSnapshot{
		"fs@b": {Name: "fs@b", Metadata: map[string]string{"isfull": "true"}},
		"fs@a": {Name: "fs@a", Metadata: map[string]string{"isfull": "true"}},
	})
	list := g.List()
	require.Len(t, list, 2)
	require.Equal(t, "fs@a", list[0].Name)
	require.Equal(t, "fs@b", list[1].Name)
}
