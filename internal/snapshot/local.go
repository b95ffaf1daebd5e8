package snapshot

import (
	"bufio"
	"context"
	"os/exec"
	"strings"

	"github.com/presslabs/z3/internal/zerr"
)

// LocalSnapshot is one "dataset@short" entry from `zfs list -Ht snap`.
type LocalSnapshot struct {
	Name       string
	Dataset    string
	Short      string
	Used       string
	Refer      string
	Mountpoint string
	Written    string
	Parent     *LocalSnapshot
}

// LocalSequence is the insertion-ordered, prefix-filtered chain of
// snapshots for one dataset, in `zfs list` order (chronological).
type LocalSequence struct {
	Dataset   string
	snapshots []*LocalSnapshot
	byShort   map[string]*LocalSnapshot
}

// Snapshots returns the chain in order.
func (seq *LocalSequence) Snapshots() []*LocalSnapshot {
	return seq.snapshots
}

// Get returns the snapshot with the given short name, if present.
func (seq *LocalSequence) Get(short string) (*LocalSnapshot, bool) {
	s, ok := seq.byShort[short]
	return s, ok
}

// GetLatest returns the most recent snapshot in the chain, or a SoftError
// if the sequence is empty.
func (seq *LocalSequence) GetLatest() (*LocalSnapshot, error) {
	if len(seq.snapshots) == 0 {
		return nil, zerr.Soft("no local snapshots match the configured prefix for %s", seq.Dataset)
	}
	return seq.snapshots[len(seq.snapshots)-1], nil
}

// ListLocalSnapshots runs `zfs list -Ht snap -o name,used,refer,mountpoint,written`
// and parses its output via ParseLocalSnapshots.
func ListLocalSnapshots(ctx context.Context, snapshotPrefix string) (map[string]*LocalSequence, error) {
	cmd := exec.CommandContext(ctx, "zfs", "list", "-Ht", "snap", "-o", "name,used,refer,mountpoint,written")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return ParseLocalSnapshots(string(out), snapshotPrefix), nil
}

// ParseLocalSnapshots parses the tab-separated output of `zfs list -Ht snap
// -o name,used,refer,mountpoint,written` into one LocalSequence per
// dataset, preserving enumeration order. Entries whose short name does not
// begin with snapshotPrefix are skipped entirely and are invisible to
// parent resolution.
func ParseLocalSnapshots(output, snapshotPrefix string) map[string]*LocalSequence {
	sequences := make(map[string]*LocalSequence)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			continue
		}
		name, used, refer, mountpoint, written := fields[0], fields[1], fields[2], fields[3], fields[4]

		parts := strings.SplitN(name, "@", 2)
		if len(parts) != 2 {
			continue
		}
		dataset, short := parts[0], parts[1]

		seq, ok := sequences[dataset]
		if !ok {
			seq = &LocalSequence{Dataset: dataset, byShort: make(map[string]*LocalSnapshot)}
			sequences[dataset] = seq
		}

		if !strings.HasPrefix(short, snapshotPrefix) {
			continue
		}

		var parent *LocalSnapshot
		if n := len(seq.snapshots); n > 0 {
			parent = seq.snapshots[n-1]
		}

		snap := &LocalSnapshot{
			Name: name, Dataset: dataset, Short: short,
			Used: used, Refer: refer, Mountpoint: mountpoint, Written: written,
			Parent: parent,
		}
		seq.snapshots = append(seq.snapshots, snap)
		seq.byShort[short] = snap
	}

	return sequences
}
