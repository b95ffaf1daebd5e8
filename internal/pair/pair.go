// Package pair implements the pair manager (C9): reconciling local and
// remote snapshot state into backup and restore plans, and executing them
// via the command executor.
package pair

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/presslabs/z3/internal/chunk"
	"github.com/presslabs/z3/internal/snapshot"
	"github.com/presslabs/z3/internal/zerr"
)

// commandRunner is the subset of *sh.Runner the pair manager drives: a
// read-only probe (Capture, which always runs for real, dry-run or not)
// and a two-stage pipeline (Pipe). Pulled out as an interface so tests can
// substitute a fake instead of shelling out to zfs/pput/ssh.
type commandRunner interface {
	Capture(ctx context.Context, cmd string) (string, error)
	Pipe(ctx context.Context, left, right string, estimatedSize int64, quiet bool) error
}

// CompressorSpec is one registered compressor's shell stages.
type CompressorSpec struct {
	Compress   string
	Decompress string
}

// Compressors is the recognised compressor tag registry (external
// interfaces, compressors table). "none" or an absent tag means no stage,
// and is intentionally not a key here.
var Compressors = map[string]CompressorSpec{
	"pigz1": {Compress: "pigz -1 --blocksize 4096", Decompress: "pigz -d"},
	"pigz4": {Compress: "pigz -4 --blocksize 4096", Decompress: "pigz -d"},
}

// Pair is a (remote?, local?) snapshot association, as returned by List.
type Pair struct {
	Remote *snapshot.RemoteSnapshot
	Local  *snapshot.LocalSnapshot
}

// List pairs every local snapshot (in chain order) with its remote
// counterpart if one exists, then appends any remote-only snapshots not
// seen locally.
func List(graph *snapshot.RemoteGraph, seq *snapshot.LocalSequence) []Pair {
	seen := make(map[string]bool)
	pairs := make([]Pair, 0, len(seq.Snapshots()))

	for _, local := range seq.Snapshots() {
		remote, _ := graph.Get(local.Name)
		pairs = append(pairs, Pair{Remote: remote, Local: local})
		seen[local.Name] = true
	}
	for _, remote := range graph.List() {
		if !seen[remote.Name] {
			pairs = append(pairs, Pair{Remote: remote})
		}
	}
	return pairs
}

// ParseEstimatedSize extracts the byte estimate from `zfs send -nvP`
// output: the last non-empty line's second whitespace-separated field.
func ParseEstimatedSize(output string) (int64, error) {
	lines := strings.Split(output, "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			last = trimmed
			break
		}
	}
	if last == "" {
		return 0, fmt.Errorf("zfs send -nvP produced no output")
	}

	fields := strings.Fields(last)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed zfs send -nvP size line: %q", last)
	}

	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size from %q: %w", last, err)
	}
	return size, nil
}

// OptimalChunkSize picks a chunk size for an upload of estimatedSize bytes
// so the part count stays <= 9999 and per-part size stays >= 5 MiB.
func OptimalChunkSize(estimatedSize int64) int {
	size := int(math.Ceil(float64(estimatedSize) * 1.05 / 9999))
	if size < chunk.DefaultSize {
		return chunk.DefaultSize
	}
	return size
}

func shortName(fullName string) string {
	if idx := strings.IndexByte(fullName, '@'); idx >= 0 {
		return fullName[idx+1:]
	}
	return fullName
}

// Manager drives backup_full, backup_incremental and restore for one
// dataset against its remote graph, local sequence, and the command
// executor. PputBinary/GetBinary default to "pput"/"z3_get" when empty.
type Manager struct {
	Dataset  string
	S3Prefix string
	Graph    *snapshot.RemoteGraph
	Local    *snapshot.LocalSequence
	Runner   commandRunner

	PputBinary string
	GetBinary  string
}

func (m *Manager) pputBinary() string {
	if m.PputBinary != "" {
		return m.PputBinary
	}
	return "pput"
}

func (m *Manager) getBinary() string {
	if m.GetBinary != "" {
		return m.GetBinary
	}
	return "z3_get"
}

func (m *Manager) resolveTarget(snapName string) (*snapshot.LocalSnapshot, error) {
	if snapName == "" {
		return m.Local.GetLatest()
	}
	s, ok := m.Local.Get(snapName)
	if !ok {
		return nil, zerr.Soft("no local snapshot named %s for dataset %s", snapName, m.Dataset)
	}
	return s, nil
}

func (m *Manager) estimateSize(ctx context.Context, target string) (int64, error) {
	cmd := shellquote.Join("zfs", "send", "-nvP", target)
	out, err := m.Runner.Capture(ctx, cmd)
	if err != nil {
		return 0, fmt.Errorf("estimate size of %s: %w", target, err)
	}
	return ParseEstimatedSize(out)
}

// pipeUpload pipes sendArgs (a "zfs send ..." argv), optionally through
// compressor's compress stage, into a pput invocation carrying meta as
// x-amz-meta-* headers plus the estimated size.
func (m *Manager) pipeUpload(ctx context.Context, sendArgs []string, keyName string, estSize int64, meta map[string]string, compressor string) error {
	left := shellquote.Join(sendArgs...)
	if spec, ok := Compressors[compressor]; ok {
		left = left + " | " + spec.Compress
		meta["compressor"] = compressor
	}

	meta["size"] = strconv.FormatInt(estSize, 10)

	args := []string{m.pputBinary(), m.S3Prefix + keyName, "--estimated", strconv.FormatInt(estSize, 10)}
	for k, v := range meta {
		args = append(args, "--metadata", fmt.Sprintf("%s=%s", k, v))
	}
	right := shellquote.Join(args...)

	return m.Runner.Pipe(ctx, left, right, estSize, false)
}

// BackupFull uploads snapName (or the latest local snapshot) as a full
// image, returning its estimated size in bytes.
func (m *Manager) BackupFull(ctx context.Context, snapName, compressor string) (int64, error) {
	target, err := m.resolveTarget(snapName)
	if err != nil {
		return 0, err
	}

	est, err := m.estimateSize(ctx, target.Name)
	if err != nil {
		return 0, err
	}

	if err := m.pipeUpload(ctx, []string{"zfs", "send", target.Name}, target.Name, est,
		map[string]string{"isfull": "true"}, compressor); err != nil {
		return 0, err
	}
	return est, nil
}

// BackupIncremental walks backwards from snapName (or the latest local
// snapshot) until it finds a snapshot already present remotely, failing
// with IntegrityError before any upload if a remote ancestor visited on
// that walk is unhealthy. It then uploads the collected chain in forward
// (oldest-to-newest) order.
func (m *Manager) BackupIncremental(ctx context.Context, snapName, compressor string) (int64, error) {
	target, err := m.resolveTarget(snapName)
	if err != nil {
		return 0, err
	}

	var chain []*snapshot.LocalSnapshot
	for current := target; current != nil; current = current.Parent {
		if _, ok := m.Graph.Get(current.Name); ok {
			if !m.Graph.IsHealthy(current.Name) {
				return 0, zerr.Integrity(current.Name, m.Graph.ReasonBroken(current.Name))
			}
			break
		}
		chain = append(chain, current)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	var lastSize int64
	for _, link := range chain {
		meta := map[string]string{}
		var sendArgs []string
		if link.Parent == nil {
			sendArgs = []string{"zfs", "send", link.Name}
			meta["isfull"] = "true"
		} else {
			sendArgs = []string{"zfs", "send", "-i", link.Parent.Name, link.Name}
			meta["parent"] = link.Parent.Name
		}

		est, err := m.estimateSize(ctx, link.Name)
		if err != nil {
			return 0, err
		}
		if err := m.pipeUpload(ctx, sendArgs, link.Name, est, meta, compressor); err != nil {
			return 0, err
		}
		lastSize = est
	}
	return lastSize, nil
}

// Restore walks from snapName toward a full image via parent, stopping at
// a node that already exists locally (no-op for that link) or a full
// image. Fails with IntegrityError if any remote node on the walk is
// unhealthy. Replays the collected chain oldest-to-newest.
func (m *Manager) Restore(ctx context.Context, snapName string, force bool) error {
	var chain []*snapshot.RemoteSnapshot

	name := snapName
	for {
		remote, ok := m.Graph.Get(name)
		if !ok {
			return zerr.Integrity(name, snapshot.ReasonMissingParent)
		}
		if !m.Graph.IsHealthy(name) {
			return zerr.Integrity(name, m.Graph.ReasonBroken(name))
		}
		chain = append(chain, remote)

		if _, existsLocally := m.Local.Get(shortName(name)); existsLocally {
			break
		}
		if remote.IsFull() {
			break
		}
		parentName, _ := remote.ParentName()
		name = parentName
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	for _, link := range chain {
		if _, existsLocally := m.Local.Get(shortName(link.Name)); existsLocally {
			continue
		}

		get := shellquote.Join(m.getBinary(), m.S3Prefix+link.Name)
		if spec, ok := Compressors[link.Compressor()]; ok {
			get = get + " | " + spec.Decompress
		}

		recvArgs := []string{"zfs", "recv"}
		if force {
			recvArgs = append(recvArgs, "-F")
		}
		recvArgs = append(recvArgs, link.Name)
		recv := shellquote.Join(recvArgs...)

		if err := m.Runner.Pipe(ctx, get, recv, 0, false); err != nil {
			return fmt.Errorf("restore %s: %w", link.Name, err)
		}
	}
	return nil
}
