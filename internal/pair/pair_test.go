package pair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/presslabs/z3/internal/objstore"
	"github.com/presslabs/z3/internal/snapshot"
	"github.com/presslabs/z3/internal/zerr"
)

func TestParseEstimatedSize(t *testing.T) {
	output := "send from @ to tank@snap1\n" +
		"TIME        SENT   SNAPSHOT\n" +
		"size 104857600\n"
	size, err := ParseEstimatedSize(output)
	require.NoError(t, err)
	require.Equal(t, int64(104857600), size)
}

func TestParseEstimatedSizeTrailingBlankLines(t *testing.T) {
	output := "size 42\n\n\n"
	size, err := ParseEstimatedSize(output)
	require.NoError(t, err)
	require.Equal(t, int64(42), size)
}

func TestParseEstimatedSizeMalformed(t *testing.T) {
	_, err := ParseEstimatedSize("garbage\n")
	require.Error(t, err)
}

func TestOptimalChunkSizeFloorsAtDefault(t *testing.T) {
	require.Equal(t, 5*1024*1024, OptimalChunkSize(1024))
}

func TestOptimalChunkSizeScalesForLargeEstimate(t *testing.T) {
	// 9999 parts * 5 MiB ~= 48.8 GiB; anything well beyond that must grow
	// the chunk size past the 5 MiB floor to keep part count <= 9999.
	const huge = int64(200) * 1024 * 1024 * 1024
	got := OptimalChunkSize(huge)
	require.Greater(t, got, 5*1024*1024)
	require.LessOrEqual(t, (huge*105/100)/int64(got)+1, int64(9999))
}

// fakeRunner is a commandRunner test double: Capture answers from a fixed
// table keyed by the exact command string, and Pipe just records what it
// was asked to run.
type fakeRunner struct {
	captures map[string]string
	pipes    []pipeCall
	pipeErr  error
}

type pipeCall struct {
	left, right   string
	estimatedSize int64
	quiet         bool
}

func (f *fakeRunner) Capture(ctx context.Context, cmd string) (string, error) {
	out, ok := f.captures[cmd]
	if !ok {
		return "", fmt.Errorf("fakeRunner: unexpected capture command %q", cmd)
	}
	return out, nil
}

func (f *fakeRunner) Pipe(ctx context.Context, left, right string, estimatedSize int64, quiet bool) error {
	f.pipes = append(f.pipes, pipeCall{left: left, right: right, estimatedSize: estimatedSize, quiet: quiet})
	return f.pipeErr
}

// buildLocalSequence feeds a hand-built `zfs list -Ht snap` fixture through
// the real parser so Parent chaining matches production exactly.
func buildLocalSequence(t *testing.T, dataset string, shorts ...string) *snapshot.LocalSequence {
	t.Helper()
	lines := make([]string, 0, len(shorts))
	for _, short := range shorts {
		lines = append(lines, fmt.Sprintf("%s@%s\t0\t0\t/%s\t0", dataset, short, dataset))
	}
	sequences := snapshot.ParseLocalSnapshots(strings.Join(lines, "\n"), "")
	seq, ok := sequences[dataset]
	if !ok {
		seq = &snapshot.LocalSequence{Dataset: dataset}
	}
	return seq
}

type remoteFixture struct {
	name       string
	isFull     bool
	parent     string
	compressor string
}

// buildRemoteGraph drives the real FakeStore multipart lifecycle so the
// resulting RemoteGraph is read back through the same metadata-stripping
// path (splitHeaders) a real upload goes through.
func buildRemoteGraph(t *testing.T, s3Prefix string, fixtures ...remoteFixture) *snapshot.RemoteGraph {
	t.Helper()
	ctx := context.Background()
	store := objstore.NewFakeStore()

	for _, fx := range fixtures {
		headers := map[string]string{}
		if fx.isFull {
			headers["x-amz-meta-isfull"] = "true"
		}
		if fx.parent != "" {
			headers["x-amz-meta-parent"] = fx.parent
		}
		if fx.compressor != "" {
			headers["x-amz-meta-compressor"] = fx.compressor
		}

		h, err := store.InitiateMultipart(ctx, s3Prefix+fx.name, headers)
		require.NoError(t, err)
		_, err = store.UploadPart(ctx, h, 1, []byte("data"))
		require.NoError(t, err)
		_, err = store.Complete(ctx, h)
		require.NoError(t, err)
	}

	graph, err := snapshot.BuildRemoteGraph(ctx, store, s3Prefix)
	require.NoError(t, err)
	return graph
}

func TestListPairsLocalRemoteAndRemoteOnly(t *testing.T) {
	const dataset = "tank/data"
	seq := buildLocalSequence(t, dataset, "snap1", "snap2")
	graph := buildRemoteGraph(t, "backups/",
		remoteFixture{name: dataset + "@snap1", isFull: true},
		remoteFixture{name: dataset + "@snap0", isFull: true},
	)

	pairs := List(graph, seq)
	require.Len(t, pairs, 3)

	byName := make(map[string]Pair, len(pairs))
	for _, p := range pairs {
		if p.Local != nil {
			byName[p.Local.Name] = p
		} else {
			byName[p.Remote.Name] = p
		}
	}

	snap1 := byName[dataset+"@snap1"]
	require.NotNil(t, snap1.Local)
	require.NotNil(t, snap1.Remote)

	snap2 := byName[dataset+"@snap2"]
	require.NotNil(t, snap2.Local)
	require.Nil(t, snap2.Remote)

	snap0 := byName[dataset+"@snap0"]
	require.Nil(t, snap0.Local)
	require.NotNil(t, snap0.Remote)
}

// S5: BackupIncremental walks backward from the latest local snapshot to
// the nearest remote ancestor, then uploads the collected chain oldest to
// newest.
func TestBackupIncrementalWalksBackwardThenUploadsForward(t *testing.T) {
	const dataset = "tank/data"
	seq := buildLocalSequence(t, dataset, "snap1", "snap2", "snap3")
	graph := buildRemoteGraph(t, "backups/", remoteFixture{name: dataset + "@snap1", isFull: true})

	runner := &fakeRunner{captures: map[string]string{
		"zfs send -nvP " + dataset + "@snap2": "size 1000",
		"zfs send -nvP " + dataset + "@snap3": "size 2000",
	}}

	mgr := &Manager{Dataset: dataset, S3Prefix: "backups/", Graph: graph, Local: seq, Runner: runner}

	size, err := mgr.BackupIncremental(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, int64(2000), size)

	require.Len(t, runner.pipes, 2)

	require.Equal(t, "zfs send -i "+dataset+"@snap1 "+dataset+"@snap2", runner.pipes[0].left)
	require.Equal(t, int64(1000), runner.pipes[0].estimatedSize)
	require.Contains(t, runner.pipes[0].right, "pput backups/"+dataset+"@snap2")
	require.Contains(t, runner.pipes[0].right, "--estimated 1000")

	require.Equal(t, "zfs send -i "+dataset+"@snap2 "+dataset+"@snap3", runner.pipes[1].left)
	require.Equal(t, int64(2000), runner.pipes[1].estimatedSize)
	require.Contains(t, runner.pipes[1].right, "pput backups/"+dataset+"@snap3")
	require.Contains(t, runner.pipes[1].right, "--estimated 2000")
}

// S6: a remote ancestor visited on the backward walk that is unhealthy
// aborts with IntegrityError before any Capture/Pipe call runs.
func TestBackupIncrementalAbortsOnBrokenAncestor(t *testing.T) {
	const dataset = "tank/data"
	seq := buildLocalSequence(t, dataset, "snap1", "snap2")
	// snap1 declares a parent that was never uploaded: missing parent, so
	// unhealthy.
	graph := buildRemoteGraph(t, "backups/", remoteFixture{name: dataset + "@snap1", parent: dataset + "@snap0"})

	runner := &fakeRunner{captures: map[string]string{}}
	mgr := &Manager{Dataset: dataset, S3Prefix: "backups/", Graph: graph, Local: seq, Runner: runner}

	_, err := mgr.BackupIncremental(context.Background(), "", "")
	require.Error(t, err)

	var zerr2 *zerr.Error
	require.True(t, errors.As(err, &zerr2))
	require.Equal(t, zerr.KindIntegrity, zerr2.Kind())

	require.Empty(t, runner.pipes)
}

// S7: Restore replays a remote chain oldest to newest, selecting each
// link's decompress stage from its own compressor metadata.
func TestRestoreReplaysOldestFirstWithPerLinkCompressor(t *testing.T) {
	const dataset = "tank/data"
	seq := buildLocalSequence(t, dataset) // nothing present locally
	graph := buildRemoteGraph(t, "backups/",
		remoteFixture{name: dataset + "@snap1", isFull: true},
		remoteFixture{name: dataset + "@snap2", parent: dataset + "@snap1", compressor: "pigz1"},
		remoteFixture{name: dataset + "@snap3", parent: dataset + "@snap2", compressor: "pigz4"},
	)

	runner := &fakeRunner{}
	mgr := &Manager{Dataset: dataset, S3Prefix: "backups/", Graph: graph, Local: seq, Runner: runner}

	err := mgr.Restore(context.Background(), dataset+"@snap3", false)
	require.NoError(t, err)

	require.Len(t, runner.pipes, 3)

	require.Equal(t, "z3_get backups/"+dataset+"@snap1", runner.pipes[0].left)
	require.Equal(t, "zfs recv "+dataset+"@snap1", runner.pipes[0].right)

	require.Equal(t, "z3_get backups/"+dataset+"@snap2 | pigz -d", runner.pipes[1].left)
	require.Equal(t, "zfs recv "+dataset+"@snap2", runner.pipes[1].right)

	require.Equal(t, "z3_get backups/"+dataset+"@snap3 | pigz -d", runner.pipes[2].left)
	require.Equal(t, "zfs recv "+dataset+"@snap3", runner.pipes[2].right)
}

// Restore with force=true passes -F to every zfs recv invocation.
func TestRestoreForcePassesRecvFlag(t *testing.T) {
	const dataset = "tank/data"
	seq := buildLocalSequence(t, dataset)
	graph := buildRemoteGraph(t, "backups/", remoteFixture{name: dataset + "@snap1", isFull: true})

	runner := &fakeRunner{}
	mgr := &Manager{Dataset: dataset, S3Prefix: "backups/", Graph: graph, Local: seq, Runner: runner}

	require.NoError(t, mgr.Restore(context.Background(), dataset+"@snap1", true))
	require.Len(t, runner.pipes, 1)
	require.Equal(t, "zfs recv -F "+dataset+"@snap1", runner.pipes[0].right)
}
