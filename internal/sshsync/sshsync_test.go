package sshsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

var allSnaps = []string{"S_0", "S_1", "S_2", "S_3", "S_4"}

func TestSnapshotsToSendEmptyRemote(t *testing.T) {
	pair, err := SnapshotsToSend(allSnaps, nil)
	require.NoError(t, err)
	require.Nil(t, pair.From)
	require.Equal(t, "S_4", pair.To)
}

func TestSnapshotsToSendFirstCommon(t *testing.T) {
	pair, err := SnapshotsToSend(allSnaps, []string{"S_0"})
	require.NoError(t, err)
	require.Equal(t, "S_0", *pair.From)
	require.Equal(t, "S_4", pair.To)
}

func TestSnapshotsToSendLatestCommon(t *testing.T) {
	pair, err := SnapshotsToSend(allSnaps, []string{"S_1", "S_3"})
	require.NoError(t, err)
	require.Equal(t, "S_3", *pair.From)
	require.Equal(t, "S_4", pair.To)
}

func TestSnapshotsToSendNoop(t *testing.T) {
	pair, err := SnapshotsToSend(allSnaps[1:], allSnaps)
	require.NoError(t, err)
	require.Equal(t, "S_4", *pair.From)
	require.Equal(t, "S_4", pair.To)
}

func TestSnapshotsToSendEmptyLocalFails(t *testing.T) {
	_, err := SnapshotsToSend(nil, nil)
	require.Error(t, err)
}

func TestSnapshotsToSendNoCommonFails(t *testing.T) {
	_, err := SnapshotsToSend([]string{"S_0"}, []string{"S_10"})
	require.Error(t, err)
}

func TestSyncSnapshotsPullIncremental(t *testing.T) {
	cp, ok := SyncSnapshots(Pair{From: strp("S_0"), To: "S_4"}, "local/fs", "remote/fs", "example.com", true, false)
	require.True(t, ok)
	require.Equal(t, "ssh example.com -C 'sudo zfs send -I remote/fs@S_0 remote/fs@S_4'", cp.Send)
	require.Equal(t, "mbuffer -s 128k -m 200m -q | zfs recv -d local/fs", cp.Recv)
}

func TestSyncSnapshotsPullEmptyTarget(t *testing.T) {
	cp, ok := SyncSnapshots(Pair{To: "S_4"}, "local/fs", "remote/fs", "example.com", true, false)
	require.True(t, ok)
	require.Equal(t, "ssh example.com -C 'sudo zfs send remote/fs@S_4'", cp.Send)
	require.Equal(t, "mbuffer -s 128k -m 200m -q | zfs recv -d local/fs", cp.Recv)
}

func TestSyncSnapshotsPullNoop(t *testing.T) {
	_, ok := SyncSnapshots(Pair{From: strp("S_4"), To: "S_4"}, "local/fs", "remote/fs", "example.com", true, false)
	require.False(t, ok)
}

func TestSyncSnapshotsPushIncremental(t *testing.T) {
	cp, ok := SyncSnapshots(Pair{From: strp("S_0"), To: "S_4"}, "local/fs", "remote/fs", "example.com", false, false)
	require.True(t, ok)
	require.Equal(t, "zfs send -I local/fs@S_0 local/fs@S_4", cp.Send)
	require.Equal(t, "ssh example.com -C 'mbuffer -s 128k -m 200m -q | sudo zfs recv -d remote/fs'", cp.Recv)
}

func TestSyncSnapshotsPushEmptyTarget(t *testing.T) {
	cp, ok := SyncSnapshots(Pair{To: "S_4"}, "local/fs", "remote/fs", "example.com", false, false)
	require.True(t, ok)
	require.Equal(t, "zfs send local/fs@S_4", cp.Send)
	require.Equal(t, "ssh example.com -C 'mbuffer -s 128k -m 200m -q | sudo zfs recv -d remote/fs'", cp.Recv)
}

func TestSyncSnapshotsPushNoop(t *testing.T) {
	_, ok := SyncSnapshots(Pair{From: strp("S_4"), To: "S_4"}, "local/fs", "remote/fs", "example.com", false, false)
	require.False(t, ok)
}
