// Package sshsync plans a peer-to-peer incremental snapshot transfer over
// SSH (C11): which pair of snapshots to send, and the send/recv command
// pair piping one host's `zfs send` into the other's `zfs recv`.
package sshsync

import (
	"fmt"

	"github.com/presslabs/z3/internal/zerr"
)

// Pair is the (from, to) snapshot pair snapshots_to_send resolves: From is
// nil for a full send.
type Pair struct {
	From *string
	To   string
}

// SnapshotsToSend picks the pair to synchronise: the newest source
// snapshot (To), and the newest dest snapshot (From), or nil when the
// destination is empty. It fails when the newest dest snapshot is not in
// source; older snapshots common to both are not considered.
func SnapshotsToSend(source, dest []string) (Pair, error) {
	if len(source) == 0 {
		return Pair{}, zerr.Soft("No snapshots exist locally!")
	}
	if len(dest) == 0 {
		return Pair{To: source[len(source)-1]}, nil
	}

	lastDest := dest[len(dest)-1]
	for i := len(source) - 1; i >= 0; i-- {
		if source[i] == lastDest {
			found := lastDest
			return Pair{From: &found, To: source[len(source)-1]}, nil
		}
	}
	return Pair{}, zerr.Soft("Latest snapshot on destination doesn't exist on source!")
}

// CommandPair is a (send, recv) shell command pair ready to be piped
// together, one side wrapped with ssh and mbuffer staging.
type CommandPair struct {
	Send string
	Recv string
}

func prepareCommands(fromSnap *string, toSnap, filesystem string, dryRun bool) (send, recv string) {
	if fromSnap == nil {
		send = fmt.Sprintf("zfs send %s", toSnap)
	} else {
		send = fmt.Sprintf("zfs send -I %s %s", *fromSnap, toSnap)
	}
	dry := ""
	if dryRun {
		dry = "nv"
	}
	recv = fmt.Sprintf("zfs recv -d%s %s", dry, filesystem)
	return send, recv
}

func wrapSend(send, recvAfterSSH, remoteAddr string) CommandPair {
	return CommandPair{
		Send: send,
		Recv: fmt.Sprintf("ssh %s -C 'mbuffer -s 128k -m 200m -q | sudo %s'", remoteAddr, recvAfterSSH),
	}
}

func wrapPull(sendBeforeSSH, recv, remoteAddr string) CommandPair {
	return CommandPair{
		Send: fmt.Sprintf("ssh %s -C 'sudo %s'", remoteAddr, sendBeforeSSH),
		Recv: fmt.Sprintf("mbuffer -s 128k -m 200m -q | %s", recv),
	}
}

// SyncSnapshots builds the (send, recv) command pair for pair, or returns
// ok=false if from == to (nothing to do). localFS/remoteFS are bare dataset
// names (no snapshot suffix); pull selects which side is wrapped with ssh.
func SyncSnapshots(pair Pair, localFS, remoteFS, remoteAddr string, pull, dryRun bool) (CommandPair, bool) {
	targetFS := remoteFS
	sourceFS := localFS
	if pull {
		targetFS = localFS
		sourceFS = remoteFS
	}

	var fromSnap *string
	if pair.From != nil {
		qualified := fmt.Sprintf("%s@%s", sourceFS, *pair.From)
		fromSnap = &qualified
	}
	toSnap := fmt.Sprintf("%s@%s", sourceFS, pair.To)

	if fromSnap != nil && *fromSnap == toSnap {
		return CommandPair{}, false
	}

	send, recv := prepareCommands(fromSnap, toSnap, targetFS, dryRun)

	if pull {
		return wrapPull(send, recv, remoteAddr), true
	}
	return wrapSend(send, recv, remoteAddr), true
}
