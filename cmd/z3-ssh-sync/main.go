// Command z3-ssh-sync replicates a ZFS dataset's incremental snapshot
// chain directly to (or from) a peer host over SSH, without touching S3.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/presslabs/z3/internal/config"
	"github.com/presslabs/z3/internal/logging"
	"github.com/presslabs/z3/internal/sh"
	"github.com/presslabs/z3/internal/sshsync"
)

func main() {
	var (
		pull           bool
		dryRun         bool
		quiet          bool
		filesystem     string
		remoteFS       string
		snapshotPrefix string
	)

	cmd := &cobra.Command{
		Use:   "z3-ssh-sync <remote-host>",
		Short: "sync a ZFS dataset's snapshot chain with a peer host over SSH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteAddr := args[0]

			cfg, err := config.Get()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if filesystem == "" {
				filesystem, _ = cfg.Lookup("FILESYSTEM", "")
			}
			if filesystem == "" {
				return fmt.Errorf("no --filesystem given and no FILESYSTEM configured")
			}
			if remoteFS == "" {
				remoteFS = filesystem
			}
			if snapshotPrefix == "" {
				snapshotPrefix = cfg.LookupDefault("SNAPSHOT_PREFIX", "", "")
			}

			log := logging.Get()
			runner := sh.New(dryRun, &log)

			localNames, err := listSnapshotNames(cmd.Context(), runner, "", filesystem, snapshotPrefix)
			if err != nil {
				return fmt.Errorf("list local snapshots: %w", err)
			}
			remoteNames, err := listSnapshotNames(cmd.Context(), runner, remoteAddr, remoteFS, snapshotPrefix)
			if err != nil {
				return fmt.Errorf("list remote snapshots: %w", err)
			}

			source, dest := localNames, remoteNames
			if pull {
				source, dest = remoteNames, localNames
			}

			toSend, err := sshsync.SnapshotsToSend(source, dest)
			if err != nil {
				return err
			}

			cmds, ok := sshsync.SyncSnapshots(toSend, filesystem, remoteFS, remoteAddr, pull, dryRun)
			if !ok {
				if !quiet {
					fmt.Println("Nothing to do, destination is already up to date.")
				}
				return nil
			}

			return runner.Pipe(cmd.Context(), cmds.Send, cmds.Recv, 0, quiet)
		},
	}

	cmd.Flags().BoolVar(&pull, "pull", false, "pull snapshots from the remote host instead of pushing to it")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print commands instead of running them")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress the pv progress stage and informational output")
	cmd.Flags().StringVar(&filesystem, "filesystem", "", "local dataset to sync (overrides configuration)")
	cmd.Flags().StringVar(&remoteFS, "remote-filesystem", "", "remote dataset to sync (defaults to --filesystem)")
	cmd.Flags().StringVar(&snapshotPrefix, "snapshot-prefix", "", "local snapshot name prefix filter (overrides configuration)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// listSnapshotNames returns the short snapshot names (newest last) for
// filesystem, via `zfs list -Ht snap -o name`, run over ssh when addr is
// non-empty.
func listSnapshotNames(ctx context.Context, runner *sh.Runner, addr, filesystem, snapshotPrefix string) ([]string, error) {
	base := fmt.Sprintf("zfs list -Ht snap -o name -r %s", filesystem)
	cmd := base
	if addr != "" {
		cmd = fmt.Sprintf("ssh %s '%s'", addr, base)
	}

	out, err := runner.Capture(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", cmd, err)
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '@')
		if idx < 0 {
			continue
		}
		dataset, short := line[:idx], line[idx+1:]
		if dataset != filesystem {
			continue
		}
		if snapshotPrefix != "" && !strings.HasPrefix(short, snapshotPrefix) {
			continue
		}
		names = append(names, short)
	}
	return names, nil
}
