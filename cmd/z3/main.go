// Command z3 inspects, backs up and restores ZFS snapshots against an
// S3-compatible object store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/presslabs/z3/internal/config"
	"github.com/presslabs/z3/internal/humanize"
	"github.com/presslabs/z3/internal/logging"
	"github.com/presslabs/z3/internal/objstore"
	"github.com/presslabs/z3/internal/pair"
	"github.com/presslabs/z3/internal/sh"
	"github.com/presslabs/z3/internal/snapshot"
	"github.com/presslabs/z3/internal/zerr"
)

var (
	flagFilesystem     string
	flagS3Prefix       string
	flagSnapshotPrefix string
	flagDryRun         bool
)

func main() {
	root := &cobra.Command{
		Use:          "z3",
		Short:        "ZFS-to-S3 incremental snapshot backup",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagFilesystem, "filesystem", "", "ZFS dataset to operate on (overrides configuration)")
	root.PersistentFlags().StringVar(&flagS3Prefix, "s3-prefix", "", "S3 key prefix (overrides configuration)")
	root.PersistentFlags().StringVar(&flagSnapshotPrefix, "snapshot-prefix", "", "local snapshot name prefix filter (overrides configuration)")
	root.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "print commands instead of running them")

	root.AddCommand(statusCmd(), backupCmd(), restoreCmd())

	ran, err := root.ExecuteC()
	if err != nil {
		var zerr2 *zerr.Error
		isSoft := errors.As(err, &zerr2) && zerr2.Kind() == zerr.KindSoft
		if isSoft {
			fmt.Fprintln(os.Stderr, err)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		// spec.md §7: a SoftError exits 0 for status-style commands (an
		// empty/unmatched snapshot sequence is informational there) and
		// non-zero for everything else, backup/restore included.
		if isSoft && ran != nil && ran.Annotations["statusStyle"] == "true" {
			return
		}
		os.Exit(1)
	}
}

// setup resolves the layered configuration for the target dataset and
// builds the shared collaborators every subcommand needs.
func setup(ctx context.Context, cmd *cobra.Command) (*pair.Manager, *snapshot.LocalSequence, error) {
	cfg, err := config.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	dataset := flagFilesystem
	if dataset == "" {
		dataset, _ = cfg.Lookup("FILESYSTEM", "")
	}
	if dataset == "" {
		return nil, nil, zerr.Soft("no --filesystem given and no FILESYSTEM configured")
	}

	section := "fs:" + dataset
	s3Prefix := flagS3Prefix
	if s3Prefix == "" {
		s3Prefix = cfg.LookupDefault("S3_PREFIX", section, "")
	}
	snapshotPrefix := flagSnapshotPrefix
	if snapshotPrefix == "" {
		snapshotPrefix = cfg.LookupDefault("SNAPSHOT_PREFIX", section, "")
	}

	bucket, _ := cfg.Lookup("BUCKET", section)
	keyID, _ := cfg.Lookup("S3_KEY_ID", section)
	secret, _ := cfg.Lookup("S3_SECRET", section)
	host, _ := cfg.Lookup("HOST", section)

	client, err := objstore.NewClient(ctx, objstore.ClientParams{
		AccessKeyID: keyID, SecretAccessKey: secret, Host: host,
	})
	if err != nil {
		return nil, nil, err
	}
	storageClass := cfg.LookupDefault("S3_STORAGE_CLASS", section, "")
	store := objstore.NewS3Store(client, bucket, storageClass)

	graph, err := snapshot.BuildRemoteGraph(ctx, store, s3Prefix)
	if err != nil {
		return nil, nil, err
	}

	sequences, err := snapshot.ListLocalSnapshots(ctx, snapshotPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("list local snapshots: %w", err)
	}
	seq, ok := sequences[dataset]
	if !ok {
		seq = &snapshot.LocalSequence{Dataset: dataset}
	}

	log := logging.Get()
	runner := sh.New(flagDryRun, &log)

	mgr := &pair.Manager{
		Dataset:  dataset,
		S3Prefix: s3Prefix,
		Graph:    graph,
		Local:    seq,
		Runner:   runner,
	}
	return mgr, seq, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Short:       "show the reconciled local/remote snapshot chain",
		Annotations: map[string]string{"statusStyle": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, seq, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}

			pairs := pair.List(mgr.Graph, seq)
			rows := make([][]string, 0, len(pairs))
			for _, p := range pairs {
				name, parent, typ, health, local, size := statusRow(mgr.Graph, p)
				rows = append(rows, []string{name, parent, typ, health, local, size})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

			printTable([]string{"NAME", "PARENT", "TYPE", "HEALTH", "LOCAL STATE", "SIZE"}, rows)
			return nil
		},
	}
}

func statusRow(graph *snapshot.RemoteGraph, p pair.Pair) (name, parent, typ, health, local, size string) {
	switch {
	case p.Remote != nil:
		name = p.Remote.Name
		if pn, ok := p.Remote.ParentName(); ok {
			parent = pn
		} else {
			parent = "-"
		}
		if p.Remote.IsFull() {
			typ = "full"
		} else {
			typ = "incremental"
		}
		size = humanize.Bytes(p.Remote.Size)
		if graph.IsHealthy(p.Remote.Name) {
			health = "healthy"
		} else {
			health = graph.ReasonBroken(p.Remote.Name)
		}
	default:
		name = p.Local.Name
		parent = "-"
		typ = "-"
		size = "-"
		health = "-"
	}

	if p.Local != nil {
		local = "present"
	} else {
		local = "missing"
	}
	return
}

func backupCmd() *cobra.Command {
	var (
		full        bool
		incremental bool
		snapName    string
		compressor  string
		parseable   bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "upload a local snapshot, full or incremental",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}

			var (
				target string
				size   int64
				err2   error
			)
			if full {
				size, err2 = mgr.BackupFull(cmd.Context(), snapName, compressor)
			} else {
				size, err2 = mgr.BackupIncremental(cmd.Context(), snapName, compressor)
			}
			if err2 != nil {
				return err2
			}

			if snapName != "" {
				target = snapName
			} else if latest, err := mgr.Local.GetLatest(); err == nil {
				target = latest.Name
			}

			if parseable {
				fmt.Printf("%s\x00%d\n", target, size)
			} else {
				fmt.Printf("Successfully backed up %s: %s.\n", target, humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "upload as a full image instead of incremental")
	cmd.Flags().BoolVar(&incremental, "incremental", true, "upload incrementally from the nearest remote ancestor (default)")
	cmd.Flags().StringVar(&snapName, "snapshot", "", "snapshot to upload (defaults to the latest local one)")
	cmd.Flags().StringVar(&compressor, "compressor", "", "compressor tag: none, pigz1, pigz4")
	cmd.Flags().BoolVar(&parseable, "parseable", false, "emit machine-readable output")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "replay a remote snapshot chain into a local dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			name := args[0]
			if !strings.Contains(name, "@") {
				name = mgr.Dataset + "@" + name
			}
			if err := mgr.Restore(cmd.Context(), name, force); err != nil {
				return err
			}
			fmt.Printf("Successfully restored %s.\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "pass -F to zfs recv, rolling back conflicting local changes")
	return cmd
}

func printTable(header []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}
