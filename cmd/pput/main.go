// Command pput streams stdin (or a given file descriptor) into S3 as a
// multi-part upload, chunked either by a fixed size or by a size computed
// from an estimate, with concurrency and retries handled by the upload
// supervisor.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/presslabs/z3/internal/chunk"
	"github.com/presslabs/z3/internal/config"
	"github.com/presslabs/z3/internal/objstore"
	"github.com/presslabs/z3/internal/pair"
	"github.com/presslabs/z3/internal/upload"
)

func main() {
	var (
		chunkSizeStr string
		estimated    int64
		fd           int
		concurrency  int
		maxRetries   int
		metadata     []string
		storageClass string
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "pput <key>",
		Short: "stream an upload into S3 as a chunked multi-part object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyName := args[0]

			if chunkSizeStr != "" && estimated > 0 {
				return fmt.Errorf("--chunk-size and --estimated are mutually exclusive")
			}

			chunkSize := chunk.DefaultSize
			switch {
			case chunkSizeStr != "":
				size, err := parseSizeSuffix(chunkSizeStr)
				if err != nil {
					return fmt.Errorf("parse --chunk-size: %w", err)
				}
				chunkSize = size
			case estimated > 0:
				chunkSize = pair.OptimalChunkSize(estimated)
			}

			meta := map[string]string{}
			for _, kv := range metadata {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("malformed --metadata entry %q, expected key=value", kv)
				}
				meta["x-amz-meta-"+parts[0]] = parts[1]
			}

			var in *os.File
			if fd > 0 {
				in = os.NewFile(uintptr(fd), "pput-input")
			} else {
				in = os.Stdin
			}

			cfg, err := config.Get()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			bucket, _ := cfg.Lookup("BUCKET", "")
			keyID, _ := cfg.Lookup("S3_KEY_ID", "")
			secret, _ := cfg.Lookup("S3_SECRET", "")
			host, _ := cfg.Lookup("HOST", "")
			if storageClass == "" {
				storageClass = cfg.LookupDefault("S3_STORAGE_CLASS", "", "STANDARD_IA")
			}

			client, err := objstore.NewClient(cmd.Context(), objstore.ClientParams{
				AccessKeyID: keyID, SecretAccessKey: secret, Host: host,
			})
			if err != nil {
				return err
			}
			store := objstore.NewS3Store(client, bucket, storageClass)

			c := chunk.New(in, chunkSize)
			sup := upload.NewSupervisor(store, concurrency, maxRetries, nil)

			meta["x-amz-storage-class"] = storageClass
			etag, err := sup.Run(context.Background(), c, keyName, meta)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			if !quiet {
				fmt.Printf("{\"status\":\"success\",\"etag\":%q}\n", etag)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&chunkSizeStr, "chunk-size", "s", "", "fixed chunk size, e.g. 10M or 1G (mutually exclusive with --estimated)")
	cmd.Flags().Int64Var(&estimated, "estimated", 0, "estimated total upload size in bytes, used to derive an optimal chunk size")
	cmd.Flags().IntVar(&fd, "file-descriptor", 0, "read from this file descriptor instead of stdin")
	cmd.Flags().IntVar(&concurrency, "concurrency", upload.DefaultConcurrency, "number of concurrent part uploads")
	cmd.Flags().IntVar(&maxRetries, "max-retries", upload.DefaultMaxRetries, "retry budget per part")
	cmd.Flags().StringArrayVar(&metadata, "metadata", nil, "key=value object metadata, repeatable")
	cmd.Flags().StringVar(&storageClass, "storage-class", "", "S3 storage class (defaults to configuration, then STANDARD_IA)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress the success line")
	cmd.Flags().Bool("progress", false, "show a progress bar (no-op: pput streams directly, no pv stage)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseSizeSuffix parses sizes like "10M" or "1G" into bytes.
func parseSizeSuffix(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := 1
	suffix := s[len(s)-1]
	numPart := s
	switch suffix {
	case 'K', 'k':
		mult = 1024
		numPart = s[:len(s)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'G', 'g':
		mult = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
