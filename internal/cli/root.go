// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/voicebridge/modelfetch/pkg/hub"
)

// DefaultModelsDir is the base directory for all downloads when MODELS_DIR
// is not set.
const DefaultModelsDir = "/models"

// envModelsDir overrides the base directory for downloads.
const envModelsDir = "MODELS_DIR"

// errReported marks an error whose diagnostic has already been printed, so
// Execute must not print it a second time.
var errReported = errors.New("download failed")

// RootOpts holds all CLI options.
type RootOpts struct {
	Model  string
	Output string

	Revision string
	Dataset  bool
	Token    string

	Connections        int
	MaxActive          int
	MultipartThreshold string
	Verify             string
	Retries            int
	BackoffInitial     string
	BackoffMax         string

	Endpoint string

	Quiet   bool
	JSONOut bool
	DryRun  bool
	Config  string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	// Optional .env alongside the invocation; absence is fine.
	_ = godotenv.Load()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	ro := &RootOpts{}
	root := newRootCmd(ro, version)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return err
	}
	return nil
}

func newRootCmd(ro *RootOpts, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "modelfetch --model <owner/name> --output <directory-name>",
		Short: "Download model snapshots from the Hugging Face Hub",
		Long: `modelfetch downloads all files of a named model (or dataset) into a local
directory. The base directory comes from the MODELS_DIR environment variable
(default ` + DefaultModelsDir + `); --output names the subdirectory beneath it.

Transfers are resumable: interrupted downloads continue where they left off,
and files already present with the expected hash or size are skipped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		Args:          cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applyConfigDefaults(cmd, ro)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd.Context(), ro)
		},
	}

	root.Flags().StringVarP(&ro.Model, "model", "m", "", "Model name on the Hugging Face Hub (e.g. owner/name)")
	root.Flags().StringVarP(&ro.Output, "output", "o", "", "Output directory name under the models directory")
	_ = root.MarkFlagRequired("model")
	_ = root.MarkFlagRequired("output")

	root.Flags().StringVarP(&ro.Revision, "revision", "b", "main", "Revision/branch to download (e.g. main, refs/pr/1)")
	root.Flags().BoolVar(&ro.Dataset, "dataset", false, "Treat the repo as a dataset")
	root.Flags().StringVarP(&ro.Token, "token", "t", "", "Hub access token (also reads HF_TOKEN env)")
	root.Flags().StringVar(&ro.Endpoint, "endpoint", "", "Hub base URL for mirrors or enterprise deployments")

	root.Flags().IntVarP(&ro.Connections, "connections", "c", 8, "Per-file concurrent connections for LFS range requests")
	root.Flags().IntVar(&ro.MaxActive, "max-active", 3, "Maximum number of files downloading at once")
	root.Flags().StringVar(&ro.MultipartThreshold, "multipart-threshold", "32MiB", "Use multipart/range downloads only for files >= this size")
	root.Flags().StringVar(&ro.Verify, "verify", "size", "Verification for non-LFS files: none|size|sha256")
	root.Flags().IntVar(&ro.Retries, "retries", 4, "Max retry attempts per HTTP request/part")
	root.Flags().StringVar(&ro.BackoffInitial, "backoff-initial", "400ms", "Initial retry backoff duration")
	root.Flags().StringVar(&ro.BackoffMax, "backoff-max", "10s", "Maximum retry backoff duration")

	root.Flags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode: one line per file, no live progress")
	root.Flags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON progress events")
	root.Flags().BoolVar(&ro.DryRun, "dry-run", false, "Plan only: print the file list and exit")
	root.Flags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

func runRoot(ctx context.Context, ro *RootOpts) error {
	if !hub.IsValidRepoID(ro.Model) {
		return fmt.Errorf("invalid model name %q", ro.Model)
	}

	snap := hub.Snapshot{
		Repo:      ro.Model,
		Revision:  ro.Revision,
		IsDataset: ro.Dataset,
	}
	opts := optionsFrom(ro, resolveDestination(ro.Output))

	if ro.DryRun {
		return printPlan(ctx, snap, opts, ro.JSONOut)
	}

	fmt.Printf("Downloading %s to %s...\n", ro.Model, opts.Dir)

	if err := download(ctx, snap, opts, ro); err != nil {
		fmt.Fprintf(os.Stderr, "Error downloading %s: %v\n", ro.Model, err)
		return errReported
	}

	fmt.Printf("Successfully downloaded %s\n", ro.Model)
	return nil
}

// resolveDestination joins the models base directory and the user-supplied
// output name. The base comes from MODELS_DIR, falling back to DefaultModelsDir.
func resolveDestination(output string) string {
	base := os.Getenv(envModelsDir)
	if base == "" {
		base = DefaultModelsDir
	}
	return filepath.Join(base, output)
}

func optionsFrom(ro *RootOpts, dir string) hub.Options {
	token := strings.TrimSpace(ro.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("HF_TOKEN"))
	}
	return hub.Options{
		Dir:                dir,
		Endpoint:           ro.Endpoint,
		Token:              token,
		Connections:        ro.Connections,
		MaxActive:          ro.MaxActive,
		MultipartThreshold: ro.MultipartThreshold,
		Verify:             ro.Verify,
		Retries:            ro.Retries,
		BackoffInitial:     ro.BackoffInitial,
		BackoffMax:         ro.BackoffMax,
	}
}

// download creates the destination directory and delegates to the hub
// library. Retries and resume live entirely in the library.
func download(ctx context.Context, snap hub.Snapshot, opts hub.Options, ro *RootOpts) error {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return err
	}

	progress, done := newProgressRenderer(ro.Quiet, ro.JSONOut)
	defer done()

	return hub.Download(ctx, snap, opts, progress)
}

func printPlan(ctx context.Context, snap hub.Snapshot, opts hub.Options, jsonOut bool) error {
	p, err := hub.BuildPlan(ctx, snap, opts)
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	rev := snap.Revision
	if rev == "" {
		rev = "main"
	}
	fmt.Printf("Plan for %s@%s (%d files, %d bytes):\n", snap.Repo, rev, len(p.Items), p.TotalBytes())
	for _, it := range p.Items {
		fmt.Printf("  %s  %10d  lfs=%t\n", it.RelativePath, it.Size, it.LFS)
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
