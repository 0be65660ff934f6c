// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hub downloads complete snapshots of Hugging Face Hub repositories.
//
// A snapshot download fetches every file of a named repository revision into
// a local directory, mirroring the repository layout. The package scans the
// repo tree through the hub API, builds a download plan, and executes it with
// bounded parallelism, multipart range requests for large LFS files, and
// per-request retries with exponential backoff.
//
// Resume is always enabled: files already on disk that match the expected
// SHA-256 (LFS) or size (non-LFS) are skipped, and completed chunks of an
// interrupted multipart download are not re-fetched. Only regular files are
// materialized; the package never creates symbolic links.
//
// Basic usage:
//
//	snap := hub.Snapshot{Repo: "openai/whisper-large-v3"}
//	opts := hub.DefaultOptions()
//	opts.Dir = "/models/whisper"
//
//	err := hub.Download(ctx, snap, opts, func(e hub.ProgressEvent) {
//	    if e.Event == "file_done" {
//	        fmt.Println("done:", e.Path)
//	    }
//	})
//
// Use BuildPlan to inspect what a download would fetch without transferring
// anything.
package hub
