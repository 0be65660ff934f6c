// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import "time"

// Snapshot names what to fetch from the hub.
//
// Repo is required: either "owner/name" (e.g., "openai/whisper-large-v3")
// or a bare single-segment ID for legacy hub repos (e.g., "gpt2").
type Snapshot struct {
	// Repo is the repository ID, "owner/name" or a single segment.
	Repo string

	// IsDataset indicates this is a dataset repo, not a model.
	// When true, the hub's datasets API is used instead of the models API.
	IsDataset bool

	// Revision is the branch, tag, or commit SHA to download.
	// If empty, defaults to "main".
	Revision string
}

// Options configures download behavior.
//
// Only Dir is required: it is the directory the snapshot's files are
// written into, exactly as laid out in the repository. Every other field
// has a working default.
type Options struct {
	// Dir is the destination directory. Files are saved as <Dir>/<path>,
	// mirroring the repository layout. Required.
	Dir string

	// Endpoint overrides the hub base URL, for mirrors or testing.
	// If empty, defaults to DefaultEndpoint.
	Endpoint string

	// Token is the hub access token for private or gated repos.
	Token string

	// Connections is the number of parallel range requests per file
	// when a file is large enough for multipart download.
	// If <= 0, defaults to 8.
	Connections int

	// MaxActive limits how many files download simultaneously.
	// If <= 0, defaults to GOMAXPROCS.
	MaxActive int

	// MultipartThreshold is the minimum file size for multipart downloads.
	// Accepts human-readable sizes: "32MiB", "256MB", "1GiB".
	// If empty, defaults to "256MiB".
	MultipartThreshold string

	// Verify selects post-download verification for non-LFS files.
	// LFS files are always verified by SHA-256 when the hash is known.
	//
	// Options:
	//   - "none": no verification
	//   - "size": verify file size matches expected (default)
	//   - "sha256": full hash verification against the server's metadata;
	//     falls back to the size check when the server exposes no hash
	Verify string

	// Retries is the maximum number of retry attempts per HTTP request.
	// Each retry uses exponential backoff with jitter.
	// If <= 0, defaults to 4.
	Retries int

	// BackoffInitial is the delay before the first retry ("400ms" if empty).
	BackoffInitial string

	// BackoffMax caps the delay between retries ("10s" if empty).
	BackoffMax string
}

// DefaultOptions returns Options with the defaults filled in.
// Dir still has to be set by the caller.
func DefaultOptions() Options {
	return Options{
		Connections:        8,
		MaxActive:          4,
		MultipartThreshold: "256MiB",
		Verify:             "size",
		Retries:            4,
		BackoffInitial:     "400ms",
		BackoffMax:         "10s",
	}
}

// ProgressEvent is a progress update emitted during a download.
//
// The Event field indicates the type:
//   - "scan_start": repository scan has begun
//   - "plan_item": a file was added to the download plan
//   - "file_start": download of a file has started
//   - "file_progress": periodic progress update
//   - "file_done": file complete (Message carries "skip (reason)" if skipped)
//   - "retry": a retry attempt is being made
//   - "error": an error occurred
//   - "done": the whole snapshot is complete
type ProgressEvent struct {
	// Time is when the event occurred (UTC).
	Time time.Time `json:"time"`

	// Level is the log level: "debug", "info", "warn", "error".
	// Empty defaults to "info".
	Level string `json:"level,omitempty"`

	// Event is the event type identifier.
	Event string `json:"event"`

	// Repo is the repository being processed.
	Repo string `json:"repo,omitempty"`

	// Revision is the branch/tag/commit being downloaded.
	Revision string `json:"revision,omitempty"`

	// Path is the relative file path within the repository.
	Path string `json:"path,omitempty"`

	// Total is the total expected size in bytes.
	Total int64 `json:"total,omitempty"`

	// Downloaded is the cumulative bytes downloaded so far.
	Downloaded int64 `json:"downloaded,omitempty"`

	// Attempt is the retry attempt number (1-based), set on "retry" events.
	Attempt int `json:"attempt,omitempty"`

	// Message contains additional context or error details.
	Message string `json:"message,omitempty"`

	// IsLFS indicates whether this file is stored in Git LFS.
	IsLFS bool `json:"isLfs,omitempty"`
}

// ProgressFunc receives progress events. It is invoked from multiple
// goroutines and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)
