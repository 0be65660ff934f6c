// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"

	"github.com/voicebridge/modelfetch/pkg/hub"
)

// newProgressRenderer picks a progress handler for the current invocation:
// JSON-lines with --json, one line per event with --quiet or without a
// terminal, and a live progress bar otherwise. The returned func must be
// called after the download finishes to flush the renderer.
func newProgressRenderer(quiet, jsonOut bool) (hub.ProgressFunc, func()) {
	if jsonOut {
		return jsonProgress(os.Stdout), func() {}
	}
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return textProgress(), func() {}
	}
	r := newBarRenderer()
	return r.handle, r.close
}

// jsonProgress writes every event as one JSON line.
func jsonProgress(w io.Writer) hub.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev hub.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

// textProgress prints plain one-line-per-event output.
func textProgress() hub.ProgressFunc {
	return func(ev hub.ProgressEvent) {
		switch ev.Event {
		case "scan_start":
			fmt.Fprintf(os.Stderr, "Scanning %s@%s ...\n", ev.Repo, ev.Revision)
		case "retry":
			fmt.Fprintf(os.Stderr, "retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		case "file_start":
			fmt.Fprintf(os.Stderr, "downloading: %s (%d bytes)\n", ev.Path, ev.Total)
		case "file_done":
			if strings.HasPrefix(ev.Message, "skip") {
				fmt.Fprintf(os.Stderr, "skip: %s %s\n", ev.Path, ev.Message)
			} else {
				fmt.Fprintf(os.Stderr, "done: %s\n", ev.Path)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case "done":
			fmt.Fprintln(os.Stderr, ev.Message)
		}
	}
}

// barRenderer aggregates per-file progress events into a single byte-level
// progress bar. Totals grow as plan items are discovered during the scan.
type barRenderer struct {
	mu sync.Mutex

	bar *pb.ProgressBar

	totalBytes int64
	totalFiles int
	doneFiles  int

	// bytes observed per file, including completed and skipped files
	perFile map[string]int64
}

func newBarRenderer() *barRenderer {
	bar := pb.New64(0)
	bar.Set(pb.Bytes, true)
	bar.SetTemplate(pb.Full)
	bar.SetRefreshRate(200 * time.Millisecond)
	bar.SetWriter(os.Stderr)
	return &barRenderer{
		bar:     bar,
		perFile: make(map[string]int64),
	}
}

func (r *barRenderer) handle(ev hub.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Event {
	case "plan_item":
		r.totalFiles++
		r.totalBytes += ev.Total
		r.bar.SetTotal(r.totalBytes)
		if !r.bar.IsStarted() {
			r.bar.Start()
		}
	case "file_progress":
		r.perFile[ev.Path] = ev.Downloaded
		r.refreshLocked()
	case "file_done":
		// Count a skipped or completed file at its full size so the bar
		// reaches 100% even when nothing was transferred.
		r.perFile[ev.Path] = ev.Total
		r.doneFiles++
		r.refreshLocked()
	case "retry":
		r.bar.Set("suffix", fmt.Sprintf(" retry %s (#%d)", shortPath(ev.Path), ev.Attempt))
	case "done", "error":
		// final state rendered by close()
	}
}

func (r *barRenderer) refreshLocked() {
	var current int64
	for _, n := range r.perFile {
		current += n
	}
	r.bar.SetCurrent(current)
	r.bar.Set("prefix", fmt.Sprintf("%d/%d files ", r.doneFiles, r.totalFiles))
}

func (r *barRenderer) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar.IsStarted() {
		r.bar.Finish()
	}
}

// shortPath trims long repo paths so the suffix stays on one line.
func shortPath(p string) string {
	const max = 40
	if len(p) <= max {
		return p
	}
	return "..." + p[len(p)-max+3:]
}
