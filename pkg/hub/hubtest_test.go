// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// testRepo is the repository ID served by the fake hub.
const testRepo = "testorg/testmodel"

type fakeFile struct {
	content []byte
	lfs     bool
}

type fakeLFS struct {
	Oid  string `json:"oid"`
	Size int64  `json:"size"`
}

type fakeNode struct {
	Type string   `json:"type"`
	Path string   `json:"path"`
	Size int64    `json:"size"`
	LFS  *fakeLFS `json:"lfs,omitempty"`
}

// newFakeHub serves the tree API and file content for testRepo@main.
// LFS entries report the pointer size in Size and the real blob size (plus
// the SHA-256 OID) in the lfs block, matching hub behavior.
func newFakeHub(files map[string]fakeFile) *httptest.Server {
	return fakeHubServer(files, false)
}

// newFakeDatasetHub is newFakeHub but mounted only on the dataset routes, so
// any request through the model API 404s.
func newFakeDatasetHub(files map[string]fakeFile) *httptest.Server {
	return fakeHubServer(files, true)
}

func fakeHubServer(files map[string]fakeFile, dataset bool) *httptest.Server {
	mux := http.NewServeMux()

	api := "/api/models/"
	base := "/" + testRepo
	if dataset {
		api = "/api/datasets/"
		base = "/datasets/" + testRepo
	}

	treeBase := api + testRepo + "/tree/main"
	mux.HandleFunc(api, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, treeBase) {
			http.NotFound(w, r)
			return
		}
		prefix := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, treeBase), "/")
		_ = json.NewEncoder(w).Encode(listNodes(files, prefix))
	})

	serve := func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(r.URL.Path, "/main/", 2)
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		rel, err := url.PathUnescape(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		f, ok := files[rel]
		if !ok {
			http.NotFound(w, r)
			return
		}
		// ServeContent gives us HEAD and Range support for free.
		http.ServeContent(w, r, path.Base(rel), time.Time{}, bytes.NewReader(f.content))
	}
	mux.HandleFunc(base+"/raw/main/", serve)
	mux.HandleFunc(base+"/resolve/main/", serve)

	return httptest.NewServer(mux)
}

// listNodes returns the direct children of prefix, the way the tree API does.
func listNodes(files map[string]fakeFile, prefix string) []fakeNode {
	nodes := []fakeNode{}
	dirs := map[string]bool{}
	for p, f := range files {
		rest := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(p, prefix+"/")
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			dir := rest[:i]
			if prefix != "" {
				dir = prefix + "/" + dir
			}
			if !dirs[dir] {
				dirs[dir] = true
				nodes = append(nodes, fakeNode{Type: "directory", Path: dir})
			}
			continue
		}
		n := fakeNode{Type: "file", Path: p, Size: int64(len(f.content))}
		if f.lfs {
			sum := sha256.Sum256(f.content)
			n.LFS = &fakeLFS{Oid: hex.EncodeToString(sum[:]), Size: int64(len(f.content))}
			n.Size = 133 // pointer file, not the blob
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// testOptions returns Options suitable for fast tests against srvURL.
func testOptions(srvURL, dir string) Options {
	return Options{
		Dir:                dir,
		Endpoint:           srvURL,
		Connections:        3,
		MaxActive:          2,
		MultipartThreshold: "1GiB",
		Verify:             "size",
		Retries:            2,
		BackoffInitial:     "1ms",
		BackoffMax:         "5ms",
	}
}

// eventLog collects progress events from concurrent goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) add(e ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (l *eventLog) has(event, messagePart string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Event == event && strings.Contains(e.Message, messagePart) {
			return true
		}
	}
	return false
}
