// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildPlan(t *testing.T) {
	weights := []byte(strings.Repeat("w", 4096))
	files := map[string]fakeFile{
		"config.json":         {content: []byte(`{"arch":"whisper"}`)},
		"tokenizer/vocab.txt": {content: []byte("hello\nworld\n")},
		"model.safetensors":   {content: weights, lfs: true},
	}
	srv := newFakeHub(files)
	defer srv.Close()

	snap := Snapshot{Repo: testRepo}
	plan, err := BuildPlan(context.Background(), snap, Options{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(plan.Items))
	}

	byPath := map[string]PlanItem{}
	for _, it := range plan.Items {
		byPath[it.RelativePath] = it
	}

	t.Run("non-LFS file uses raw URL and tree size", func(t *testing.T) {
		it, ok := byPath["config.json"]
		if !ok {
			t.Fatal("config.json missing from plan")
		}
		if it.LFS {
			t.Error("config.json should not be LFS")
		}
		if it.Size != int64(len(files["config.json"].content)) {
			t.Errorf("wrong size %d", it.Size)
		}
		if !strings.Contains(it.URL, "/raw/main/config.json") {
			t.Errorf("wrong URL %s", it.URL)
		}
	})

	t.Run("nested file is discovered", func(t *testing.T) {
		if _, ok := byPath["tokenizer/vocab.txt"]; !ok {
			t.Fatal("tokenizer/vocab.txt missing from plan")
		}
	})

	t.Run("LFS file uses resolve URL, blob size, and OID hash", func(t *testing.T) {
		it, ok := byPath["model.safetensors"]
		if !ok {
			t.Fatal("model.safetensors missing from plan")
		}
		if !it.LFS {
			t.Fatal("expected LFS")
		}
		if it.Size != int64(len(weights)) {
			t.Errorf("expected blob size %d, got %d (pointer size leaked?)", len(weights), it.Size)
		}
		sum := sha256.Sum256(weights)
		if it.SHA256 != hex.EncodeToString(sum[:]) {
			t.Errorf("expected OID hash, got %q", it.SHA256)
		}
		if !strings.Contains(it.URL, "/resolve/main/model.safetensors") {
			t.Errorf("wrong URL %s", it.URL)
		}
		if !it.AcceptRanges {
			t.Error("LFS items should be marked range-capable")
		}
	})

	t.Run("total bytes sums the plan", func(t *testing.T) {
		want := int64(len(files["config.json"].content) + len(files["tokenizer/vocab.txt"].content) + len(weights))
		if got := plan.TotalBytes(); got != want {
			t.Errorf("TotalBytes = %d, want %d", got, want)
		}
	})
}

func TestBuildPlanInvalidRepo(t *testing.T) {
	_, err := BuildPlan(context.Background(), Snapshot{Repo: "too/many/segments"}, Options{})
	if !errors.Is(err, ErrInvalidRepo) {
		t.Fatalf("expected ErrInvalidRepo, got %v", err)
	}
}

func TestBuildPlanAPIErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		target error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := BuildPlan(context.Background(), Snapshot{Repo: testRepo}, Options{Endpoint: srv.URL})
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}
