// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"net/http"
)

// PlanItem is a single file in the download plan.
type PlanItem struct {
	RelativePath string `json:"path"`
	URL          string `json:"url"`
	LFS          bool   `json:"lfs"`
	SHA256       string `json:"sha256,omitempty"`
	Size         int64  `json:"size"`
	AcceptRanges bool   `json:"acceptRanges"`
}

// Plan is the list of files a snapshot download would fetch.
type Plan struct {
	Items []PlanItem `json:"items"`
}

// TotalBytes returns the summed size of all files in the plan.
func (p *Plan) TotalBytes() int64 {
	var n int64
	for _, it := range p.Items {
		n += it.Size
	}
	return n
}

// BuildPlan scans the repository and returns the file list without
// downloading anything. Useful for dry runs.
func BuildPlan(ctx context.Context, snap Snapshot, opts Options) (*Plan, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if snap.Repo == "" || !IsValidRepoID(snap.Repo) {
		return nil, ErrInvalidRepo
	}
	if snap.Revision == "" {
		snap.Revision = "main"
	}
	return scan(ctx, buildHTTPClient(), snap, opts)
}

// scan walks the repo tree and builds the download plan.
func scan(ctx context.Context, httpc *http.Client, snap Snapshot, opts Options) (*Plan, error) {
	var items []PlanItem
	seen := make(map[string]struct{}) // each relative path appears once

	err := walkTree(ctx, httpc, opts.Token, opts.Endpoint, snap, "", func(n hubNode) error {
		if n.Type != "file" && n.Type != "blob" {
			return nil
		}
		if _, ok := seen[n.Path]; ok {
			return nil
		}
		seen[n.Path] = struct{}{}

		isLFS := n.LFS != nil

		var urlStr string
		if isLFS {
			urlStr = lfsURL(opts.Endpoint, snap, n.Path)
		} else {
			urlStr = rawURL(opts.Endpoint, snap, n.Path)
		}

		// For LFS files the tree's Size is the pointer file, not the blob.
		size := n.Size
		if n.LFS != nil && n.LFS.Size > 0 {
			size = n.LFS.Size
		}

		sha := n.Sha256
		if sha == "" && n.LFS != nil {
			sha = n.LFS.Sha256
		}
		// The tree API rarely carries Sha256 directly; for LFS files the OID
		// is the SHA-256 of the blob.
		if sha == "" && n.LFS != nil {
			sha = n.LFS.Oid
		}

		items = append(items, PlanItem{
			RelativePath: n.Path,
			URL:          urlStr,
			LFS:          isLFS,
			SHA256:       sha,
			Size:         size,
			// LFS blobs are served from a CDN that supports ranges; probing
			// every file with HEAD during planning is too slow for large repos.
			AcceptRanges: isLFS,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Plan{Items: items}, nil
}
