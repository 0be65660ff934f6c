// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the default Hugging Face Hub URL.
// Override via Options.Endpoint for mirrors or enterprise deployments.
const DefaultEndpoint = "https://huggingface.co"

func endpointOr(endpoint string) string {
	if endpoint == "" {
		return DefaultEndpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

// hubNode represents a file or directory in the hub repo tree.
type hubNode struct {
	Type   string   `json:"type"` // "file"|"directory" (sometimes "blob"|"tree")
	Path   string   `json:"path"`
	Size   int64    `json:"size,omitempty"`
	LFS    *lfsInfo `json:"lfs,omitempty"`
	Sha256 string   `json:"sha256,omitempty"`
}

// lfsInfo carries LFS metadata for large files.
type lfsInfo struct {
	Oid    string `json:"oid,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Sha256 string `json:"sha256,omitempty"`
}

func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

func addAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "modelfetch/1")
}

// headRemoteSHA fetches the server-side SHA-256 metadata for a file, used by
// Options.Verify == "sha256". An empty return means the server did not expose one.
func headRemoteSHA(ctx context.Context, httpc *http.Client, token string, it PlanItem) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "HEAD", it.URL, nil)
	addAuth(req, token)
	resp, err := httpc.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	return resp.Header.Get("x-amz-meta-sha256")
}

// walkTree recursively walks the repo tree, calling fn for every leaf node.
func walkTree(ctx context.Context, httpc *http.Client, token, endpoint string, snap Snapshot, prefix string, fn func(hubNode) error) error {
	reqURL := treeURL(endpoint, snap, prefix)
	req, _ := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	addAuth(req, token)
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        reqURL,
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			apiErr.Message = "repo requires a token or you do not have access (visit " + repoURL(endpoint, snap) + ")"
		case http.StatusForbidden:
			apiErr.Message = "please accept the repository terms: " + repoURL(endpoint, snap)
		case http.StatusNotFound:
			apiErr.Message = "repository or revision not found: " + snap.Repo + "@" + snap.Revision
		}
		return apiErr
	}

	var nodes []hubNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return err
	}

	for _, n := range nodes {
		switch n.Type {
		case "directory", "tree":
			if err := walkTree(ctx, httpc, token, endpoint, snap, n.Path, fn); err != nil {
				return err
			}
		default:
			if err := fn(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// URL builders. Repo IDs contain "/" which must NOT be escaped; the hub
// requires the literal slash.

func rawURL(endpoint string, snap Snapshot, path string) string {
	ep := endpointOr(endpoint)
	if snap.IsDataset {
		return ep + "/datasets/" + snap.Repo + "/raw/" + url.PathEscape(snap.Revision) + "/" + pathEscapeAll(path)
	}
	return ep + "/" + snap.Repo + "/raw/" + url.PathEscape(snap.Revision) + "/" + pathEscapeAll(path)
}

func lfsURL(endpoint string, snap Snapshot, path string) string {
	ep := endpointOr(endpoint)
	if snap.IsDataset {
		return ep + "/datasets/" + snap.Repo + "/resolve/" + url.PathEscape(snap.Revision) + "/" + pathEscapeAll(path)
	}
	return ep + "/" + snap.Repo + "/resolve/" + url.PathEscape(snap.Revision) + "/" + pathEscapeAll(path)
}

func treeURL(endpoint string, snap Snapshot, prefix string) string {
	ep := endpointOr(endpoint)
	api := "/api/models/"
	if snap.IsDataset {
		api = "/api/datasets/"
	}
	u := ep + api + snap.Repo + "/tree/" + url.PathEscape(snap.Revision)
	if prefix != "" {
		u += "/" + pathEscapeAll(prefix)
	}
	return u
}

func repoURL(endpoint string, snap Snapshot) string {
	ep := endpointOr(endpoint)
	if snap.IsDataset {
		return ep + "/datasets/" + snap.Repo
	}
	return ep + "/" + snap.Repo
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}
