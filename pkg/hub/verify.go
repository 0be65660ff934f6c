// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// verifySHA256 computes the SHA-256 of the file at path and compares it to expected.
func verifySHA256(path, relPath, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(sum, expected) {
		return &VerificationError{Path: relPath, Expected: expected, Actual: sum, Method: "sha256"}
	}
	return nil
}

// shouldSkipLocal checks whether a file already on disk satisfies the plan
// item, in which case the download is skipped. Returns (skip, reason, error).
func shouldSkipLocal(it PlanItem, dst string) (bool, string, error) {
	fi, err := os.Stat(dst)
	if err != nil {
		// no local file
		return false, "", nil
	}

	// Quick size check first: if known and different, don't skip.
	if it.Size > 0 && fi.Size() != it.Size {
		return false, "", nil
	}

	// LFS with a known hash: compute and compare.
	if it.LFS && it.SHA256 != "" {
		if err := verifySHA256(dst, it.RelativePath, it.SHA256); err == nil {
			return true, "sha256 match", nil
		}
		// size matched but hash did not: re-download
		return false, "", nil
	}

	// Non-LFS (or unknown hash): size match is sufficient.
	if it.Size > 0 && fi.Size() == it.Size {
		return true, "size match", nil
	}

	return false, "", nil
}
