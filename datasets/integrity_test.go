// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckIntegrity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar.gz")

	assert.False(t, CheckIntegrity(path, ""), "missing file")

	contents := []byte("sen12ms test archive contents\n")
	require.NoError(t, os.WriteFile(path, contents, 0644))
	digest := md5.Sum(contents)
	goodMD5 := hex.EncodeToString(digest[:])

	assert.True(t, CheckIntegrity(path, ""), "existence-only check")
	assert.True(t, CheckIntegrity(path, goodMD5), "matching checksum")
	assert.False(t, CheckIntegrity(path, "d41d8cd98f00b204e9800998ecf8427e"), "wrong checksum")
}
