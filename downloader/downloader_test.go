// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMD5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.bin")
	contents := []byte("some raster bytes")
	require.NoError(t, os.WriteFile(path, contents, 0644))

	digest := md5.Sum(contents)
	want := hex.EncodeToString(digest[:])
	got, err := FileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, ValidateMD5(path, want))
	err = ValidateMD5(path, "d41d8cd98f00b204e9800998ecf8427e")
	require.ErrorContains(t, err, "but expected")

	_, err = FileMD5(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestDownload(t *testing.T) {
	contents := []byte("archive bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(contents)
	}))
	defer server.Close()
	path := filepath.Join(t.TempDir(), "file.bin")

	// A failed request must still release the created file, so a retry to the
	// same path works.
	_, err := Download("http://127.0.0.1:1/unreachable", path, false)
	require.Error(t, err)

	size, err := Download(server.URL+"/file.bin", path, false)
	require.NoError(t, err)
	assert.Equal(t, int64(len(contents)), size)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestDownloadIfMissing(t *testing.T) {
	contents := []byte("split list contents\n")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(contents)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "lists", "train_list.txt")
	digest := md5.Sum(contents)
	checkHash := hex.EncodeToString(digest[:])

	require.NoError(t, DownloadIfMissing(server.URL+"/train_list.txt", path, checkHash))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, contents, got)

	// Second call is a no-op (file already present), but still validates.
	require.NoError(t, DownloadIfMissing(server.URL+"/train_list.txt", path, checkHash))
	require.Error(t, DownloadIfMissing(server.URL+"/train_list.txt", path, "d41d8cd98f00b204e9800998ecf8427e"))
}

// makeTestTarball builds a small .tar.gz holding payload at memberPath and
// returns its raw bytes.
func makeTestTarball(t *testing.T, memberPath string, payload []byte) []byte {
	t.Helper()
	var buffer bytes.Buffer
	gz := gzip.NewWriter(&buffer)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: memberPath,
		Mode: 0644,
		Size: int64(len(payload)),
	}))
	_, err := tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buffer.Bytes()
}

func TestUntar(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "scene.tar.gz")
	payload := []byte("patch data")
	tarball := makeTestTarball(t, "ROIs0000_test/s1_1/patch.tif", payload)
	require.NoError(t, os.WriteFile(tarPath, tarball, 0644))

	require.NoError(t, Untar(dir, tarPath))
	got, err := os.ReadFile(filepath.Join(dir, "ROIs0000_test", "s1_1", "patch.tif"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadAndUntarIfMissing(t *testing.T) {
	payload := []byte("patch data")
	tarball := makeTestTarball(t, "ROIs0000_test/s1_1/patch.tif", payload)
	digest := md5.Sum(tarball)
	checkHash := hex.EncodeToString(digest[:])

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write(tarball)
	}))
	defer server.Close()

	dir := t.TempDir()
	url := server.URL + "/scene.tar.gz"
	require.NoError(t, DownloadAndUntarIfMissing(url, dir, "scene.tar.gz", "ROIs0000_test", checkHash))
	got, err := os.ReadFile(filepath.Join(dir, "ROIs0000_test", "s1_1", "patch.tif"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 1, requests)

	// Target directory present: neither re-downloaded nor re-extracted.
	require.NoError(t, DownloadAndUntarIfMissing(url, dir, "scene.tar.gz", "ROIs0000_test", checkHash))
	assert.Equal(t, 1, requests)

	// The archive doesn't produce the expected directory.
	err = DownloadAndUntarIfMissing(url, dir, "other.tar.gz", "ROIs9999_missing", checkHash)
	require.ErrorContains(t, err, "didn't get directory")
}
