// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/khlaifiabilel/torchgeo/downloader"
)

// CheckIntegrity reports whether the file at path is present and, when a
// non-empty MD5 checksum is given, whether its contents match it.
//
// The light mode (empty checksum) is an existence check only; the full mode
// reads the whole file, which for multi-gigabyte archives may be slow.
func CheckIntegrity(path, md5sum string) bool {
	if !fsutil.MustFileExists(path) {
		return false
	}
	if md5sum == "" {
		return true
	}
	return downloader.ValidateMD5(path, md5sum) == nil
}
