/*
   Copyright The thinstamp Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package scenario

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/opencontainers/go-digest"
)

// CreateDataFile creates the pool's backing file at path, sized to size
// bytes. The file is sparse unless preallocate is set, which backs it with
// real extents and requires fallocate support.
func CreateDataFile(ctx context.Context, path string, size int64, preallocate bool) error {
	if size <= 0 {
		return fmt.Errorf("data file size %d must be positive: %w", size, errdefs.ErrInvalidArgument)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	defer f.Close()

	if preallocate {
		err = preallocateFile(f, size)
	} else {
		err = f.Truncate(size)
	}
	if err != nil {
		return fmt.Errorf("failed to size data file %s to %d bytes: %w", path, size, err)
	}

	log.G(ctx).WithFields(log.Fields{
		"path":        path,
		"size":        size,
		"preallocate": preallocate,
	}).Debug("created data file")
	return nil
}

// DigestFile returns the canonical digest of the file's content.
func DigestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dgst, err := digest.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", path, err)
	}
	return dgst, nil
}

// CorruptDataBlock flips one byte within the given physical block of the
// data file, for exercising verification failure paths.
func CorruptDataBlock(path string, dataBlock uint64, blockSize int, offset int64) error {
	if blockSize <= 0 || offset < 0 || offset >= int64(blockSize) {
		return fmt.Errorf("byte offset %d outside block of %d bytes: %w", offset, blockSize, errdefs.ErrInvalidArgument)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	pos := int64(dataBlock)*int64(blockSize) + offset

	var b [1]byte
	if _, err := f.ReadAt(b[:], pos); err != nil {
		return fmt.Errorf("failed to read data block %d: %w", dataBlock, err)
	}
	b[0] ^= 0xff
	if _, err := f.WriteAt(b[:], pos); err != nil {
		return fmt.Errorf("failed to corrupt data block %d: %w", dataBlock, err)
	}
	return nil
}
