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

// Package blockio reads and rewrites individual data blocks of a pool's
// backing file. Blocks are addressed through Bindings, which carry both the
// logical identity of a block (device and thin block number) and its
// physical location (data block number and size).
package blockio

import (
	"errors"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
)

// SectorSize is the fixed device-mapper sector size in bytes. Pool block
// sizes are declared in sectors and converted with this.
const SectorSize = 512

// Binding ties one logical thin block to the physical data block holding
// its content. BlockSize is in bytes.
type Binding struct {
	DeviceID  uint32
	ThinBlock uint64
	DataBlock uint64
	BlockSize int
}

// Offset is the byte position of the block within the backing file.
func (b Binding) Offset() int64 {
	return int64(b.DataBlock) * int64(b.BlockSize)
}

// PatternSeed derives the fingerprint seed for this block. The seed mixes
// in the logical identity only, so content survives physical relocation as
// long as the device and thin block stay the same.
func (b Binding) PatternSeed(seed uint64) uint64 {
	return seed ^ uint64(b.DeviceID) ^ b.ThinBlock
}

func (b Binding) String() string {
	return fmt.Sprintf("device %d thin block %d at data block %d (%d bytes)", b.DeviceID, b.ThinBlock, b.DataBlock, b.BlockSize)
}

func (b Binding) validate() error {
	if b.BlockSize <= 0 {
		return fmt.Errorf("block size %d must be positive: %w", b.BlockSize, errdefs.ErrInvalidArgument)
	}
	return nil
}

// ReadBlock returns the current content of the binding's block. A backing
// file too short to hold the whole block surfaces as io.ErrUnexpectedEOF.
func ReadBlock(r io.ReadSeeker, b Binding) ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if _, err := r.Seek(b.Offset(), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to %s: %w", b, err)
	}
	data := make([]byte, b.BlockSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b, err)
	}
	return data, nil
}

// WithZeroBlock hands fn a zeroed buffer for the binding's block and writes
// the buffer back once fn returns. The write-back happens whether or not fn
// fails, so partially filled buffers still land on disk; fn's error is
// joined with any write-back error.
func WithZeroBlock(w io.WriteSeeker, b Binding, fn func(buf []byte) error) error {
	if err := b.validate(); err != nil {
		return err
	}
	return writeBack(w, b, make([]byte, b.BlockSize), fn)
}

// WithBlock is the read-modify-write variant of WithZeroBlock: fn receives
// the block's current content and the buffer is written back once fn
// returns.
func WithBlock(rw io.ReadWriteSeeker, b Binding, fn func(buf []byte) error) error {
	data, err := ReadBlock(rw, b)
	if err != nil {
		return err
	}
	return writeBack(rw, b, data, fn)
}

func writeBack(w io.WriteSeeker, b Binding, buf []byte, fn func(buf []byte) error) error {
	fnErr := fn(buf)
	if _, err := w.Seek(b.Offset(), io.SeekStart); err != nil {
		return errors.Join(fnErr, fmt.Errorf("failed to seek to %s: %w", b, err))
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Join(fnErr, fmt.Errorf("failed to write back %s: %w", b, err))
	}
	return fnErr
}
