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

// Package walk flattens a pool description into the ordered stream of
// individual block bindings it maps. Mapping ranges are expanded one block
// at a time, in document order, so downstream visitors never deal with
// ranges or devices.
package walk

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/thinmeta/thinstamp/internal/blockio"
	"github.com/thinmeta/thinstamp/pkg/thinxml"
)

// BlockVisitor receives one resolved block binding per mapped block.
type BlockVisitor interface {
	VisitBlock(ctx context.Context, b blockio.Binding) error
}

// BlockVisitorFunc adapts a function to the BlockVisitor interface.
type BlockVisitorFunc func(ctx context.Context, b blockio.Binding) error

func (f BlockVisitorFunc) VisitBlock(ctx context.Context, b blockio.Binding) error {
	return f(ctx, b)
}

// Blocks decodes the description in r and visits every mapped block of
// every device in document order.
func Blocks(ctx context.Context, r io.Reader, v BlockVisitor) error {
	return thinxml.Decode(r, NewAdapter(ctx, v))
}

// Adapter implements thinxml.MetadataVisitor by expanding each mapping into
// per-block bindings for an inner BlockVisitor. It resolves the pool's block
// size from the superblock and tracks which device is open, and fails fast
// when events arrive out of order.
//
// An Adapter serves a single walk; it carries the walk's context.
type Adapter struct {
	ctx       context.Context
	inner     BlockVisitor
	blockSize int
	device    *uint32
}

// NewAdapter returns an adapter feeding v with the bindings of one walk.
func NewAdapter(ctx context.Context, v BlockVisitor) *Adapter {
	return &Adapter{ctx: ctx, inner: v}
}

func (a *Adapter) SuperblockBegin(sb *thinxml.Superblock) (thinxml.Visit, error) {
	if sb.DataBlockSize == 0 {
		return thinxml.Stop, fmt.Errorf("superblock declares zero data_block_size: %w", errdefs.ErrFailedPrecondition)
	}
	a.blockSize = int(sb.DataBlockSize) * blockio.SectorSize

	log.G(a.ctx).WithFields(log.Fields{
		"data_block_size": sb.DataBlockSize,
		"nr_data_blocks":  sb.NrDataBlocks,
	}).Debug("walking pool description")
	return thinxml.Continue, nil
}

func (a *Adapter) SuperblockEnd() (thinxml.Visit, error) {
	return thinxml.Continue, nil
}

func (a *Adapter) DeviceBegin(d *thinxml.Device) (thinxml.Visit, error) {
	if a.blockSize == 0 {
		return thinxml.Stop, fmt.Errorf("device %d before superblock: %w", d.DevID, errdefs.ErrFailedPrecondition)
	}
	id := d.DevID
	a.device = &id

	log.G(a.ctx).WithFields(log.Fields{
		"dev_id":        d.DevID,
		"mapped_blocks": d.MappedBlocks,
	}).Debug("walking device")
	return thinxml.Continue, nil
}

func (a *Adapter) DeviceEnd() (thinxml.Visit, error) {
	a.device = nil
	return thinxml.Continue, nil
}

func (a *Adapter) Mapping(m *thinxml.Mapping) (thinxml.Visit, error) {
	if a.blockSize == 0 {
		return thinxml.Stop, fmt.Errorf("mapping before superblock: %w", errdefs.ErrFailedPrecondition)
	}
	if a.device == nil {
		return thinxml.Stop, fmt.Errorf("mapping with no open device: %w", errdefs.ErrFailedPrecondition)
	}
	for i := uint64(0); i < m.Length; i++ {
		b := blockio.Binding{
			DeviceID:  *a.device,
			ThinBlock: m.ThinBegin + i,
			DataBlock: m.DataBegin + i,
			BlockSize: a.blockSize,
		}
		if err := a.inner.VisitBlock(a.ctx, b); err != nil {
			return thinxml.Stop, err
		}
	}
	return thinxml.Continue, nil
}

func (a *Adapter) EOF() (thinxml.Visit, error) {
	return thinxml.Stop, nil
}
