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

// Package pool synthesizes thin-pool descriptions for scenarios to stamp
// and transform. Generators emit metadata events, so the same description
// can be serialized to a file or walked directly, and every generator is
// deterministic: identical parameters produce identical descriptions.
package pool

import (
	"fmt"
	"math/rand"

	"github.com/containerd/errdefs"

	"github.com/thinmeta/thinstamp/pkg/thinxml"
)

// Generator emits one complete pool description to a metadata visitor.
type Generator interface {
	Generate(v thinxml.MetadataVisitor) error
}

// Pool carries the superblock geometry shared by all generators.
// BlockSize is in 512-byte sectors.
type Pool struct {
	UUID         string
	BlockSize    uint32
	NrDataBlocks uint64
}

func (p Pool) superblock() *thinxml.Superblock {
	return &thinxml.Superblock{
		UUID:          p.UUID,
		DataBlockSize: p.BlockSize,
		NrDataBlocks:  p.NrDataBlocks,
	}
}

func (p Pool) validate() error {
	if p.BlockSize == 0 {
		return fmt.Errorf("pool block size must be positive: %w", errdefs.ErrInvalidArgument)
	}
	if p.NrDataBlocks == 0 {
		return fmt.Errorf("pool must have at least one data block: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

// Empty describes a pool with no thin devices at all.
type Empty struct {
	Pool
}

func (g Empty) Generate(v thinxml.MetadataVisitor) error {
	if err := g.validate(); err != nil {
		return err
	}
	e := &emitter{v: v}
	e.superblockBegin(g.superblock())
	e.superblockEnd()
	return e.err
}

// SingleThin describes a pool with one device holding one contiguous
// mapping of Blocks blocks: thin [ThinBegin, ThinBegin+Blocks) onto data
// [DataBegin, DataBegin+Blocks).
type SingleThin struct {
	Pool
	DevID     uint32
	ThinBegin uint64
	DataBegin uint64
	Blocks    uint64
}

func (g SingleThin) Generate(v thinxml.MetadataVisitor) error {
	if err := g.validate(); err != nil {
		return err
	}
	if g.Blocks == 0 {
		return fmt.Errorf("device %d maps no blocks: %w", g.DevID, errdefs.ErrInvalidArgument)
	}
	if g.DataBegin+g.Blocks > g.NrDataBlocks {
		return fmt.Errorf("mapping [%d, %d) exceeds pool of %d blocks: %w",
			g.DataBegin, g.DataBegin+g.Blocks, g.NrDataBlocks, errdefs.ErrInvalidArgument)
	}

	e := &emitter{v: v}
	e.superblockBegin(g.superblock())
	e.deviceBegin(&thinxml.Device{DevID: g.DevID, MappedBlocks: g.Blocks})
	e.mapping(&thinxml.Mapping{ThinBegin: g.ThinBegin, DataBegin: g.DataBegin, Length: g.Blocks})
	e.deviceEnd()
	e.superblockEnd()
	return e.err
}

// Fragmented describes a pool with one device whose mappings are scattered
// runs with physical gaps between them, the shape a pool takes after many
// allocate/discard cycles. The layout is drawn from Seed, so equal seeds
// give equal descriptions.
type Fragmented struct {
	Pool
	DevID     uint32
	Seed      int64
	Runs      int
	MaxRunLen uint64
}

func (g Fragmented) Generate(v thinxml.MetadataVisitor) error {
	if err := g.validate(); err != nil {
		return err
	}
	if g.Runs <= 0 || g.MaxRunLen == 0 {
		return fmt.Errorf("fragmented device needs positive runs and run length: %w", errdefs.ErrInvalidArgument)
	}

	rng := rand.New(rand.NewSource(g.Seed))

	var (
		maps   []thinxml.Mapping
		mapped uint64
		data   uint64
		thin   uint64
	)
	for i := 0; i < g.Runs; i++ {
		runLen := 1 + uint64(rng.Intn(int(g.MaxRunLen)))
		data += 1 + uint64(rng.Intn(8))
		if data+runLen > g.NrDataBlocks {
			break
		}
		maps = append(maps, thinxml.Mapping{ThinBegin: thin, DataBegin: data, Length: runLen})
		mapped += runLen
		data += runLen
		thin += runLen + uint64(rng.Intn(4))
	}

	e := &emitter{v: v}
	e.superblockBegin(g.superblock())
	e.deviceBegin(&thinxml.Device{DevID: g.DevID, MappedBlocks: mapped})
	for i := range maps {
		e.mapping(&maps[i])
	}
	e.deviceEnd()
	e.superblockEnd()
	return e.err
}

// MultiThin describes a pool with Devices thin volumes, each mapping
// BlocksPerDevice contiguous blocks onto its own disjoint physical region.
// Device IDs start at 1.
type MultiThin struct {
	Pool
	Devices         uint32
	BlocksPerDevice uint64
}

func (g MultiThin) Generate(v thinxml.MetadataVisitor) error {
	if err := g.validate(); err != nil {
		return err
	}
	if g.Devices == 0 || g.BlocksPerDevice == 0 {
		return fmt.Errorf("multi-device pool needs devices and blocks per device: %w", errdefs.ErrInvalidArgument)
	}
	if uint64(g.Devices)*g.BlocksPerDevice > g.NrDataBlocks {
		return fmt.Errorf("%d devices of %d blocks exceed pool of %d blocks: %w",
			g.Devices, g.BlocksPerDevice, g.NrDataBlocks, errdefs.ErrInvalidArgument)
	}

	e := &emitter{v: v}
	e.superblockBegin(g.superblock())
	var data uint64
	for id := uint32(1); id <= g.Devices; id++ {
		e.deviceBegin(&thinxml.Device{DevID: id, MappedBlocks: g.BlocksPerDevice})
		e.mapping(&thinxml.Mapping{ThinBegin: 0, DataBegin: data, Length: g.BlocksPerDevice})
		e.deviceEnd()
		data += g.BlocksPerDevice
	}
	e.superblockEnd()
	return e.err
}

// emitter drives a visitor and latches the first error or Stop, so
// generators can emit linearly without checking every call.
type emitter struct {
	v    thinxml.MetadataVisitor
	done bool
	err  error
}

func (e *emitter) step(visit thinxml.Visit, err error) {
	if e.done {
		return
	}
	if err != nil {
		e.done, e.err = true, err
		return
	}
	if visit == thinxml.Stop {
		e.done = true
	}
}

func (e *emitter) superblockBegin(sb *thinxml.Superblock) { e.step(e.v.SuperblockBegin(sb)) }
func (e *emitter) superblockEnd()                         { e.step(e.v.SuperblockEnd()) }
func (e *emitter) deviceBegin(d *thinxml.Device)          { e.step(e.v.DeviceBegin(d)) }
func (e *emitter) deviceEnd()                             { e.step(e.v.DeviceEnd()) }
func (e *emitter) mapping(m *thinxml.Mapping)             { e.step(e.v.Mapping(m)) }
