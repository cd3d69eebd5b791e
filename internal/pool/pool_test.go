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

package pool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinmeta/thinstamp/internal/blockio"
	"github.com/thinmeta/thinstamp/internal/walk"
	"github.com/thinmeta/thinstamp/pkg/thinxml"
)

// layout captures the description a generator emits, flattened for
// assertions.
type layout struct {
	thinxml.NopVisitor
	superblock *thinxml.Superblock
	devices    []*thinxml.Device
	mappings   map[uint32][]*thinxml.Mapping
}

func describe(t *testing.T, g Generator) *layout {
	t.Helper()

	l := &layout{mappings: map[uint32][]*thinxml.Mapping{}}
	require.NoError(t, g.Generate(l))
	require.NotNil(t, l.superblock, "generator emitted no superblock")
	return l
}

func (l *layout) SuperblockBegin(sb *thinxml.Superblock) (thinxml.Visit, error) {
	l.superblock = sb
	return thinxml.Continue, nil
}

func (l *layout) DeviceBegin(d *thinxml.Device) (thinxml.Visit, error) {
	l.devices = append(l.devices, d)
	return thinxml.Continue, nil
}

func (l *layout) Mapping(m *thinxml.Mapping) (thinxml.Visit, error) {
	dev := l.devices[len(l.devices)-1]
	l.mappings[dev.DevID] = append(l.mappings[dev.DevID], m)
	return thinxml.Continue, nil
}

func TestEmptyPool(t *testing.T) {
	l := describe(t, Empty{Pool{BlockSize: 64, NrDataBlocks: 1024}})

	assert.Equal(t, uint32(64), l.superblock.DataBlockSize)
	assert.Equal(t, uint64(1024), l.superblock.NrDataBlocks)
	assert.Empty(t, l.devices)
}

func TestSingleThinLayout(t *testing.T) {
	l := describe(t, SingleThin{
		Pool:      Pool{BlockSize: 64, NrDataBlocks: 100},
		DevID:     1,
		DataBegin: 40,
		Blocks:    10,
	})

	require.Len(t, l.devices, 1)
	assert.Equal(t, uint64(10), l.devices[0].MappedBlocks)
	assert.Empty(t, cmp.Diff(
		[]*thinxml.Mapping{{ThinBegin: 0, DataBegin: 40, Length: 10}},
		l.mappings[1],
	))
}

func TestSingleThinBounds(t *testing.T) {
	g := SingleThin{
		Pool:      Pool{BlockSize: 64, NrDataBlocks: 100},
		DataBegin: 95,
		Blocks:    10,
	}
	err := g.Generate(&layout{mappings: map[uint32][]*thinxml.Mapping{}})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestFragmentedIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	g := Fragmented{
		Pool:      Pool{BlockSize: 64, NrDataBlocks: 1024},
		DevID:     1,
		Seed:      7,
		Runs:      16,
		MaxRunLen: 8,
	}

	a := filepath.Join(dir, "a.xml")
	b := filepath.Join(dir, "b.xml")
	require.NoError(t, WriteFile(a, g))
	require.NoError(t, WriteFile(b, g))

	contentA, err := os.ReadFile(a)
	require.NoError(t, err)
	contentB, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, contentA, contentB)
}

func TestFragmentedLayoutIsOrderedAndBounded(t *testing.T) {
	l := describe(t, Fragmented{
		Pool:      Pool{BlockSize: 64, NrDataBlocks: 256},
		DevID:     3,
		Seed:      42,
		Runs:      16,
		MaxRunLen: 8,
	})

	maps := l.mappings[3]
	require.NotEmpty(t, maps)

	var mapped, lastDataEnd, lastThinEnd uint64
	for _, m := range maps {
		assert.GreaterOrEqual(t, m.DataBegin, lastDataEnd, "physical runs overlap")
		assert.GreaterOrEqual(t, m.ThinBegin, lastThinEnd, "logical runs overlap")
		assert.LessOrEqual(t, m.DataBegin+m.Length, uint64(256), "mapping outside the pool")
		lastDataEnd = m.DataBegin + m.Length
		lastThinEnd = m.ThinBegin + m.Length
		mapped += m.Length
	}
	assert.Equal(t, mapped, l.devices[0].MappedBlocks)
}

func TestMultiThinDisjointDevices(t *testing.T) {
	l := describe(t, MultiThin{
		Pool:            Pool{BlockSize: 64, NrDataBlocks: 64},
		Devices:         4,
		BlocksPerDevice: 8,
	})

	require.Len(t, l.devices, 4)

	seen := map[uint64]uint32{}
	for _, d := range l.devices {
		for _, m := range l.mappings[d.DevID] {
			for i := uint64(0); i < m.Length; i++ {
				owner, taken := seen[m.DataBegin+i]
				require.Falsef(t, taken, "data block %d shared by devices %d and %d", m.DataBegin+i, owner, d.DevID)
				seen[m.DataBegin+i] = d.DevID
			}
		}
	}
	assert.Len(t, seen, 32)
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.xml")
	require.NoError(t, WriteFile(path, SingleThin{
		Pool:      Pool{UUID: "test-pool", BlockSize: 2, NrDataBlocks: 16},
		DevID:     5,
		ThinBegin: 3,
		DataBegin: 7,
		Blocks:    2,
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []blockio.Binding
	err = walk.Blocks(context.Background(), f, walk.BlockVisitorFunc(func(_ context.Context, b blockio.Binding) error {
		got = append(got, b)
		return nil
	}))
	require.NoError(t, err)

	expected := []blockio.Binding{
		{DeviceID: 5, ThinBlock: 3, DataBlock: 7, BlockSize: 1024},
		{DeviceID: 5, ThinBlock: 4, DataBlock: 8, BlockSize: 1024},
	}
	assert.Empty(t, cmp.Diff(expected, got))
}

func TestWriteFileLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.xml")

	err := WriteFile(path, Empty{Pool{}})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed write left files behind")
}
