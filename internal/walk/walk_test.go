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

package walk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinmeta/thinstamp/internal/blockio"
	"github.com/thinmeta/thinstamp/pkg/thinxml"
)

var testCtx = context.Background()

const walkDescription = `
<superblock uuid="" time="0" transaction="0" data_block_size="128" nr_data_blocks="1024">
  <device dev_id="1" mapped_blocks="4" transaction="0" creation_time="0" snap_time="0">
    <range_mapping origin_begin="0" data_begin="10" length="3" time="0"/>
    <single_mapping origin_block="8" data_block="2" time="0"/>
  </device>
  <device dev_id="2" mapped_blocks="2" transaction="0" creation_time="0" snap_time="0">
    <range_mapping origin_begin="100" data_begin="20" length="2" time="0"/>
  </device>
</superblock>
`

func collectBindings(collected *[]blockio.Binding) BlockVisitor {
	return BlockVisitorFunc(func(_ context.Context, b blockio.Binding) error {
		*collected = append(*collected, b)
		return nil
	})
}

func TestBlocksExpandsMappings(t *testing.T) {
	var got []blockio.Binding
	require.NoError(t, Blocks(testCtx, strings.NewReader(walkDescription), collectBindings(&got)))

	// 128 sectors of 512 bytes each.
	const bs = 128 * 512
	expected := []blockio.Binding{
		{DeviceID: 1, ThinBlock: 0, DataBlock: 10, BlockSize: bs},
		{DeviceID: 1, ThinBlock: 1, DataBlock: 11, BlockSize: bs},
		{DeviceID: 1, ThinBlock: 2, DataBlock: 12, BlockSize: bs},
		{DeviceID: 1, ThinBlock: 8, DataBlock: 2, BlockSize: bs},
		{DeviceID: 2, ThinBlock: 100, DataBlock: 20, BlockSize: bs},
		{DeviceID: 2, ThinBlock: 101, DataBlock: 21, BlockSize: bs},
	}
	assert.Empty(t, cmp.Diff(expected, got))
}

func TestBlocksEmptyPool(t *testing.T) {
	doc := `<superblock uuid="" time="0" transaction="0" data_block_size="64" nr_data_blocks="1024"></superblock>`

	var got []blockio.Binding
	require.NoError(t, Blocks(testCtx, strings.NewReader(doc), collectBindings(&got)))
	assert.Empty(t, got)
}

func TestBlocksVisitorErrorAborts(t *testing.T) {
	errBoom := errors.New("boom")
	var visited int
	v := BlockVisitorFunc(func(context.Context, blockio.Binding) error {
		visited++
		if visited == 2 {
			return errBoom
		}
		return nil
	})

	err := Blocks(testCtx, strings.NewReader(walkDescription), v)
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, 2, visited, "no blocks visited past the failure")
}

func TestAdapterRejectsEventsBeforeSuperblock(t *testing.T) {
	a := NewAdapter(testCtx, collectBindings(&[]blockio.Binding{}))

	_, err := a.DeviceBegin(&thinxml.Device{DevID: 1})
	assert.True(t, errdefs.IsFailedPrecondition(err))

	_, err = a.Mapping(&thinxml.Mapping{Length: 1})
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestAdapterRejectsMappingOutsideDevice(t *testing.T) {
	a := NewAdapter(testCtx, collectBindings(&[]blockio.Binding{}))

	_, err := a.SuperblockBegin(&thinxml.Superblock{DataBlockSize: 64, NrDataBlocks: 16})
	require.NoError(t, err)

	_, err = a.Mapping(&thinxml.Mapping{Length: 1})
	assert.True(t, errdefs.IsFailedPrecondition(err))

	// After a device closes, mappings are rejected again.
	_, err = a.DeviceBegin(&thinxml.Device{DevID: 1})
	require.NoError(t, err)
	_, err = a.DeviceEnd()
	require.NoError(t, err)
	_, err = a.Mapping(&thinxml.Mapping{Length: 1})
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestAdapterRejectsZeroBlockSize(t *testing.T) {
	a := NewAdapter(testCtx, collectBindings(&[]blockio.Binding{}))

	_, err := a.SuperblockBegin(&thinxml.Superblock{DataBlockSize: 0})
	assert.True(t, errdefs.IsFailedPrecondition(err))
}
