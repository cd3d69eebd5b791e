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

package thinxml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	Kind       string
	Superblock *Superblock
	Device     *Device
	Mapping    *Mapping
}

// recorder captures the event stream; stopAt makes it return Stop on the
// first event of that kind.
type recorder struct {
	events []event
	stopAt string
}

func (r *recorder) record(ev event) (Visit, error) {
	r.events = append(r.events, ev)
	if r.stopAt == ev.Kind {
		return Stop, nil
	}
	return Continue, nil
}

func (r *recorder) SuperblockBegin(sb *Superblock) (Visit, error) {
	return r.record(event{Kind: "superblock_b", Superblock: sb})
}
func (r *recorder) SuperblockEnd() (Visit, error)        { return r.record(event{Kind: "superblock_e"}) }
func (r *recorder) DeviceBegin(d *Device) (Visit, error) { return r.record(event{Kind: "device_b", Device: d}) }
func (r *recorder) DeviceEnd() (Visit, error)            { return r.record(event{Kind: "device_e"}) }
func (r *recorder) Mapping(m *Mapping) (Visit, error)    { return r.record(event{Kind: "map", Mapping: m}) }
func (r *recorder) EOF() (Visit, error)                  { return r.record(event{Kind: "eof"}) }

const sampleDescription = `
<superblock uuid="" time="0" transaction="1" flags="0" version="2" data_block_size="128" nr_data_blocks="4096">
  <device dev_id="1" mapped_blocks="19" transaction="0" creation_time="0" snap_time="0">
    <range_mapping origin_begin="0" data_begin="100" length="16" time="0"/>
    <single_mapping origin_block="40" data_block="250" time="1"/>
  </device>
  <device dev_id="3" mapped_blocks="2" transaction="1" creation_time="1" snap_time="1">
    <range_mapping origin_begin="5" data_begin="300" length="2" time="1"/>
  </device>
</superblock>
`

func uint32ptr(v uint32) *uint32 { return &v }

func TestDecodeEventStream(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, Decode(strings.NewReader(sampleDescription), rec))

	expected := []event{
		{Kind: "superblock_b", Superblock: &Superblock{
			Time:          0,
			Transaction:   1,
			Flags:         uint32ptr(0),
			Version:       uint32ptr(2),
			DataBlockSize: 128,
			NrDataBlocks:  4096,
		}},
		{Kind: "device_b", Device: &Device{DevID: 1, MappedBlocks: 19}},
		{Kind: "map", Mapping: &Mapping{ThinBegin: 0, DataBegin: 100, Length: 16, Time: 0}},
		{Kind: "map", Mapping: &Mapping{ThinBegin: 40, DataBegin: 250, Length: 1, Time: 1}},
		{Kind: "device_e"},
		{Kind: "device_b", Device: &Device{DevID: 3, MappedBlocks: 2, Transaction: 1, CreationTime: 1, SnapTime: 1}},
		{Kind: "map", Mapping: &Mapping{ThinBegin: 5, DataBegin: 300, Length: 2, Time: 1}},
		{Kind: "device_e"},
		{Kind: "superblock_e"},
		{Kind: "eof"},
	}
	assert.Empty(t, cmp.Diff(expected, rec.events))
}

func TestWriterRoundTrip(t *testing.T) {
	sb := &Superblock{
		UUID:          "5f5e3a1b",
		Time:          3,
		Transaction:   7,
		DataBlockSize: 64,
		NrDataBlocks:  1024,
	}
	dev := &Device{DevID: 2, MappedBlocks: 5, CreationTime: 1, SnapTime: 2}
	maps := []*Mapping{
		{ThinBegin: 0, DataBegin: 17, Length: 4, Time: 1},
		{ThinBegin: 9, DataBegin: 40, Length: 1, Time: 2},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)

	_, err := w.SuperblockBegin(sb)
	require.NoError(t, err)
	_, err = w.DeviceBegin(dev)
	require.NoError(t, err)
	for _, m := range maps {
		_, err = w.Mapping(m)
		require.NoError(t, err)
	}
	_, err = w.DeviceEnd()
	require.NoError(t, err)
	_, err = w.SuperblockEnd()
	require.NoError(t, err)
	_, err = w.EOF()
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, Decode(&buf, rec))

	expected := []event{
		{Kind: "superblock_b", Superblock: sb},
		{Kind: "device_b", Device: dev},
		{Kind: "map", Mapping: maps[0]},
		{Kind: "map", Mapping: maps[1]},
		{Kind: "device_e"},
		{Kind: "superblock_e"},
		{Kind: "eof"},
	}
	assert.Empty(t, cmp.Diff(expected, rec.events))
}

func TestDecodeStopEndsWalkEarly(t *testing.T) {
	rec := &recorder{stopAt: "superblock_b"}
	require.NoError(t, Decode(strings.NewReader(sampleDescription), rec))

	require.Len(t, rec.events, 1)
	assert.Equal(t, "superblock_b", rec.events[0].Kind)
}

func TestDecodeRejectsMalformedDescriptions(t *testing.T) {
	for name, doc := range map[string]string{
		"mapping outside device": `
			<superblock uuid="" time="0" transaction="0" data_block_size="64" nr_data_blocks="16">
				<range_mapping origin_begin="0" data_begin="0" length="1" time="0"/>
			</superblock>`,
		"device outside superblock": `
			<device dev_id="1" mapped_blocks="0" transaction="0" creation_time="0" snap_time="0"></device>`,
		"second superblock": `
			<superblock uuid="" time="0" transaction="0" data_block_size="64" nr_data_blocks="16"></superblock>
			<superblock uuid="" time="0" transaction="0" data_block_size="64" nr_data_blocks="16"></superblock>`,
		"unknown element": `
			<superblock uuid="" time="0" transaction="0" data_block_size="64" nr_data_blocks="16">
				<snapshot dev_id="1"/>
			</superblock>`,
		"missing data_block_size": `
			<superblock uuid="" time="0" transaction="0" nr_data_blocks="16"></superblock>`,
		"non-numeric length": `
			<superblock uuid="" time="0" transaction="0" data_block_size="64" nr_data_blocks="16">
				<device dev_id="1" mapped_blocks="0" transaction="0" creation_time="0" snap_time="0">
					<range_mapping origin_begin="0" data_begin="0" length="many" time="0"/>
				</device>
			</superblock>`,
		"truncated document": `
			<superblock uuid="" time="0" transaction="0" data_block_size="64" nr_data_blocks="16">`,
	} {
		t.Run(name, func(t *testing.T) {
			err := Decode(strings.NewReader(doc), &recorder{})
			assert.Truef(t, errdefs.IsFailedPrecondition(err), "expected failed precondition, got %v", err)
		})
	}
}

func TestReadSuperblock(t *testing.T) {
	sb, err := ReadSuperblock(strings.NewReader(sampleDescription))
	require.NoError(t, err)

	assert.Equal(t, uint32(128), sb.DataBlockSize)
	assert.Equal(t, uint64(4096), sb.NrDataBlocks)
	require.NotNil(t, sb.Version)
	assert.Equal(t, uint32(2), *sb.Version)
	assert.Nil(t, sb.MetadataSnap)
}

func TestReadSuperblockEmptyDocument(t *testing.T) {
	_, err := ReadSuperblock(strings.NewReader(""))
	assert.True(t, errdefs.IsNotFound(err))
}
