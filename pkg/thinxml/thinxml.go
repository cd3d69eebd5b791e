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

// Package thinxml reads and writes the XML description of thin-pool metadata
// produced by thin_dump and consumed by thin_restore. Documents stream
// through a MetadataVisitor event by event, so arbitrarily large pools never
// need to be held in memory.
//
// The format nests strictly: one superblock element containing zero or more
// device elements, each containing zero or more mappings. Anything else is
// rejected.
package thinxml

// Visit tells the event source whether to keep going after a visitor call.
type Visit int

const (
	// Continue requests the next event.
	Continue Visit = iota
	// Stop ends the walk early without error.
	Stop
)

// Superblock describes the pool itself. DataBlockSize is in 512-byte
// sectors, mirroring the on-disk field.
type Superblock struct {
	UUID          string
	Time          uint32
	Transaction   uint64
	Flags         *uint32
	Version       *uint32
	DataBlockSize uint32
	NrDataBlocks  uint64
	MetadataSnap  *uint64
}

// Device describes one thin volume within the pool.
type Device struct {
	DevID        uint32
	MappedBlocks uint64
	Transaction  uint64
	CreationTime uint32
	SnapTime     uint32
}

// Mapping binds Length consecutive logical blocks of the current device,
// starting at ThinBegin, to consecutive physical blocks starting at
// DataBegin. Single-block mappings have Length 1.
type Mapping struct {
	ThinBegin uint64
	DataBegin uint64
	Time      uint32
	Length    uint64
}

// MetadataVisitor receives the event stream of one pool description.
// Events arrive in document order: SuperblockBegin, then for each device
// DeviceBegin, its Mappings, DeviceEnd, then SuperblockEnd and finally EOF.
//
// Returning Stop ends the walk early with a nil error; returning a non-nil
// error aborts it and the error propagates unchanged to the walk's caller.
type MetadataVisitor interface {
	SuperblockBegin(sb *Superblock) (Visit, error)
	SuperblockEnd() (Visit, error)
	DeviceBegin(d *Device) (Visit, error)
	DeviceEnd() (Visit, error)
	Mapping(m *Mapping) (Visit, error)
	EOF() (Visit, error)
}

// NopVisitor implements MetadataVisitor with every method returning
// Continue. Embed it to implement only the events of interest.
type NopVisitor struct{}

func (NopVisitor) SuperblockBegin(*Superblock) (Visit, error) { return Continue, nil }
func (NopVisitor) SuperblockEnd() (Visit, error)              { return Continue, nil }
func (NopVisitor) DeviceBegin(*Device) (Visit, error)         { return Continue, nil }
func (NopVisitor) DeviceEnd() (Visit, error)                  { return Continue, nil }
func (NopVisitor) Mapping(*Mapping) (Visit, error)            { return Continue, nil }
func (NopVisitor) EOF() (Visit, error)                        { return Continue, nil }
