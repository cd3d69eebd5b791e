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
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

// Writer serializes a metadata event stream back into the XML description
// format. It implements MetadataVisitor, so anything that drives a visitor
// (a decoder, a pool generator) can produce a document by driving a Writer.
//
// The EOF event flushes buffered output; a stream that is never finished
// with EOF may lose its tail.
type Writer struct {
	enc *xml.Encoder
}

// NewWriter returns a Writer emitting an indented document to w.
func NewWriter(w io.Writer) *Writer {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &Writer{enc: enc}
}

func (w *Writer) SuperblockBegin(sb *Superblock) (Visit, error) {
	attrs := []xml.Attr{
		attr("uuid", sb.UUID),
		attr("time", strconv.FormatUint(uint64(sb.Time), 10)),
		attr("transaction", strconv.FormatUint(sb.Transaction, 10)),
	}
	if sb.Flags != nil {
		attrs = append(attrs, attr("flags", strconv.FormatUint(uint64(*sb.Flags), 10)))
	}
	if sb.Version != nil {
		attrs = append(attrs, attr("version", strconv.FormatUint(uint64(*sb.Version), 10)))
	}
	attrs = append(attrs,
		attr("data_block_size", strconv.FormatUint(uint64(sb.DataBlockSize), 10)),
		attr("nr_data_blocks", strconv.FormatUint(sb.NrDataBlocks, 10)),
	)
	if sb.MetadataSnap != nil {
		attrs = append(attrs, attr("metadata_snap", strconv.FormatUint(*sb.MetadataSnap, 10)))
	}
	return w.start("superblock", attrs)
}

func (w *Writer) SuperblockEnd() (Visit, error) {
	return w.end("superblock")
}

func (w *Writer) DeviceBegin(d *Device) (Visit, error) {
	return w.start("device", []xml.Attr{
		attr("dev_id", strconv.FormatUint(uint64(d.DevID), 10)),
		attr("mapped_blocks", strconv.FormatUint(d.MappedBlocks, 10)),
		attr("transaction", strconv.FormatUint(d.Transaction, 10)),
		attr("creation_time", strconv.FormatUint(uint64(d.CreationTime), 10)),
		attr("snap_time", strconv.FormatUint(uint64(d.SnapTime), 10)),
	})
}

func (w *Writer) DeviceEnd() (Visit, error) {
	return w.end("device")
}

func (w *Writer) Mapping(m *Mapping) (Visit, error) {
	var el xml.StartElement
	if m.Length == 1 {
		el = element("single_mapping",
			attr("origin_block", strconv.FormatUint(m.ThinBegin, 10)),
			attr("data_block", strconv.FormatUint(m.DataBegin, 10)),
			attr("time", strconv.FormatUint(uint64(m.Time), 10)),
		)
	} else {
		el = element("range_mapping",
			attr("origin_begin", strconv.FormatUint(m.ThinBegin, 10)),
			attr("data_begin", strconv.FormatUint(m.DataBegin, 10)),
			attr("length", strconv.FormatUint(m.Length, 10)),
			attr("time", strconv.FormatUint(uint64(m.Time), 10)),
		)
	}
	if err := w.enc.EncodeToken(el); err != nil {
		return Stop, fmt.Errorf("failed to write %s: %w", el.Name.Local, err)
	}
	if err := w.enc.EncodeToken(el.End()); err != nil {
		return Stop, fmt.Errorf("failed to close %s: %w", el.Name.Local, err)
	}
	return Continue, nil
}

func (w *Writer) EOF() (Visit, error) {
	if err := w.enc.Flush(); err != nil {
		return Stop, fmt.Errorf("failed to flush description: %w", err)
	}
	return Stop, nil
}

func (w *Writer) start(name string, attrs []xml.Attr) (Visit, error) {
	el := xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
	if err := w.enc.EncodeToken(el); err != nil {
		return Stop, fmt.Errorf("failed to write %s: %w", name, err)
	}
	return Continue, nil
}

func (w *Writer) end(name string) (Visit, error) {
	el := xml.EndElement{Name: xml.Name{Local: name}}
	if err := w.enc.EncodeToken(el); err != nil {
		return Stop, fmt.Errorf("failed to close %s: %w", name, err)
	}
	return Continue, nil
}

func element(name string, attrs ...xml.Attr) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}
