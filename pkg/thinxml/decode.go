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
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/containerd/errdefs"
)

// Decode streams the description in r through v. It returns nil when the
// document ends or the visitor requests Stop, the visitor's error when a
// callback fails, and an ErrFailedPrecondition-wrapped error when the
// document violates the format's nesting or misses required attributes.
func Decode(r io.Reader, v MetadataVisitor) error {
	dec := xml.NewDecoder(r)

	var inSuperblock, inDevice, seenSuperblock bool
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			_, verr := v.EOF()
			return verr
		}
		if err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return fmt.Errorf("malformed description: %v: %w", syntaxErr, errdefs.ErrFailedPrecondition)
			}
			return fmt.Errorf("failed to read description token: %w", err)
		}

		var visit Visit
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "superblock":
				if seenSuperblock {
					return fmt.Errorf("more than one superblock: %w", errdefs.ErrFailedPrecondition)
				}
				sb, err := parseSuperblock(t)
				if err != nil {
					return err
				}
				inSuperblock, seenSuperblock = true, true
				visit, err = v.SuperblockBegin(sb)
				if err != nil {
					return err
				}
			case "device":
				if !inSuperblock || inDevice {
					return fmt.Errorf("device element outside superblock scope: %w", errdefs.ErrFailedPrecondition)
				}
				d, err := parseDevice(t)
				if err != nil {
					return err
				}
				inDevice = true
				visit, err = v.DeviceBegin(d)
				if err != nil {
					return err
				}
			case "range_mapping", "single_mapping":
				if !inDevice {
					return fmt.Errorf("%s element outside device scope: %w", t.Name.Local, errdefs.ErrFailedPrecondition)
				}
				m, err := parseMapping(t)
				if err != nil {
					return err
				}
				visit, err = v.Mapping(m)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unexpected element %q: %w", t.Name.Local, errdefs.ErrFailedPrecondition)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "superblock":
				inSuperblock = false
				var err error
				if visit, err = v.SuperblockEnd(); err != nil {
					return err
				}
			case "device":
				inDevice = false
				var err error
				if visit, err = v.DeviceEnd(); err != nil {
					return err
				}
			}
		}
		if visit == Stop {
			return nil
		}
	}
}

// ReadSuperblock decodes just the superblock of the description in r,
// without walking devices or mappings. It returns an
// ErrNotFound-wrapped error when the document has none.
func ReadSuperblock(r io.Reader) (*Superblock, error) {
	capture := &superblockCapture{}
	if err := Decode(r, capture); err != nil {
		return nil, err
	}
	if capture.sb == nil {
		return nil, fmt.Errorf("description has no superblock: %w", errdefs.ErrNotFound)
	}
	return capture.sb, nil
}

type superblockCapture struct {
	NopVisitor
	sb *Superblock
}

func (c *superblockCapture) SuperblockBegin(sb *Superblock) (Visit, error) {
	c.sb = sb
	return Stop, nil
}

type attrs struct {
	element string
	values  map[string]string
}

func attrsOf(el xml.StartElement) attrs {
	values := make(map[string]string, len(el.Attr))
	for _, a := range el.Attr {
		values[a.Name.Local] = a.Value
	}
	return attrs{element: el.Name.Local, values: values}
}

func (a attrs) string(name string) string {
	return a.values[name]
}

func (a attrs) uint64(name string) (uint64, error) {
	raw, ok := a.values[name]
	if !ok {
		return 0, fmt.Errorf("%s element missing attribute %q: %w", a.element, name, errdefs.ErrFailedPrecondition)
	}
	val, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s attribute %q=%q is not a valid number: %w", a.element, name, raw, errdefs.ErrFailedPrecondition)
	}
	return val, nil
}

func (a attrs) uint32(name string) (uint32, error) {
	raw, ok := a.values[name]
	if !ok {
		return 0, fmt.Errorf("%s element missing attribute %q: %w", a.element, name, errdefs.ErrFailedPrecondition)
	}
	val, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s attribute %q=%q is not a valid number: %w", a.element, name, raw, errdefs.ErrFailedPrecondition)
	}
	return uint32(val), nil
}

func (a attrs) optUint64(name string) (*uint64, error) {
	if _, ok := a.values[name]; !ok {
		return nil, nil
	}
	val, err := a.uint64(name)
	if err != nil {
		return nil, err
	}
	return &val, nil
}

func (a attrs) optUint32(name string) (*uint32, error) {
	if _, ok := a.values[name]; !ok {
		return nil, nil
	}
	val, err := a.uint32(name)
	if err != nil {
		return nil, err
	}
	return &val, nil
}

func parseSuperblock(el xml.StartElement) (*Superblock, error) {
	a := attrsOf(el)
	sb := &Superblock{UUID: a.string("uuid")}

	var err error
	if sb.Time, err = a.uint32("time"); err != nil {
		return nil, err
	}
	if sb.Transaction, err = a.uint64("transaction"); err != nil {
		return nil, err
	}
	if sb.Flags, err = a.optUint32("flags"); err != nil {
		return nil, err
	}
	if sb.Version, err = a.optUint32("version"); err != nil {
		return nil, err
	}
	if sb.DataBlockSize, err = a.uint32("data_block_size"); err != nil {
		return nil, err
	}
	if sb.NrDataBlocks, err = a.uint64("nr_data_blocks"); err != nil {
		return nil, err
	}
	if sb.MetadataSnap, err = a.optUint64("metadata_snap"); err != nil {
		return nil, err
	}
	return sb, nil
}

func parseDevice(el xml.StartElement) (*Device, error) {
	a := attrsOf(el)
	d := &Device{}

	var err error
	if d.DevID, err = a.uint32("dev_id"); err != nil {
		return nil, err
	}
	if d.MappedBlocks, err = a.uint64("mapped_blocks"); err != nil {
		return nil, err
	}
	if d.Transaction, err = a.uint64("transaction"); err != nil {
		return nil, err
	}
	if d.CreationTime, err = a.uint32("creation_time"); err != nil {
		return nil, err
	}
	if d.SnapTime, err = a.uint32("snap_time"); err != nil {
		return nil, err
	}
	return d, nil
}

func parseMapping(el xml.StartElement) (*Mapping, error) {
	a := attrsOf(el)
	m := &Mapping{}

	var err error
	if el.Name.Local == "single_mapping" {
		m.Length = 1
		if m.ThinBegin, err = a.uint64("origin_block"); err != nil {
			return nil, err
		}
		if m.DataBegin, err = a.uint64("data_block"); err != nil {
			return nil, err
		}
	} else {
		if m.ThinBegin, err = a.uint64("origin_begin"); err != nil {
			return nil, err
		}
		if m.DataBegin, err = a.uint64("data_begin"); err != nil {
			return nil, err
		}
		if m.Length, err = a.uint64("length"); err != nil {
			return nil, err
		}
	}
	if m.Time, err = a.uint32("time"); err != nil {
		return nil, err
	}
	return m, nil
}
