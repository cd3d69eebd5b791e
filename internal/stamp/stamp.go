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

// Package stamp writes deterministic fingerprints into every mapped block
// of a pool's backing file and verifies them afterwards. Stamping before a
// metadata transformation and verifying after it proves the transformation
// preserved every block's content.
package stamp

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/log"

	"github.com/thinmeta/thinstamp/internal/blockio"
	"github.com/thinmeta/thinstamp/internal/walk"
	"github.com/thinmeta/thinstamp/pkg/pattern"
)

var (
	_ walk.BlockVisitor = (*Stamper)(nil)
	_ walk.BlockVisitor = (*Verifier)(nil)
)

// Stamper fills every visited block with the fingerprint derived from its
// logical identity. The result depends only on the seed and the visited
// bindings, never on visit order.
type Stamper struct {
	w      io.WriteSeeker
	seed   uint64
	blocks uint64
}

// NewStamper returns a stamper writing fingerprints seeded with seed to w.
func NewStamper(w io.WriteSeeker, seed uint64) *Stamper {
	return &Stamper{w: w, seed: seed}
}

func (s *Stamper) VisitBlock(ctx context.Context, b blockio.Binding) error {
	err := blockio.WithZeroBlock(s.w, b, func(buf []byte) error {
		return pattern.Fill(b.PatternSeed(s.seed), buf)
	})
	if err != nil {
		return fmt.Errorf("failed to stamp %s: %w", b, err)
	}
	s.blocks++

	log.G(ctx).WithFields(log.Fields{
		"dev_id":     b.DeviceID,
		"thin_block": b.ThinBlock,
		"data_block": b.DataBlock,
	}).Trace("stamped block")
	return nil
}

// Blocks is the number of blocks stamped so far.
func (s *Stamper) Blocks() uint64 {
	return s.blocks
}

// Verifier checks that every visited block still holds the fingerprint a
// Stamper with the same seed would have written. Verification only reads
// the backing file.
type Verifier struct {
	r      io.ReadSeeker
	seed   uint64
	blocks uint64
}

// NewVerifier returns a verifier checking fingerprints seeded with seed in r.
func NewVerifier(r io.ReadSeeker, seed uint64) *Verifier {
	return &Verifier{r: r, seed: seed}
}

func (v *Verifier) VisitBlock(ctx context.Context, b blockio.Binding) error {
	data, err := blockio.ReadBlock(v.r, b)
	if err != nil {
		return err
	}
	if err := pattern.Verify(b.PatternSeed(v.seed), data); err != nil {
		return &VerifyError{Binding: b, Err: err}
	}
	v.blocks++

	log.G(ctx).WithFields(log.Fields{
		"dev_id":     b.DeviceID,
		"thin_block": b.ThinBlock,
		"data_block": b.DataBlock,
	}).Trace("verified block")
	return nil
}

// Blocks is the number of blocks verified so far.
func (v *Verifier) Blocks() uint64 {
	return v.blocks
}

// VerifyError reports a block whose content diverged from its fingerprint.
// It wraps the pattern.MismatchError locating the first bad word.
type VerifyError struct {
	Binding blockio.Binding
	Err     error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s failed verification: %v", e.Binding, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}
