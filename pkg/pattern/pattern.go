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

// Package pattern produces the deterministic fingerprints stamped into data
// blocks. A fingerprint is the word stream of a 64-bit linear congruential
// generator serialized little-endian, so any block can be regenerated and
// checked from nothing but its seed.
package pattern

import (
	"encoding/binary"
	"fmt"

	"github.com/containerd/errdefs"
)

// Multiplier and increment of the generator. Changing either invalidates
// every fingerprint ever written, so they are fixed for the life of the
// format.
const (
	multiplier = 6364136223846793005
	increment  = 1442695040888963407
)

// WordSize is the width in bytes of one generator word.
const WordSize = 8

// Generator is a deterministic 64-bit word source. The zero value is a
// generator seeded with 0; use New to seed it explicitly.
//
// The first word emitted is the seed itself, then each call advances the
// state by x' = x*a + c (mod 2^64).
type Generator struct {
	x uint64
}

// New returns a generator whose first word will be seed.
func New(seed uint64) *Generator {
	return &Generator{x: seed}
}

// Next returns the current word and advances the generator.
func (g *Generator) Next() uint64 {
	w := g.x
	g.x = g.x*multiplier + increment
	return w
}

// Fill overwrites buf with the fingerprint for seed. len(buf) must be a
// positive multiple of WordSize.
func Fill(seed uint64, buf []byte) error {
	if err := checkBuffer(buf); err != nil {
		return err
	}
	g := New(seed)
	for i := 0; i < len(buf); i += WordSize {
		binary.LittleEndian.PutUint64(buf[i:], g.Next())
	}
	return nil
}

// Verify checks that buf holds exactly the fingerprint for seed. It returns
// a MismatchError identifying the first diverging word, or nil when the
// whole buffer matches. len(buf) must be a positive multiple of WordSize.
func Verify(seed uint64, buf []byte) error {
	if err := checkBuffer(buf); err != nil {
		return err
	}
	g := New(seed)
	for i := 0; i < len(buf); i += WordSize {
		expected := g.Next()
		if actual := binary.LittleEndian.Uint64(buf[i:]); actual != expected {
			return &MismatchError{
				Word:     i / WordSize,
				Expected: expected,
				Actual:   actual,
			}
		}
	}
	return nil
}

func checkBuffer(buf []byte) error {
	if len(buf) == 0 || len(buf)%WordSize != 0 {
		return fmt.Errorf("buffer length %d must be a positive multiple of %d: %w", len(buf), WordSize, errdefs.ErrInvalidArgument)
	}
	return nil
}

// MismatchError reports the first word of a buffer that does not match the
// expected fingerprint. Word is the zero-based word index, i.e. byte offset
// Word*WordSize within the buffer.
type MismatchError struct {
	Word     int
	Expected uint64
	Actual   uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("fingerprint mismatch at word %d: expected %#016x, actual %#016x", e.Word, e.Expected, e.Actual)
}
