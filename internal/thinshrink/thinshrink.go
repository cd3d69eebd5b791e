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

// Package thinshrink invokes the external thin_shrink tool, which rewrites
// a pool description to fit a smaller data device, relocating physical
// blocks as needed. The engine treats it as a black box: descriptions and
// the data file go in, a rewritten description comes out.
package thinshrink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	exec "golang.org/x/sys/execabs"
)

// DefaultTool is the thin_shrink executable consulted when no explicit
// binary is configured. It is resolved through PATH.
const DefaultTool = "thin_shrink"

// Request describes one metadata rewrite: shrink the pool described by
// InputXML to NrBlocks data blocks, writing the rewritten description to
// OutputXML and moving blocks of DataFile that fall beyond the new end.
type Request struct {
	InputXML  string
	OutputXML string
	DataFile  string
	NrBlocks  uint64
}

func (r Request) validate() error {
	if r.InputXML == "" || r.OutputXML == "" || r.DataFile == "" {
		return fmt.Errorf("input, output, and data paths are all required: %w", errdefs.ErrInvalidArgument)
	}
	if r.NrBlocks == 0 {
		return fmt.Errorf("cannot shrink a pool to zero blocks: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func (r Request) args() []string {
	return []string{
		"--input", r.InputXML,
		"--output", r.OutputXML,
		"--data", r.DataFile,
		"--nr-blocks", strconv.FormatUint(r.NrBlocks, 10),
	}
}

// Transformer rewrites pool metadata. The production implementation is
// Tool; tests substitute in-process fakes.
type Transformer interface {
	Transform(ctx context.Context, r Request) error
}

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc func(ctx context.Context, r Request) error

func (f TransformerFunc) Transform(ctx context.Context, r Request) error {
	return f(ctx, r)
}

// Tool runs the thin_shrink binary.
type Tool struct {
	// Binary overrides the executable path; empty means DefaultTool.
	Binary string
}

func (t Tool) Transform(ctx context.Context, r Request) error {
	if err := r.validate(); err != nil {
		return err
	}

	binary := t.Binary
	if binary == "" {
		binary = DefaultTool
	}
	args := r.args()

	log.G(ctx).WithFields(log.Fields{
		"binary":    binary,
		"nr_blocks": r.NrBlocks,
	}).Debug("rewriting pool metadata")

	out, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	if err != nil {
		return &ToolError{
			Binary: binary,
			Args:   args,
			Output: strings.TrimSpace(string(out)),
			Err:    err,
		}
	}
	return nil
}

// Version reports the tool's version string.
func Version(ctx context.Context, binary string) (string, error) {
	if binary == "" {
		binary = DefaultTool
	}
	out, err := exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if err != nil {
		return "", &ToolError{
			Binary: binary,
			Args:   []string{"--version"},
			Output: strings.TrimSpace(string(out)),
			Err:    err,
		}
	}
	return strings.TrimSpace(string(out)), nil
}

// ToolError reports a failed tool invocation along with everything needed
// to reproduce it by hand.
type ToolError struct {
	Binary string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Binary, strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += "\noutput: " + e.Output
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
