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

// Package scenario runs end-to-end verification of metadata
// transformations: synthesize a pool description, stamp a fingerprint into
// every mapped block of a backing data file, hand the pool to the
// transformation under test, then re-walk the transformed description and
// verify every block still carries its fingerprint.
//
// A scenario passes only if the walk of the transformed metadata reaches
// every stamped block and every one of them verifies. Each phase is
// fail-fast: the first error ends the run.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/moby/locker"
	"golang.org/x/sync/errgroup"

	"github.com/thinmeta/thinstamp/internal/blockio"
	"github.com/thinmeta/thinstamp/internal/pool"
	"github.com/thinmeta/thinstamp/internal/stamp"
	"github.com/thinmeta/thinstamp/internal/thinshrink"
	"github.com/thinmeta/thinstamp/internal/walk"
	"github.com/thinmeta/thinstamp/pkg/thinxml"
)

// Artifact names within a scenario's working directory.
const (
	BeforeDescription = "before.xml"
	AfterDescription  = "after.xml"
	DataFileName      = "pool.bin"
)

const defaultForensicsMaxSize = 4 << 20

// Params configures one stamp, transform, verify run.
type Params struct {
	// Name identifies the run in logs and the journal.
	Name string

	// Seed is the global fingerprint seed. Runs with equal seeds and
	// descriptions produce identical data files.
	Seed uint64

	// Generator synthesizes the pool description under test.
	Generator pool.Generator

	// Transformer is the metadata rewrite under test.
	Transformer thinshrink.Transformer

	// TargetBlocks is the data block count to shrink the pool to.
	TargetBlocks uint64

	// Dir is the working directory artifacts are created in. It must
	// exist; concurrent runs must not share it.
	Dir string

	// Preallocate backs the data file with real extents.
	Preallocate bool

	// DigestData records content digests of the data file before and
	// after the transformation.
	DigestData bool

	// Journal, when set, records the run's outcome. Failed runs also
	// archive their descriptions for forensics.
	Journal *RunStore

	// ForensicsMaxSize caps each archived artifact; 0 means 4MiB.
	ForensicsMaxSize int64
}

func (p *Params) validate() error {
	if p.Generator == nil {
		return fmt.Errorf("scenario needs a pool generator: %w", errdefs.ErrInvalidArgument)
	}
	if p.Transformer == nil {
		return fmt.Errorf("scenario needs a transformer: %w", errdefs.ErrInvalidArgument)
	}
	if p.TargetBlocks == 0 {
		return fmt.Errorf("scenario needs a positive block target: %w", errdefs.ErrInvalidArgument)
	}
	if p.Dir == "" {
		return fmt.Errorf("scenario needs a working directory: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

// Run executes one scenario. The returned record reflects the outcome
// whether or not the run passed; the error carries the failure itself. When
// a journal is configured the record is journaled before returning.
func Run(ctx context.Context, p Params) (*Record, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	rec := &Record{
		Name:         p.Name,
		Seed:         p.Seed,
		TargetBlocks: p.TargetBlocks,
		Status:       StatusFail,
		StartedAt:    time.Now().UTC(),
	}

	runErr := p.execute(ctx, rec)
	rec.FinishedAt = time.Now().UTC()
	if runErr != nil {
		rec.Failure = runErr.Error()
		log.G(ctx).WithError(runErr).WithField("name", p.Name).Error("scenario failed")
	} else {
		rec.Status = StatusPass
	}

	var journalErr error
	if p.Journal != nil {
		journalErr = p.journal(ctx, rec)
	}
	return rec, errors.Join(runErr, journalErr)
}

func (p *Params) execute(ctx context.Context, rec *Record) error {
	var (
		before = filepath.Join(p.Dir, BeforeDescription)
		after  = filepath.Join(p.Dir, AfterDescription)
		data   = filepath.Join(p.Dir, DataFileName)
	)

	log.G(ctx).WithFields(log.Fields{
		"name": p.Name,
		"seed": p.Seed,
		"dir":  p.Dir,
	}).Info("running scenario")

	if err := pool.WriteFile(before, p.Generator); err != nil {
		return err
	}

	sb, err := readSuperblock(before)
	if err != nil {
		return err
	}
	rec.BlockSize = sb.DataBlockSize
	rec.NrDataBlocks = sb.NrDataBlocks

	size := int64(sb.NrDataBlocks) * int64(sb.DataBlockSize) * blockio.SectorSize
	if err := CreateDataFile(ctx, data, size, p.Preallocate); err != nil {
		return err
	}

	stamped, err := stampBlocks(ctx, before, data, p.Seed)
	rec.BlocksStamped = stamped
	if err != nil {
		return fmt.Errorf("failed to stamp pool: %w", err)
	}

	if p.DigestData {
		dgst, err := DigestFile(data)
		if err != nil {
			return err
		}
		rec.DataDigestBefore = dgst.String()
	}

	err = p.Transformer.Transform(ctx, thinshrink.Request{
		InputXML:  before,
		OutputXML: after,
		DataFile:  data,
		NrBlocks:  p.TargetBlocks,
	})
	if err != nil {
		return fmt.Errorf("transformation failed: %w", err)
	}

	verified, err := verifyBlocks(ctx, after, data, p.Seed)
	rec.BlocksVerified = verified
	if err != nil {
		return fmt.Errorf("failed to verify pool: %w", err)
	}

	if p.DigestData {
		dgst, err := DigestFile(data)
		if err != nil {
			return err
		}
		rec.DataDigestAfter = dgst.String()
	}

	log.G(ctx).WithFields(log.Fields{
		"name":     p.Name,
		"stamped":  stamped,
		"verified": verified,
	}).Info("scenario passed")
	return nil
}

// journal records the outcome; failed runs also archive their metadata
// descriptions so the failure stays diagnosable without the working
// directory.
func (p *Params) journal(ctx context.Context, rec *Record) error {
	if err := p.Journal.Add(ctx, rec); err != nil {
		return err
	}
	if rec.Status != StatusFail {
		return nil
	}

	maxSize := p.ForensicsMaxSize
	if maxSize <= 0 {
		maxSize = defaultForensicsMaxSize
	}
	for _, name := range []string{BeforeDescription, AfterDescription} {
		data, err := os.ReadFile(filepath.Join(p.Dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			// The run may have failed before the artifact existed.
			continue
		}
		if err != nil {
			return err
		}
		if int64(len(data)) > maxSize {
			data = data[:maxSize]
		}
		if err := p.Journal.AttachForensics(ctx, rec.ID, name, data); err != nil {
			return err
		}
	}
	return nil
}

// RunMany executes scenarios concurrently. Every scenario runs to
// completion even when a sibling fails; the returned error is the first
// failure. Runs declaring the same working directory are serialized rather
// than trampling each other's artifacts.
func RunMany(ctx context.Context, runs []Params) ([]*Record, error) {
	var (
		g       errgroup.Group
		locks   = locker.New()
		records = make([]*Record, len(runs))
	)
	for i, p := range runs {
		i, p := i, p
		g.Go(func() error {
			locks.Lock(p.Dir)
			defer locks.Unlock(p.Dir)

			rec, err := Run(ctx, p)
			records[i] = rec
			return err
		})
	}
	err := g.Wait()
	return records, err
}

func stampBlocks(ctx context.Context, descPath, dataPath string, seed uint64) (uint64, error) {
	desc, err := os.Open(descPath)
	if err != nil {
		return 0, err
	}
	defer desc.Close()

	f, err := os.OpenFile(dataPath, os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}

	s := stamp.NewStamper(f, seed)
	err = walk.Blocks(ctx, desc, s)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return s.Blocks(), err
}

func verifyBlocks(ctx context.Context, descPath, dataPath string, seed uint64) (uint64, error) {
	desc, err := os.Open(descPath)
	if err != nil {
		return 0, err
	}
	defer desc.Close()

	f, err := os.Open(dataPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	v := stamp.NewVerifier(f, seed)
	err = walk.Blocks(ctx, desc, v)
	return v.Blocks(), err
}

func readSuperblock(path string) (*thinxml.Superblock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return thinxml.ReadSuperblock(f)
}
