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

package scenario

import (
	"errors"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"
)

// Config represents scenario configuration loaded from file.
// Size units can be specified in human-readable string format (like "4MB", "32KIB")
type Config struct {
	// RootPath is the directory scenario artifacts are placed in.
	RootPath string `toml:"root_path"`

	// Tool is the metadata rewriting binary. Empty resolves thin_shrink
	// through PATH.
	Tool string `toml:"tool"`

	// BlockSize is the pool's data block size in 512-byte sectors.
	BlockSize uint32 `toml:"block_size"`

	// NrDataBlocks is the number of data blocks the pool starts with.
	NrDataBlocks uint64 `toml:"nr_data_blocks"`

	// TargetBlocks is the data block count to shrink the pool to.
	TargetBlocks uint64 `toml:"target_blocks"`

	// Preallocate backs data files with real extents instead of holes.
	// Requires fallocate support.
	Preallocate bool `toml:"preallocate"`

	// DigestData records content digests of the data file in run records.
	DigestData bool `toml:"digest_data"`

	// JournalPath is the bolt database run outcomes are journaled to.
	// Empty disables journaling.
	JournalPath string `toml:"journal_path"`

	// ForensicsMaxSize caps how much of each artifact failed runs archive
	ForensicsMaxSize      string `toml:"forensics_max_size"`
	ForensicsMaxSizeBytes int64  `toml:"-"`
}

// DefaultConfig returns the geometry scenarios use unless told otherwise:
// a 32MiB pool of 32KiB blocks, shrunk to half its size.
func DefaultConfig() *Config {
	return &Config{
		BlockSize:        64,
		NrDataBlocks:     1024,
		TargetBlocks:     512,
		ForensicsMaxSize: "4MB",
	}
}

// LoadConfig reads scenario configuration file from disk in TOML format
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	config := Config{}
	if err := toml.NewDecoder(f).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario TOML: %w", err)
	}

	if err := config.parse(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) parse() error {
	if c.ForensicsMaxSize == "" {
		c.ForensicsMaxSize = DefaultConfig().ForensicsMaxSize
	}

	maxSize, err := units.RAMInBytes(c.ForensicsMaxSize)
	if err != nil {
		return fmt.Errorf("failed to parse forensics max size: '%s': %w", c.ForensicsMaxSize, err)
	}

	c.ForensicsMaxSizeBytes = maxSize
	return nil
}

// Validate makes sure configuration fields are valid
func (c *Config) Validate() error {
	var result []error

	if c.RootPath == "" {
		result = append(result, fmt.Errorf("root_path is required"))
	}

	if c.BlockSize == 0 {
		result = append(result, fmt.Errorf("block_size must be positive"))
	}

	if c.NrDataBlocks == 0 {
		result = append(result, fmt.Errorf("nr_data_blocks must be positive"))
	}

	if c.TargetBlocks == 0 {
		result = append(result, fmt.Errorf("target_blocks must be positive"))
	} else if c.TargetBlocks > c.NrDataBlocks {
		result = append(result, fmt.Errorf("target_blocks %d exceeds nr_data_blocks %d", c.TargetBlocks, c.NrDataBlocks))
	}

	return errors.Join(result...)
}
