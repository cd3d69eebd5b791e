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

package pool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thinmeta/thinstamp/pkg/thinxml"
)

// WriteFile serializes the description produced by g to path. The file is
// written to a temporary neighbor and renamed into place, so a failed
// generation never leaves a truncated description behind.
func WriteFile(path string, g Generator) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary description: %w", err)
	}
	tmp := f.Name()

	w := thinxml.NewWriter(f)
	err = g.Generate(w)
	if err == nil {
		_, err = w.EOF()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write description %s: %w", path, err)
	}
	return nil
}
