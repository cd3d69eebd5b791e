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
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeCtx = context.Background()

func createStore(t *testing.T) *RunStore {
	t.Helper()

	store, err := OpenRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestRunStoreAddAssignsSequentialIDs(t *testing.T) {
	store := createStore(t)

	first := &Record{Name: "first", Status: StatusPass, StartedAt: time.Now().UTC()}
	second := &Record{Name: "second", Status: StatusFail, StartedAt: time.Now().UTC()}

	require.NoError(t, store.Add(storeCtx, first))
	require.NoError(t, store.Add(storeCtx, second))

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
}

func TestRunStoreGet(t *testing.T) {
	store := createStore(t)

	expected := &Record{
		Name:          "shrink-fragmented",
		Seed:          42,
		BlockSize:     64,
		NrDataBlocks:  1024,
		TargetBlocks:  512,
		BlocksStamped: 77,
		Status:        StatusPass,
	}
	require.NoError(t, store.Add(storeCtx, expected))

	result, err := store.Get(storeCtx, expected.ID)
	require.NoError(t, err)

	assert.Equal(t, expected.Name, result.Name)
	assert.Equal(t, expected.Seed, result.Seed)
	assert.Equal(t, expected.BlocksStamped, result.BlocksStamped)
	assert.Equal(t, expected.Status, result.Status)
}

func TestRunStoreGetMissing(t *testing.T) {
	store := createStore(t)

	_, err := store.Get(storeCtx, 99)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRunStoreWalkOrder(t *testing.T) {
	store := createStore(t)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.Add(storeCtx, &Record{Name: name}))
	}

	var names []string
	require.NoError(t, store.Walk(storeCtx, func(r *Record) error {
		names = append(names, r.Name)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestForensicsRoundTrip(t *testing.T) {
	store := createStore(t)

	rec := &Record{Name: "failing", Status: StatusFail}
	require.NoError(t, store.Add(storeCtx, rec))

	// Compressible like the real descriptions are.
	artifact := bytes.Repeat([]byte("<range_mapping/>\n"), 1000)
	require.NoError(t, store.AttachForensics(storeCtx, rec.ID, "before.xml", artifact))

	restored, err := store.Forensics(storeCtx, rec.ID, "before.xml")
	require.NoError(t, err)
	assert.Equal(t, artifact, restored)

	_, err = store.Forensics(storeCtx, rec.ID, "missing.xml")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestForensicsScopedToRun(t *testing.T) {
	store := createStore(t)

	one := &Record{Name: "one"}
	two := &Record{Name: "two"}
	require.NoError(t, store.Add(storeCtx, one))
	require.NoError(t, store.Add(storeCtx, two))

	require.NoError(t, store.AttachForensics(storeCtx, one.ID, "before.xml", []byte("one")))
	require.NoError(t, store.AttachForensics(storeCtx, two.ID, "before.xml", []byte("two")))
	require.NoError(t, store.AttachForensics(storeCtx, two.ID, "after.xml", []byte("two")))

	var names []string
	require.NoError(t, store.WalkForensics(storeCtx, two.ID, func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.ElementsMatch(t, []string{"before.xml", "after.xml"}, names)
}

func TestRunStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := OpenRunStore(path)
	require.NoError(t, err)

	rec := &Record{Name: "persisted", Status: StatusPass}
	require.NoError(t, store.Add(storeCtx, rec))
	require.NoError(t, store.Close())

	store, err = OpenRunStore(path)
	require.NoError(t, err)
	defer store.Close()

	restored, err := store.Get(storeCtx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", restored.Name)
}

func TestRunStoreDoubleClose(t *testing.T) {
	store, err := OpenRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.NoError(t, store.Close(), "closing twice is fine")
}
