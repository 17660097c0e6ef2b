// Copyright 2026 the gtafsync authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func newArea(t *testing.T) *Area {
	t.Helper()
	a := New(filepath.Join(t.TempDir(), "gtafsync"))
	require.NoError(t, a.EnsureDirectories(context.Background()))
	return a
}

func TestEnsureDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "deep", "nested", "out")
	a := New(root)

	require.NoError(t, a.EnsureDirectories(context.Background()))
	assert.True(t, a.Available())

	for _, dir := range []string{a.Pending(), a.Backup(), a.BackupError(), a.Results(), a.Logs()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Idempotent.
	require.NoError(t, a.EnsureDirectories(context.Background()))
}

func TestEnsureDirectories_Unavailable(t *testing.T) {
	base := t.TempDir()
	// A plain file where the root should go makes every MkdirAll fail.
	blocked := filepath.Join(base, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	a := New(blocked)
	err := a.EnsureDirectories(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, a.Available())
}

func TestStoreBackup_NeverOverwrites(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	touch(t, a.Pending(), "alumnes.csv")

	first, err := a.StoreBackup(ctx, "alumnes.csv")
	require.NoError(t, err)
	assert.Equal(t, "alumnes.csv", first)

	second, err := a.StoreBackup(ctx, "alumnes.csv")
	require.NoError(t, err)
	assert.Equal(t, "alumnes(1).csv", second)

	names, err := a.ListBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alumnes(1).csv", "alumnes.csv"}, names)
}

func TestQuarantine(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	touch(t, a.Pending(), "alumnes.csv")

	name, err := a.Quarantine(ctx, "alumnes.csv")
	require.NoError(t, err)
	assert.Equal(t, "alumnes.csv", name)

	pending, err := a.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "quarantined file must leave pending")

	_, err = os.Stat(filepath.Join(a.BackupError(), name))
	assert.NoError(t, err)
}

func TestRestore(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	err := a.Restore(ctx, "missing.csv")
	assert.True(t, errors.Is(err, ErrNoSuchFile))

	touch(t, a.Backup(), "alumnes.csv")
	require.NoError(t, a.Restore(ctx, "alumnes.csv"))

	// Refuses to clobber a file already pending.
	err = a.Restore(ctx, "alumnes.csv")
	assert.True(t, errors.Is(err, ErrAlreadyPending))
}

func TestDiscard(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	assert.True(t, errors.Is(a.Discard(ctx, "missing.csv"), ErrNoSuchFile))

	touch(t, a.Pending(), "professors.csv")
	require.NoError(t, a.Discard(ctx, "professors.csv"))

	pending, err := a.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWriteResults(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	name, err := a.WriteResults(ctx, "alumnes.csv", []byte("status;line\n"))
	require.NoError(t, err)
	assert.Equal(t, "alumnes.csv", name)

	name, err = a.WriteResults(ctx, "alumnes.csv", []byte("status;line\n"))
	require.NoError(t, err)
	assert.Equal(t, "alumnes(1).csv", name)
}
