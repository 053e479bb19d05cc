package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestInstallLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	id, err := s.AddInstall(ctx, "shop.ocmod.zip")
	require.NoError(t, err)
	require.NoError(t, s.AddPath(ctx, id, registry.PathRecord{Path: "system/library/shop", Dir: true}))
	require.NoError(t, s.AddPath(ctx, id, registry.PathRecord{Path: "system/library/shop/a.php"}))

	rec, err := s.GetInstall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "shop.ocmod.zip", rec.Filename)
	assert.Equal(t, []registry.PathRecord{
		{Path: "system/library/shop", Dir: true},
		{Path: "system/library/shop/a.php"},
	}, rec.Paths)

	all, err := s.ListInstalls(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Paths, 2)

	require.NoError(t, s.DeleteInstall(ctx, id))
	_, err = s.GetInstall(ctx, id)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestExtensions(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.InstallExtension(ctx, "module", "shop"))
	require.NoError(t, s.InstallExtension(ctx, "module", "shop"))
	require.NoError(t, s.InstallExtension(ctx, "payment", "cod"))

	codes, err := s.InstalledExtensions(ctx, "module")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, codes)
}

func TestModifications(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.ModificationByCode(ctx, "shop")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	id, err := s.AddModification(ctx, &registry.Modification{
		InstallID: 7, Name: "Shop", Code: "shop", Version: "1.0.0", XML: "<modification/>", Status: true,
	})
	require.NoError(t, err)
	_, err = s.AddModification(ctx, &registry.Modification{
		InstallID: 8, Name: "Off", Code: "off", XML: "<modification/>", Status: false,
	})
	require.NoError(t, err)

	m, err := s.ModificationByCode(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.True(t, m.Status)
	assert.Equal(t, "<modification/>", m.XML)

	active, err := s.ActiveModifications(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "shop", active[0].Code)

	every, err := s.ListModifications(ctx)
	require.NoError(t, err)
	assert.Len(t, every, 2)

	require.NoError(t, s.DeleteModificationsByInstall(ctx, 7))
	require.NoError(t, s.DeleteModification(ctx, every[1].ID))
	every, err = s.ListModifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, every)
}

func TestSettingsReplaceGroup(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	got, err := s.GetSetting(ctx, "module_shop")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.EditSetting(ctx, "module_shop", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, s.EditSetting(ctx, "module_shop", map[string]string{"b": "3"}))

	got, err = s.GetSetting(ctx, "module_shop")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "3"}, got)

	require.NoError(t, registry.MergeSettings(ctx, s, "module_shop", map[string]string{"c": "4"}))
	got, err = s.GetSetting(ctx, "module_shop")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "3", "c": "4"}, got)
}
