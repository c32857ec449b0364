package cache

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestReconciler(t *testing.T) (*Reconciler, string) {
	t.Helper()
	root := t.TempDir()
	return NewReconciler(root, "/assets", ".partial", testLogger()), root
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "sample-thumbnailImage-FILEID123", BaseName("sample", "thumbnailImage", "FILEID123"))
	assert.Equal(t, "sample-hero_image-X", BaseName("sample", "hero/image", "X"))
}

func TestPublicPath(t *testing.T) {
	r, _ := newTestReconciler(t)
	assert.Equal(t, "/assets/projects/sample-thumbnailImage-FILEID123.png", r.PublicPath("projects", "sample-thumbnailImage-FILEID123.png"))

	r = NewReconciler(t.TempDir(), "media/", ".partial", testLogger())
	assert.Equal(t, "/media/pages/a.jpg", r.PublicPath("pages", "a.jpg"))
}

func TestLookup_MissingDirIsMiss(t *testing.T) {
	r, _ := newTestReconciler(t)

	name, ok, err := r.Lookup("projects", "sample-heroImage-X")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestLookup_AnyExtension(t *testing.T) {
	r, root := newTestReconciler(t)
	writeFile(t, filepath.Join(root, "projects", "sample-heroVideo-V1.mov"), []byte("video"))

	name, ok, err := r.Lookup("projects", "sample-heroVideo-V1")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sample-heroVideo-V1.mov", name)
}

func TestLookup_IgnoresTempEmptyAndPrefixIDs(t *testing.T) {
	r, root := newTestReconciler(t)
	dir := filepath.Join(root, "projects")
	writeFile(t, filepath.Join(dir, "sample-heroImage-abc.partial"), []byte("half"))
	writeFile(t, filepath.Join(dir, "sample-heroImage-abcdef.png"), []byte("other id"))
	writeFile(t, filepath.Join(dir, "sample-heroImage-abc.png.partial"), []byte("half"))
	writeFile(t, filepath.Join(dir, "sample-heroImage-abc.jpg"), nil)

	_, ok, err := r.Lookup("projects", "sample-heroImage-abc")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "sample-heroImage-abc.jpg"), "empty match removed")
	assert.FileExists(t, filepath.Join(dir, "sample-heroImage-abcdef.png"))
}

func TestTargetFinalize(t *testing.T) {
	r, root := newTestReconciler(t)

	target, err := r.Target("projects", "sample-thumbnailImage-FILEID123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "projects", "sample-thumbnailImage-FILEID123.partial"), target.TempPath)

	writeFile(t, target.TempPath, []byte("png bytes"))
	name, err := target.Finalize(".PNG")

	require.NoError(t, err)
	assert.Equal(t, "sample-thumbnailImage-FILEID123.png", name)
	assert.NoFileExists(t, target.TempPath)

	got, err := os.ReadFile(r.Path("projects", name))
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(got))

	hit, ok, err := r.Lookup("projects", "sample-thumbnailImage-FILEID123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, name, hit)
}

func TestTargetFinalize_MissingTemp(t *testing.T) {
	r, _ := newTestReconciler(t)
	target, err := r.Target("projects", "sample-x-1")
	require.NoError(t, err)

	_, err = target.Finalize(".png")
	assert.Error(t, err)
}

func TestTargetFinalize_RejectsTempExtension(t *testing.T) {
	r, _ := newTestReconciler(t)
	target, err := r.Target("projects", "sample-x-1")
	require.NoError(t, err)
	writeFile(t, target.TempPath, []byte("x"))

	_, err = target.Finalize(".partial")
	assert.Error(t, err)
}

func TestTargetAbandon(t *testing.T) {
	r, _ := newTestReconciler(t)
	target, err := r.Target("projects", "sample-x-1")
	require.NoError(t, err)
	writeFile(t, target.TempPath, []byte("x"))

	target.Abandon()
	assert.NoFileExists(t, target.TempPath)
	assert.NotPanics(t, target.Abandon)
}

func TestCopyAs(t *testing.T) {
	r, root := newTestReconciler(t)
	writeFile(t, filepath.Join(root, "projects", "sample-heroImage-ID1.jpg"), []byte("jpeg"))

	name, err := r.CopyAs("projects", "sample-heroImage-ID1.jpg", "sample-thumbnailImage-ID1")

	require.NoError(t, err)
	assert.Equal(t, "sample-thumbnailImage-ID1.jpg", name)
	got, err := os.ReadFile(r.Path("projects", name))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(got))
	assert.FileExists(t, filepath.Join(root, "projects", "sample-heroImage-ID1.jpg"))
}

func TestCleanStale(t *testing.T) {
	r, root := newTestReconciler(t)
	dir := filepath.Join(root, "projects")
	writeFile(t, filepath.Join(dir, "a.partial"), []byte("x"))
	writeFile(t, filepath.Join(dir, "b.partial"), []byte("x"))
	writeFile(t, filepath.Join(dir, "c.png"), []byte("x"))

	n, err := r.CleanStale("projects")

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.FileExists(t, filepath.Join(dir, "c.png"))

	n, err = r.CleanStale("missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
