// Package cache maps (record, field, file id) to a deterministic file under the assets
// directory and decides whether a download is needed at all.
package cache

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/folioworks/asset-sync/pkg/utils"
)

// Reconciler owns the on-disk layout <root>/<namespace>/<slug>-<field>-<id><ext>.
// It assumes a single process works on root at a time.
type Reconciler struct {
	root         string
	publicPrefix string
	tempExt      string
	log          *logrus.Logger
}

// NewReconciler creates a Reconciler. tempExt must include the leading dot.
func NewReconciler(root, publicPrefix, tempExt string, log *logrus.Logger) *Reconciler {
	return &Reconciler{
		root:         root,
		publicPrefix: "/" + strings.Trim(publicPrefix, "/"),
		tempExt:      tempExt,
		log:          log,
	}
}

// BaseName returns the extension-less cache name for one media reference
func BaseName(slug, field, fileID string) string {
	return fmt.Sprintf("%s-%s-%s", slug, utils.SanitizeFilename(field), fileID)
}

// Dir returns the directory holding a namespace's assets
func (r *Reconciler) Dir(namespace string) string {
	return filepath.Join(r.root, namespace)
}

// PublicPath returns the site-relative URL of a cached file, e.g. /assets/projects/x.png
func (r *Reconciler) PublicPath(namespace, name string) string {
	return path.Join(r.publicPrefix, namespace, name)
}

// Lookup finds an existing non-empty file named base or base.<ext>. A missing namespace
// directory is a miss. Empty matches are removed so they cannot shadow a later download.
func (r *Reconciler) Lookup(namespace, base string) (string, bool, error) {
	dir := r.Dir(namespace)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: read cache dir '%s': %w", utils.ErrFilesystem, dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !r.matches(name, base) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			r.log.WithFields(logrus.Fields{"namespace": namespace, "file": name}).Debug("Removing empty cache entry")
			os.Remove(filepath.Join(dir, name))
			continue
		}
		return name, true, nil
	}
	return "", false, nil
}

// matches reports whether name is base itself or base plus one extension. Requiring the dot
// keeps id "abc" from matching a cached "…-abcdef.png".
func (r *Reconciler) matches(name, base string) bool {
	if strings.HasSuffix(name, r.tempExt) {
		return false
	}
	if name == base {
		return true
	}
	if !strings.HasPrefix(name, base+".") {
		return false
	}
	return !strings.Contains(name[len(base)+1:], ".")
}

// Target is a pending download: the body goes to TempPath, then Finalize gives it its real name.
type Target struct {
	Namespace string
	Base      string
	TempPath  string
	r         *Reconciler
}

// Target prepares the namespace directory and returns where to stream the body
func (r *Reconciler) Target(namespace, base string) (*Target, error) {
	dir := r.Dir(namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create cache dir '%s': %w", utils.ErrFilesystem, dir, err)
	}
	return &Target{
		Namespace: namespace,
		Base:      base,
		TempPath:  filepath.Join(dir, base+r.tempExt),
		r:         r,
	}, nil
}

// Finalize renames the temporary file to base+ext and returns the final file name
func (t *Target) Finalize(ext string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == t.r.tempExt {
		return "", fmt.Errorf("%w: final extension equals temp extension '%s'", utils.ErrFilesystem, ext)
	}
	name := t.Base + strings.ToLower(ext)
	final := filepath.Join(t.r.Dir(t.Namespace), name)
	if err := os.Rename(t.TempPath, final); err != nil {
		os.Remove(t.TempPath)
		return "", fmt.Errorf("%w: finalize '%s': %w", utils.ErrFilesystem, name, err)
	}
	return name, nil
}

// Abandon removes the temporary file, if any
func (t *Target) Abandon() {
	if err := os.Remove(t.TempPath); err != nil && !os.IsNotExist(err) {
		t.r.log.WithField("path", t.TempPath).Warnf("Failed to remove temp file: %v", err)
	}
}

// Path returns the absolute location of a cached file
func (r *Reconciler) Path(namespace, name string) string {
	return filepath.Join(r.Dir(namespace), name)
}

// CopyAs duplicates an already cached file under another base name, keeping its extension.
// Used when one file id appears in several fields of a record.
func (r *Reconciler) CopyAs(namespace, srcName, base string) (string, error) {
	name := base + path.Ext(srcName)
	if name == srcName {
		return name, nil
	}
	t, err := r.Target(namespace, base)
	if err != nil {
		return "", err
	}

	src, err := os.Open(r.Path(namespace, srcName))
	if err != nil {
		return "", fmt.Errorf("%w: open '%s': %w", utils.ErrFilesystem, srcName, err)
	}
	defer src.Close()

	dst, err := os.Create(t.TempPath)
	if err != nil {
		return "", fmt.Errorf("%w: create '%s': %w", utils.ErrFilesystem, t.TempPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		t.Abandon()
		return "", fmt.Errorf("%w: copy '%s': %w", utils.ErrFilesystem, srcName, err)
	}
	if err := dst.Close(); err != nil {
		t.Abandon()
		return "", fmt.Errorf("%w: close '%s': %w", utils.ErrFilesystem, t.TempPath, err)
	}
	return t.Finalize(path.Ext(srcName))
}

// CleanStale removes temporary files left behind by an interrupted run. Returns how many were removed.
func (r *Reconciler) CleanStale(namespace string) (int, error) {
	dir := r.Dir(namespace)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: read cache dir '%s': %w", utils.ErrFilesystem, dir, err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), r.tempExt) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			r.log.WithField("file", entry.Name()).Warnf("Failed to remove stale temp file: %v", err)
			continue
		}
		removed++
	}
	return removed, nil
}
