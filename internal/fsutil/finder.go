// Package fsutil provides file system utility functions.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// DefaultExtensions are the document extensions searched in directories.
var DefaultExtensions = []string{".md", ".markdown"}

// FindFilesByExtension recursively searches the given root path for all files ending
// with one of the specified extensions. It returns a slice of their full paths.
func FindFilesByExtension(rootPath string, extensions ...string) ([]string, error) {
	if len(extensions) == 0 {
		panic("at least one extension is required")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != rootPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.ContainsFunc(extensions, func(ext string) bool { return strings.HasSuffix(d.Name(), ext) }) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// FindDocuments expands paths into the sorted, de-duplicated list of document
// files. Directories are searched recursively for the given extensions, hidden
// directories excluded; file paths are taken as they are.
func FindDocuments(paths []string, extensions ...string) ([]string, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	var docs []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot read input %s: %w", p, err)
		}
		if !info.IsDir() {
			docs = append(docs, filepath.Clean(p))
			continue
		}
		found, err := FindFilesByExtension(p, extensions...)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", p, err)
		}
		docs = append(docs, found...)
	}

	sort.Strings(docs)
	return slices.Compact(docs), nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp_*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
