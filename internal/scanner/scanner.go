package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Scanner finds raw message files under a directory
type Scanner struct {
	rootPath   string
	extensions map[string]bool
}

// NewScanner creates a scanner for rootPath matching the given file
// extensions, case-insensitively. With no extensions it matches .eml.
func NewScanner(rootPath string, extensions ...string) *Scanner {
	if len(extensions) == 0 {
		extensions = []string{".eml"}
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Scanner{
		rootPath:   rootPath,
		extensions: exts,
	}
}

// RootPath returns the directory being scanned
func (s *Scanner) RootPath() string {
	return s.rootPath
}

func (s *Scanner) match(name string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(name))]
}

// Scan recursively lists matching files as absolute paths in lexical order.
// Hidden directories are skipped.
func (s *Scanner) Scan() ([]string, error) {
	absRoot, err := filepath.Abs(s.rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute root path: %w", err)
	}

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if d.IsDir() {
			if path != absRoot && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.match(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// Count counts matching files without collecting them
func (s *Scanner) Count() (int, error) {
	count := 0
	err := filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.rootPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.match(d.Name()) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}
