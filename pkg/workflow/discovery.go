// Package workflow runs the per-subject preprocessing: calibration from the
// standards, conversion of the slide images to activity, and the output
// files.
package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"qarprep/internal/naming"
)

// ErrNoSlideFound is returned when a subject has no slide images.
var ErrNoSlideFound = errors.New("no slide images found")

// Subject groups the raw images found in one directory.
type Subject struct {
	ID    string
	Dir   string
	Files []string
}

// Standards returns the files whose stem mentions "standard".
func (s Subject) Standards() []string {
	var out []string
	for _, f := range s.Files {
		if strings.Contains(naming.Stem(f), "standard") {
			out = append(out, f)
		}
	}
	return out
}

// Slides returns the files whose stem mentions "slide" and that are not
// standards.
func (s Subject) Slides() []string {
	var out []string
	for _, f := range s.Files {
		stem := naming.Stem(f)
		if strings.Contains(stem, "slide") && !strings.Contains(stem, "standard") {
			out = append(out, f)
		}
	}
	return out
}

// DiscoverSubjects walks sourceDir for raw images and groups them by parent
// directory; the directory name is the subject id. When filter is
// non-empty only the listed subjects are returned, with or without the
// "sub-" prefix.
func DiscoverSubjects(sourceDir string, extensions []string, filter []string) ([]Subject, error) {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}

	byDir := make(map[string][]string)
	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		dir := filepath.Dir(path)
		byDir[dir] = append(byDir[dir], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error searching %s: %w", sourceDir, err)
	}

	wanted := make(map[string]bool, len(filter))
	for _, id := range filter {
		wanted[strings.TrimPrefix(id, "sub-")] = true
	}

	var subjects []Subject
	for dir, files := range byDir {
		id := filepath.Base(dir)
		if len(wanted) > 0 && !wanted[strings.TrimPrefix(id, "sub-")] {
			continue
		}
		sort.Strings(files)
		subjects = append(subjects, Subject{ID: id, Dir: dir, Files: files})
	}
	sort.Slice(subjects, func(i, j int) bool {
		return subjects[i].Dir < subjects[j].Dir
	})
	return subjects, nil
}

// groupBySlide maps each "slide" key value to the indices of the files
// carrying it. Files without the key are returned separately.
func groupBySlide(files []string) (map[string][]int, []string) {
	groups := make(map[string][]int)
	var unkeyed []string
	for i, f := range files {
		slide, ok := naming.ParseKV(naming.Stem(f))["slide"]
		if !ok {
			unkeyed = append(unkeyed, f)
			continue
		}
		groups[slide] = append(groups[slide], i)
	}
	return groups, unkeyed
}
