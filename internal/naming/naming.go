// Package naming parses the key-value naming convention used for raw and
// derived image files, e.g. "sub-01_slide-02_section-3_ARG.tif".
package naming

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ExclusionMarker flags files that must be skipped during ROI extraction.
const ExclusionMarker = "exclu"

var kvPattern = regexp.MustCompile(`(\w+)-(\w+)`)

// ParseKV extracts key-value pairs from the underscore separated parts of
// name. Parts without a dash are ignored.
func ParseKV(name string) map[string]string {
	kv := make(map[string]string)
	for _, part := range strings.Split(name, "_") {
		if !strings.Contains(part, "-") {
			continue
		}
		for _, m := range kvPattern.FindAllStringSubmatch(part, -1) {
			kv[m[1]] = m[2]
		}
	}
	return kv
}

// compoundExts are the multi-dot extensions stripped as a whole.
var compoundExts = []string{".nii.gz", ".ome.tif", ".ome.tiff", ".tar.gz"}

// Stem returns the base name of path without its extension. Only the last
// extension is removed, except for the compound ones such as ".nii.gz", so
// "a.nii.gz" yields "a" while "section-1.5.tif" keeps "section-1.5".
func Stem(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range compoundExts {
		if strings.HasSuffix(lower, ext) && len(base) > len(ext) {
			return base[:len(base)-len(ext)]
		}
	}
	if ext := filepath.Ext(base); len(ext) < len(base) {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

// JoinKV renders kv as "k1-v1_k2-v2" in the order given by keys.
func JoinKV(kv map[string]string, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := kv[k]; ok {
			parts = append(parts, k+"-"+v)
		}
	}
	return strings.Join(parts, "_")
}

// OrderedKeys returns the keys of name in the order they appear.
func OrderedKeys(name string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(name, "_") {
		if !strings.Contains(part, "-") {
			continue
		}
		for _, m := range kvPattern.FindAllStringSubmatch(part, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				keys = append(keys, m[1])
			}
		}
	}
	return keys
}

// Excluded reports whether any of the paths carries the exclusion marker.
func Excluded(paths ...string) bool {
	for _, p := range paths {
		if strings.Contains(p, ExclusionMarker) {
			return true
		}
	}
	return false
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
