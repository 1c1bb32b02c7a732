// Package dupes groups files by content fingerprint and chooses a keeper
// for each group.
package dupes

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Detector groups duplicates. The zero value treats no directory as
// staging and recommends quarantine.
type Detector struct {
	staging map[string]bool
	action  types.DuplicateAction
}

// NewDetector creates a Detector. stagingDirs are directory names, matched
// case-insensitively against every directory component of a path.
func NewDetector(stagingDirs []string, action types.DuplicateAction) *Detector {
	d := &Detector{staging: make(map[string]bool, len(stagingDirs)), action: action}
	for _, name := range stagingDirs {
		d.staging[strings.ToLower(name)] = true
	}
	if d.action == "" {
		d.action = types.DuplicateQuarantine
	}
	return d
}

// Groups returns every fingerprint shared by two or more files, sorted by
// fingerprint. Files without a fingerprint are ignored.
func (d *Detector) Groups(files []types.ManagedFile) []types.DuplicateGroup {
	byFP := make(map[string][]types.ManagedFile)
	for _, f := range files {
		if f.Fingerprint == "" {
			continue
		}
		byFP[f.Fingerprint] = append(byFP[f.Fingerprint], f)
	}

	groups := make([]types.DuplicateGroup, 0)
	for fp, members := range byFP {
		if len(members) < 2 {
			continue
		}

		sort.Slice(members, func(i, j int) bool {
			return d.keeperLess(members[i], members[j])
		})

		groups = append(groups, types.DuplicateGroup{
			Fingerprint: fp,
			Size:        members[0].Size,
			Keeper:      members[0],
			Others:      members[1:],
			Action:      d.action,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Fingerprint < groups[j].Fingerprint
	})

	return groups
}

// keeperLess orders a before b when a is the better keeper: outside a
// staging directory, then older, then shallower, then lexically smaller.
func (d *Detector) keeperLess(a, b types.ManagedFile) bool {
	if sa, sb := d.InStaging(a.Path), d.InStaging(b.Path); sa != sb {
		return !sa
	}
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.Before(b.ModTime)
	}
	if da, db := depth(a.Path), depth(b.Path); da != db {
		return da < db
	}
	return a.Path < b.Path
}

// InStaging reports whether any directory component of path is a staging
// directory.
func (d *Detector) InStaging(path string) bool {
	if len(d.staging) == 0 {
		return false
	}
	dir := filepath.Dir(filepath.Clean(path))
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if d.staging[strings.ToLower(part)] {
			return true
		}
	}
	return false
}

func depth(path string) int {
	return strings.Count(filepath.ToSlash(filepath.Clean(path)), "/")
}
