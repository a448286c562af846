package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// ErrNotFound is returned when a named entry does not exist in a manifest.
var ErrNotFound = errors.New("no such entry")

// reVersionPin matches an exact version pin: dotted release digits with an optional
// pre/post/dev suffix, ex: 1.27.0, 2.0.3, 1.11.1rc1, 3.7.post2
var reVersionPin = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*((a|b|rc)[0-9]+)?(\.post[0-9]+)?(\.dev[0-9]+)?$`)

// An Entry is a single dependency declaration: a package name pinned to an exact version.
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String returns the entry in "[name]==[version]" wire format.
func (e Entry) String() string {
	return e.Name + "==" + e.Version
}

// A Manifest is an ordered list of pinned dependencies, as declared by the
// application's requirements file.  It is read by the platform's build step to
// install the required libraries before running the application.
type Manifest struct {
	Entries []Entry `json:"entries"`
}

// Parse reads a dependency manifest from r.  The expected format is one
// "name==version" declaration per line.  Blank lines and lines starting with
// '#' are ignored.
//
// Each package name may appear at most once (comparison is case-insensitive,
// matching the target ecosystem's name normalization) and every version must
// be an exact, syntactically valid pin.  Violations are reported with the
// offending line number.
func Parse(r io.Reader) (Manifest, error) {
	var (
		m    Manifest
		seen = make(map[string]int)
	)
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// allow trailing comments, ex: "numpy==1.24.3  # pinned for ABI compat"
		if idx := strings.Index(line, "#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}

		name, version, ok := strings.Cut(line, "==")
		if !ok {
			return Manifest{}, fmt.Errorf("line %d: %q is not a name==version declaration", n, line)
		}
		name, version = strings.TrimSpace(name), strings.TrimSpace(version)
		if name == "" {
			return Manifest{}, fmt.Errorf("line %d: missing package name", n)
		}
		if prev, dup := seen[normalizeName(name)]; dup {
			return Manifest{}, fmt.Errorf("line %d: duplicate declaration of %q (first declared on line %d)", n, name, prev)
		}
		if !reVersionPin.MatchString(version) {
			return Manifest{}, fmt.Errorf("line %d: %q is not a valid version pin for %q", n, version, name)
		}
		seen[normalizeName(name)] = n
		m.Entries = append(m.Entries, Entry{Name: name, Version: version})
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, fmt.Errorf("error reading manifest: %w", err)
	}
	return m, nil
}

// ParseString parses a dependency manifest from the provided string.
func ParseString(s string) (Manifest, error) {
	return Parse(strings.NewReader(s))
}

// String returns the canonical text form of the manifest, one declaration per
// line in the original order.  Parsing the result yields an equal manifest.
func (m Manifest) String() string {
	var sb strings.Builder
	for _, e := range m.Entries {
		sb.WriteString(e.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Version returns the pinned version of the named package.  Name matching is
// case-insensitive.  Returns ErrNotFound if the package is not declared.
func (m Manifest) Version(name string) (string, error) {
	want := normalizeName(name)
	for _, e := range m.Entries {
		if normalizeName(e.Name) == want {
			return e.Version, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// A Diff describes the dependency changes between two manifests.
type Diff struct {
	// entries present in the new manifest but not the old
	Added []Entry
	// entries present in the old manifest but not the new
	Removed []Entry
	// entries present in both but with a different pinned version; the
	// entries carry the new version
	Changed []Entry
}

// Empty reports whether the diff contains no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// String returns a one-line-per-change summary in "[+|-|~] name==version" format,
// sorted by package name within each group.
func (d Diff) String() string {
	var sb strings.Builder
	for _, e := range d.Added {
		fmt.Fprintf(&sb, "+ %s\n", e)
	}
	for _, e := range d.Removed {
		fmt.Fprintf(&sb, "- %s\n", e)
	}
	for _, e := range d.Changed {
		fmt.Fprintf(&sb, "~ %s\n", e)
	}
	return sb.String()
}

// Compare computes the changes from old to new.  The result groups are sorted
// by package name so that output is deterministic regardless of declaration
// order.
func Compare(old, new Manifest) Diff {
	oldByName := make(map[string]Entry, len(old.Entries))
	for _, e := range old.Entries {
		oldByName[normalizeName(e.Name)] = e
	}
	var d Diff
	newNames := make(map[string]struct{}, len(new.Entries))
	for _, e := range new.Entries {
		key := normalizeName(e.Name)
		newNames[key] = struct{}{}
		prev, exists := oldByName[key]
		switch {
		case !exists:
			d.Added = append(d.Added, e)
		case prev.Version != e.Version:
			d.Changed = append(d.Changed, e)
		}
	}
	for key, e := range oldByName {
		if _, exists := newNames[key]; !exists {
			d.Removed = append(d.Removed, e)
		}
	}
	byName := func(entries []Entry) func(i, j int) bool {
		return func(i, j int) bool { return entries[i].Name < entries[j].Name }
	}
	sort.Slice(d.Added, byName(d.Added))
	sort.Slice(d.Removed, byName(d.Removed))
	sort.Slice(d.Changed, byName(d.Changed))
	return d
}

// normalizeName lower-cases a package name and collapses the interchangeable
// separator characters so that "Foo_Bar" and "foo-bar" compare equal.
func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}
