package manifest

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// A Runtime pins the language runtime the platform should provision for the
// application, as declared in the runtime file ("python-3.11.4").
type Runtime struct {
	Language string `json:"language"`
	Version  string `json:"version"`
}

// ParseRuntime parses a runtime declaration of the form "language-X.Y.Z".
// The version component must be a valid semantic version.  Surrounding
// whitespace (including a trailing newline from the file) is ignored.
func ParseRuntime(s string) (Runtime, error) {
	decl := strings.TrimSpace(s)
	idx := strings.LastIndex(decl, "-")
	if idx <= 0 || idx == len(decl)-1 {
		return Runtime{}, fmt.Errorf("%q is not a language-version runtime declaration", decl)
	}
	lang, version := decl[:idx], decl[idx+1:]
	if !semver.IsValid("v" + version) {
		return Runtime{}, fmt.Errorf("%q is not a valid runtime version for %q", version, lang)
	}
	return Runtime{Language: strings.ToLower(lang), Version: version}, nil
}

// String returns the runtime pin in "language-version" wire format.
func (r Runtime) String() string {
	return r.Language + "-" + r.Version
}

// Supported reports whether the runtime's language is in the provided list of
// languages supported by the platform.  An empty list means no restriction.
func (r Runtime) Supported(languages []string) bool {
	if len(languages) == 0 {
		return true
	}
	for _, l := range languages {
		if strings.EqualFold(l, r.Language) {
			return true
		}
	}
	return false
}
