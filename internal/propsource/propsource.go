// Package propsource is a reference veld.PropertySource: a YAML-backed,
// profile-overlaid property tree, grounded on alexisbeaulieu97-Streamy's
// internal/config parser (yaml.Unmarshal into a typed struct, wrapped
// parse-error reporting) generalized to an untyped property tree plus
// profile-overlay merging via dario.cat/mergo, since §4.E's property-match
// and profile-match conditions need a flat name->value lookup rather than a
// fixed config schema.
package propsource

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseError reports a YAML syntax or I/O failure while loading one file.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("propsource: %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("propsource: %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Source is a flattened, profile-overlaid property tree. It implements
// veld.PropertySource (Get/Has/ActiveProfiles) without importing package
// veld, so it can be reused by any other boot-time collaborator that wants
// a plain name->value lookup.
type Source struct {
	flat     map[string]string
	profiles []string
}

// Load reads basePath as the default property tree, then overlays, in
// order, one file per entry in activeProfiles named "<dir>/<base>-<profile>.
// <ext>" (Spring Boot's application-<profile>.yml convention), each merged
// over the running tree with dario.cat/mergo.WithOverride so a later
// profile's keys win over the base and over earlier profiles. Missing
// overlay files are not an error — a profile with no matching file simply
// contributes nothing.
func Load(basePath string, activeProfiles ...string) (*Source, error) {
	merged, err := loadYAML(basePath)
	if err != nil {
		return nil, err
	}

	for _, profile := range activeProfiles {
		overlayPath := profileOverlayPath(basePath, profile)
		if _, statErr := os.Stat(overlayPath); statErr != nil {
			continue
		}
		overlay, err := loadYAML(overlayPath)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(&merged, overlay, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("propsource: merging profile %q: %w", profile, err)
		}
	}

	flat := map[string]string{}
	flatten("", merged, flat)

	return &Source{flat: flat, profiles: append([]string(nil), activeProfiles...)}, nil
}

func loadYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Path: path, Line: extractLine(err), Err: err}
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func profileOverlayPath(basePath, profile string) string {
	ext := ""
	stem := basePath
	if idx := strings.LastIndex(basePath, "."); idx >= 0 {
		ext = basePath[idx:]
		stem = basePath[:idx]
	}
	return stem + "-" + profile + ext
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	line, scanErr := strconv.Atoi(matches[1])
	if scanErr != nil {
		return 0
	}
	return line
}

// flatten walks a decoded YAML tree into dot-separated keys, matching the
// "${a.b.c}" property-path convention §4.E's property-match condition names
// its keys with.
func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, v[k], out)
		}
	case map[any]any: // yaml.v3 can decode untyped maps with non-string keys
		keys := make([]string, 0, len(v))
		lookup := make(map[string]any, len(v))
		for k, val := range v {
			ks := fmt.Sprint(k)
			keys = append(keys, ks)
			lookup[ks] = val
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, lookup[k], out)
		}
	case []any:
		for i, item := range v {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), item, out)
		}
	case nil:
		return
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

// Get returns the string value at name, or ("", false) if unset.
func (s *Source) Get(name string) (string, bool) {
	v, ok := s.flat[name]
	return v, ok
}

// Has reports whether name resolves to any value.
func (s *Source) Has(name string) bool {
	_, ok := s.flat[name]
	return ok
}

// ActiveProfiles returns the profiles this Source was loaded with.
func (s *Source) ActiveProfiles() []string { return s.profiles }
