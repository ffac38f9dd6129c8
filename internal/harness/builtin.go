package harness

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed scenarios/*.yaml
var builtinFS embed.FS

// builtinOrder lists the built-in scenarios from the simplest to the most
// demanding. Any embedded scenario not listed here follows, sorted by name.
var builtinOrder = []string{"basic_flow", "backpressure", "long_stall", "stress", "idle_reset"}

// Builtin returns the embedded scenarios.
func Builtin() ([]*Scenario, error) {
	entries, err := fs.ReadDir(builtinFS, "scenarios")
	if err != nil {
		return nil, fmt.Errorf("reading built-in scenarios: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		path := "scenarios/" + e.Name()
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		sc, err := ParseScenario(path, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, sc)
	}
	rank := func(name string) int {
		for i, n := range builtinOrder {
			if n == name {
				return i
			}
		}
		return len(builtinOrder)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Name), rank(out[j].Name)
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// BuiltinScenario returns the embedded scenario with the given name.
func BuiltinScenario(name string) (*Scenario, error) {
	all, err := Builtin()
	if err != nil {
		return nil, err
	}
	for _, sc := range all {
		if sc.Name == name {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("unknown built-in scenario %q", name)
}

// LoadScenarios loads scenario files. A directory contributes every .yaml
// and .yml file directly inside it, in name order.
func LoadScenarios(paths ...string) ([]*Scenario, error) {
	var out []*Scenario
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file: %w", err)
		}
		files := []string{p}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return nil, fmt.Errorf("reading scenario directory: %w", err)
			}
			files = files[:0]
			for _, e := range entries {
				ext := strings.ToLower(filepath.Ext(e.Name()))
				if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
					continue
				}
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
		for _, f := range files {
			sc, err := LoadScenario(f)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f, err)
			}
			out = append(out, sc)
		}
	}
	return out, nil
}
