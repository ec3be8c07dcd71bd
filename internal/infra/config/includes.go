package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// workerFragment is the shape of an included file: a list of extra workers,
// optionally pulling in further fragments.
type workerFragment struct {
	Workers  []WorkerConfig `yaml:"workers"`
	Includes []string       `yaml:"includes,omitempty"`
}

const maxIncludeDepth = 10

// loadWorkerIncludes appends the workers declared in every file matched by
// cfg.Includes, in pattern order and then lexical file order. Unlike the main
// file, fragments add workers rather than replacing the list.
func loadWorkerIncludes(cfg *Config, baseDir string, visited map[string]bool) error {
	workers, err := collectFragments(cfg.Includes, baseDir, visited, 0)
	if err != nil {
		return err
	}
	cfg.Workers = append(cfg.Workers, workers...)
	cfg.Includes = nil
	return nil
}

func collectFragments(patterns []string, baseDir string, visited map[string]bool, depth int) ([]WorkerConfig, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	var out []WorkerConfig
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return nil, fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			frag, err := readFragment(abs)
			if err != nil {
				return nil, err
			}
			out = append(out, frag.Workers...)

			if len(frag.Includes) > 0 {
				nested, err := collectFragments(frag.Includes, filepath.Dir(abs), visited, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, nested...)
			}
		}
	}
	return out, nil
}

// resolveIncludePaths resolves a pattern (which may contain globs) relative to
// baseDir. The resolved path may not escape baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		// Literal path: let readFragment report the missing file.
		return []string{pattern}, nil
	}
	return matches, nil
}

func readFragment(path string) (workerFragment, error) {
	var frag workerFragment
	if err := validatePermissions(path); err != nil {
		return frag, fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return frag, fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &frag); err != nil {
		return frag, fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	return frag, nil
}
