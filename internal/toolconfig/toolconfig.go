// Package toolconfig loads this tool's own settings from a
// `.lci-cfg.kdl` file: the include search path, depth bound, plugin
// candidates, and persist-store defaults that cmd/lcicfg applies
// before it ever opens a configuration file.
package toolconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

const fileName = ".lci-cfg.kdl"

// PluginCandidate maps a plugin name to the module path that provides
// it, mirroring registry.RegisterCandidate's arguments.
type PluginCandidate struct {
	ContextType string
	Name        string
	ModulePath  string
}

// Config is this tool's own settings, as opposed to anything found in
// a configuration file it is asked to load.
type Config struct {
	IncludePath       string
	MaxIncludeDepth   int
	PersistPath       string
	PersistWriteVersion string // "v4" or "v5"
	PersistLoadAll    bool
	PluginSearchPaths []string
	PluginCandidates  []PluginCandidate
	DebugLog          bool
}

// Default returns the settings used when no .lci-cfg.kdl is found.
func Default() *Config {
	return &Config{
		MaxIncludeDepth:     256,
		PersistPath:         "lci-cfg.persist",
		PersistWriteVersion: "v5",
	}
}

// Load reads .lci-cfg.kdl from dir, falling back to Default() if the
// file doesn't exist. Relative include-path entries and a relative
// persist path are resolved against dir; plugin search paths are kept
// as written.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, fileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
	}

	cfg, err := parse(string(content))
	if err != nil {
		return nil, err
	}

	if cfg.IncludePath != "" {
		resolved := make([]string, 0)
		for _, p := range strings.Split(cfg.IncludePath, string(os.PathListSeparator)) {
			if p == "" {
				continue
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			resolved = append(resolved, p)
		}
		cfg.IncludePath = strings.Join(resolved, string(os.PathListSeparator))
	}
	if cfg.PersistPath != "" && !filepath.IsAbs(cfg.PersistPath) {
		cfg.PersistPath = filepath.Join(dir, cfg.PersistPath)
	}

	return cfg, nil
}

func parse(content string) (*Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fileName, err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "include":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "path":
					if s, ok := firstStringArg(cn); ok {
						cfg.IncludePath = s
					}
				case "max_depth":
					if v, ok := firstIntArg(cn); ok {
						cfg.MaxIncludeDepth = v
					}
				}
			}
		case "persist":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "path":
					if s, ok := firstStringArg(cn); ok {
						cfg.PersistPath = s
					}
				case "write_version":
					if s, ok := firstStringArg(cn); ok {
						cfg.PersistWriteVersion = s
					}
				case "load_all":
					if b, ok := firstBoolArg(cn); ok {
						cfg.PersistLoadAll = b
					}
				}
			}
		case "plugins":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "search_path":
					cfg.PluginSearchPaths = append(cfg.PluginSearchPaths, collectStringArgs(cn)...)
				case "candidate":
					if len(cn.Arguments) >= 3 {
						ctxType, _ := stringArg(cn, 0)
						name, _ := stringArg(cn, 1)
						modulePath, _ := stringArg(cn, 2)
						cfg.PluginCandidates = append(cfg.PluginCandidates, PluginCandidate{
							ContextType: ctxType,
							Name:        name,
							ModulePath:  modulePath,
						})
					}
				}
			}
		case "debug":
			if b, ok := firstBoolArg(n); ok {
				cfg.DebugLog = b
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func stringArg(n *document.Node, i int) (string, bool) {
	if n == nil || i >= len(n.Arguments) {
		return "", false
	}
	s, ok := n.Arguments[i].Value.(string)
	return s, ok
}

func firstStringArg(n *document.Node) (string, bool) {
	return stringArg(n, 0)
}

func firstIntArg(n *document.Node) (int, bool) {
	if n == nil || len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if n == nil || len(n.Arguments) == 0 {
		return false, false
	}
	b, ok := n.Arguments[0].Value.(bool)
	return b, ok
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ParseSize parses a byte count with an optional "GB", "MB", "KB" or
// "B" suffix (case-insensitive, binary multiples), e.g. "10MB" or
// "500KB".
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	var multiplier int64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
