package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/lci-cfg/internal/cfg"
	"github.com/standardbeagle/lci-cfg/internal/cfglog"
	"github.com/standardbeagle/lci-cfg/internal/persist"
	"github.com/standardbeagle/lci-cfg/internal/toolconfig"
	"github.com/standardbeagle/lci-cfg/pkg/pathutil"
)

// displayPath reports path relative to the current directory when
// possible, since diagnostics read better that way than as an
// absolute path resolved against an include search path.
func displayPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	return pathutil.ToRelative(abs, wd)
}

func loadGlobalConfig(c *cli.Context) (*cfg.GlobalConfig, error) {
	dir := c.String("tool-config-dir")
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	}
	tool, err := toolconfig.Load(dir)
	if err != nil {
		return nil, err
	}

	g := cfg.New(tool)
	g.TargetVersion = c.String("target-version")
	return g, nil
}

func main() {
	app := &cli.App{
		Name:  "lcicfg",
		Usage: "lex, validate, and start configuration files; inspect persist stores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tool-config-dir",
				Usage: "directory containing .lci-cfg.kdl",
				Value: ".",
			},
			&cli.StringFlag{
				Name:  "target-version",
				Usage: "expected @version pragma value; a mismatch is logged, not fatal",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "lex a configuration file to completion, reporting the first error",
				ArgsUsage: "<path>",
				Action:    validateCommand,
			},
			{
				Name:      "load",
				Usage:     "validate a configuration file, open its persist store, and start its pipeline tree",
				ArgsUsage: "<path>",
				Action:    loadCommand,
			},
			{
				Name:      "persist-dump",
				Usage:     "dump a persist store's entries",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Usage: "json or toml", Value: "json"},
					&cli.BoolFlag{Name: "all", Usage: "include entries marked unused on disk"},
				},
				Action: persistDumpCommand,
			},
			{
				Name:      "persist-upgrade",
				Usage:     "reopen a persist store and rewrite it in the current default format",
				ArgsUsage: "<path>",
				Action:    persistUpgradeCommand,
			},
			{
				Name:      "watch",
				Usage:     "load a configuration file, then reload it whenever it changes",
				ArgsUsage: "<path>",
				Action:    watchCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: lcicfg validate <path>", 1)
	}
	g, err := loadGlobalConfig(c)
	if err != nil {
		return err
	}
	path := c.Args().First()
	if err := g.Validate(path); err != nil {
		return err
	}
	fmt.Printf("ok: %s\n", displayPath(path))
	return nil
}

func loadCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: lcicfg load <path>", 1)
	}
	g, err := loadGlobalConfig(c)
	if err != nil {
		return err
	}
	path := c.Args().First()
	if err := g.Validate(path); err != nil {
		return err
	}
	if err := g.OpenPersist(); err != nil {
		return err
	}
	if err := g.Tree.Start(); err != nil {
		return err
	}
	fmt.Printf("loaded: %s\n", displayPath(path))
	return nil
}

type persistEntryDump struct {
	Name    string `json:"name" toml:"name"`
	Size    uint32 `json:"size" toml:"size"`
	Version uint8  `json:"version" toml:"version"`
	InUse   bool   `json:"in_use" toml:"in_use"`
}

func persistDumpCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: lcicfg persist-dump <path>", 1)
	}
	store, err := persist.LoadStore(c.Args().First(), persist.LoadOptions{LoadAll: c.Bool("all")})
	if err != nil {
		return err
	}

	entries := store.List()
	dump := make([]persistEntryDump, 0, len(entries))
	for _, e := range entries {
		dump = append(dump, persistEntryDump{Name: e.Name, Size: e.Size, Version: uint8(e.Version), InUse: e.InUse})
	}

	if c.String("format") == "toml" {
		return toml.NewEncoder(os.Stdout).Encode(struct {
			Entries []persistEntryDump `toml:"entries"`
		}{dump})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}

func persistUpgradeCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: lcicfg persist-upgrade <path>", 1)
	}
	path := c.Args().First()
	store, err := persist.LoadStore(path, persist.LoadOptions{})
	if err != nil {
		return err
	}
	store.SetWriteVersion(persist.VersionV5)
	if err := store.Commit(); err != nil {
		return err
	}
	fmt.Println("upgraded")
	return nil
}

// watchCommand implements spec.md §2's reload data-flow: a new
// GlobalConfig must load and start to completion before the running
// one is touched, so a broken edit leaves the prior config serving.
func watchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: lcicfg watch <path>", 1)
	}
	path := c.Args().First()

	g, err := loadGlobalConfig(c)
	if err != nil {
		return err
	}
	if err := g.Validate(path); err != nil {
		return err
	}
	if err := g.OpenPersist(); err != nil {
		return err
	}
	if err := g.Tree.Start(); err != nil {
		return err
	}
	fmt.Printf("watching %s\n", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			next, err := cfg.Reload(g, path)
			if err != nil {
				cfglog.Error("reload failed, keeping running configuration: %v", err)
				continue
			}
			g = next
			fmt.Println("reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cfglog.Error("watch error: %v", err)
		}
	}
}
