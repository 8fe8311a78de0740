// Package config loads typecore.conf, the resolver/checker
// configuration file: TOML, merged upward through parent directories,
// with an explicit "inherit" marker for list-valued options.
package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Config is the typecore.conf schema.
type Config struct {
	Checker  CheckerConfig  `toml:"checker"`
	Resolver ResolverConfig `toml:"resolver"`
}

// CheckerConfig mirrors dex/typecheck.Options.
type CheckerConfig struct {
	ValidateAccess       bool `toml:"validate_access"`
	VerifyMoves          bool `toml:"verify_moves"`
	CheckNoOverwriteThis bool `toml:"check_no_overwrite_this"`
}

// ResolverConfig mirrors dex/resolve.Options.
type ResolverConfig struct {
	RefineToExternal  bool     `toml:"refine_to_external"`
	Desuperify        bool     `toml:"desuperify"`
	SpecializeRtype   bool     `toml:"specialize_rtype"`
	ExcludedExternals []string `toml:"excluded_externals"`
}

var defaultConfig = Config{
	Checker: CheckerConfig{
		ValidateAccess:       false,
		VerifyMoves:          false, // the platform verifier tolerates moves of undefined values
		CheckNoOverwriteThis: false,
	},
	Resolver: ResolverConfig{
		RefineToExternal:  false,
		Desuperify:        true,
		SpecializeRtype:   false,
		ExcludedExternals: []string{},
	},
}

type parsed struct {
	cfg  Config
	meta toml.MetaData
}

func mergeLists(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, el := range b {
		if el == "inherit" {
			out = append(out, a...)
		} else {
			out = append(out, el)
		}
	}
	return out
}

func normalizeList(list []string) []string {
	if len(list) <= 1 {
		return list
	}
	sort.Strings(list)
	out := make([]string, 0, len(list))
	out = append(out, list[0])
	for i, el := range list[1:] {
		if el != list[i] {
			out = append(out, el)
		}
	}
	return out
}

func (p parsed) merge(o parsed) parsed {
	if o.meta.IsDefined("checker", "validate_access") {
		p.cfg.Checker.ValidateAccess = o.cfg.Checker.ValidateAccess
	}
	if o.meta.IsDefined("checker", "verify_moves") {
		p.cfg.Checker.VerifyMoves = o.cfg.Checker.VerifyMoves
	}
	if o.meta.IsDefined("checker", "check_no_overwrite_this") {
		p.cfg.Checker.CheckNoOverwriteThis = o.cfg.Checker.CheckNoOverwriteThis
	}
	if o.meta.IsDefined("resolver", "refine_to_external") {
		p.cfg.Resolver.RefineToExternal = o.cfg.Resolver.RefineToExternal
	}
	if o.meta.IsDefined("resolver", "desuperify") {
		p.cfg.Resolver.Desuperify = o.cfg.Resolver.Desuperify
	}
	if o.meta.IsDefined("resolver", "specialize_rtype") {
		p.cfg.Resolver.SpecializeRtype = o.cfg.Resolver.SpecializeRtype
	}
	if o.meta.IsDefined("resolver", "excluded_externals") {
		p.cfg.Resolver.ExcludedExternals = mergeLists(p.cfg.Resolver.ExcludedExternals, o.cfg.Resolver.ExcludedExternals)
	}
	return p
}

const configName = "typecore.conf"

func parseConfigs(dir string) ([]parsed, error) {
	var out []parsed
	for dir != "" {
		f, err := os.Open(filepath.Join(dir, configName))
		if os.IsNotExist(err) {
			ndir := filepath.Dir(dir)
			if ndir == dir {
				break
			}
			dir = ndir
			continue
		}
		if err != nil {
			return nil, err
		}
		var cfg Config
		meta, err := toml.DecodeReader(f, &cfg)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, parsed{cfg, meta})

		ndir := filepath.Dir(dir)
		if ndir == dir {
			break
		}
		dir = ndir
	}
	out = append(out, parsed{cfg: defaultConfig})

	for i := 0; i < len(out)/2; i++ {
		out[i], out[len(out)-1-i] = out[len(out)-1-i], out[i]
	}
	return out, nil
}

// Load reads typecore.conf starting at dir and walking upward through
// parent directories, merging each level found over the default
// configuration. The nearest directory wins for scalar fields; list
// fields replace inherited values unless they include the "inherit"
// element.
func Load(dir string) (Config, error) {
	confs, err := parseConfigs(dir)
	if err != nil {
		return Config{}, err
	}
	cfg := confs[0]
	for _, o := range confs[1:] {
		cfg = cfg.merge(o)
	}
	cfg.cfg.Resolver.ExcludedExternals = normalizeList(cfg.cfg.Resolver.ExcludedExternals)
	return cfg.cfg, nil
}
