// Package config decodes and validates the builder's YAML project file,
// generalizing the teacher's pkg/core distro/package-manager table
// (static Go maps keyed by name) into a user-authored map<name, Pkgbuild>
// decoded at runtime, per spec.md §6's schema.
package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
)

var configLog = logger.WithComponent("config")

// DephashPolicy mirrors alpm.HashPolicy's three string spellings as they
// appear in YAML.
type DephashPolicy string

const (
	DephashStrict DephashPolicy = "strict"
	DephashLoose  DephashPolicy = "loose"
	DephashNone   DephashPolicy = "none"
)

// Pkgbuild is one entry of the config's pkgbuilds map. URL is required;
// the rest narrow or extend the default build for that one PKGBUILD.
type Pkgbuild struct {
	URL       string   `yaml:"url" validate:"required"`
	Branch    string   `yaml:"branch,omitempty"`
	Subtree   string   `yaml:"subtree,omitempty"`
	Deps      []string `yaml:"deps,omitempty"`
	MakeDeps  []string `yaml:"makedeps,omitempty"`
	HomeBinds []string `yaml:"home_binds,omitempty"`
	Binds     []string `yaml:"binds,omitempty"`
}

// UnmarshalYAML accepts either a bare URL string (the shorthand spec.md
// §6 describes) or a full record.
func (p *Pkgbuild) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.URL = value.Value
		return nil
	}

	type plain Pkgbuild

	return value.Decode((*plain)(p))
}

// Config is the full decoded project file, per spec.md §6. Several
// fields accept an alternate YAML spelling (SkipInt/lazyint,
// LazyProxy/proxy_after, HomeBinds/home_binds, Dephash/dephash_strategy);
// Load folds whichever spelling was present onto the canonical field.
type Config struct {
	HoldPkg bool `yaml:"holdpkg"`
	HoldGit bool `yaml:"holdgit"`
	SkipInt bool `yaml:"skipint"`
	NoBuild bool `yaml:"nobuild"`
	NoClean bool `yaml:"noclean"`
	NoNet   bool `yaml:"nonet"`

	Sign      string `yaml:"sign,omitempty"`
	Gmr       string `yaml:"gmr,omitempty"`
	Proxy     string `yaml:"proxy,omitempty"`
	LazyProxy uint   `yaml:"lazyproxy,omitempty"`

	BasePkgs  []string `yaml:"basepkgs"`
	HomeBinds []string `yaml:"homebinds"`

	Dephash DephashPolicy `yaml:"dephash" validate:"omitempty,oneof=strict loose none"`

	Paconf string `yaml:"paconf,omitempty"`

	Pkgbuilds map[string]Pkgbuild `yaml:"pkgbuilds" validate:"required,min=1,dive"`
}

// rawConfig mirrors Config field-for-field but also accepts each field's
// alias spelling, since YAML has no native notion of key aliases; Load
// decodes into this first and folds aliases onto the canonical field.
type rawConfig struct {
	Config `yaml:",inline"`

	LazyInt         *bool         `yaml:"lazyint,omitempty"`
	ProxyAfter      *uint         `yaml:"proxy_after,omitempty"`
	HomeBindsAlias  []string      `yaml:"home_binds,omitempty"`
	DephashStrategy DephashPolicy `yaml:"dephash_strategy,omitempty"`
}

// Default values per spec.md §6.
func defaults() Config {
	return Config{
		BasePkgs: []string{"base-devel"},
		Paconf:   "/etc/pacman.conf",
		Dephash:  DephashNone,
	}
}

// Load reads, decodes, and validates the project file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.IO, "reading config file").WithOperation(path)
	}

	cfg := defaults()
	raw := rawConfig{Config: cfg}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(err, errs.Config, "parsing config YAML")
	}

	cfg = raw.Config

	if raw.LazyInt != nil {
		cfg.SkipInt = *raw.LazyInt
	}

	if raw.ProxyAfter != nil {
		cfg.LazyProxy = *raw.ProxyAfter
	}

	if len(raw.HomeBindsAlias) > 0 {
		cfg.HomeBinds = raw.HomeBindsAlias
	}

	if raw.DephashStrategy != "" {
		cfg.Dephash = raw.DephashStrategy
	}

	if len(cfg.Pkgbuilds) == 0 {
		return nil, errs.New(errs.Config, "no PKGBUILDs defined")
	}

	for name, pb := range cfg.Pkgbuilds {
		expanded := pb
		expanded.URL = ExpandURL(pb.URL, name)
		cfg.Pkgbuilds[name] = expanded
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, errs.Wrap(err, errs.Config, "validating config")
	}

	configLog.Debug("loaded config", "pkgbuilds", len(cfg.Pkgbuilds), "dephash", cfg.Dephash)

	return &cfg, nil
}

// ExpandURL expands the AUR and GITHUB/<owner> shorthand forms spec.md
// §6 defines; any other value passes through unchanged (a plain URL).
func ExpandURL(raw, name string) string {
	switch {
	case raw == "AUR":
		return "https://aur.archlinux.org/" + name + ".git"
	case raw == "GITHUB" || strings.HasPrefix(raw, "GITHUB/"):
		owner := strings.TrimPrefix(raw, "GITHUB/")
		owner = strings.TrimPrefix(owner, "GITHUB")

		if owner == "" {
			return raw
		}

		trailingSlash := strings.HasSuffix(owner, "/")
		owner = strings.TrimSuffix(owner, "/")

		if trailingSlash {
			return "https://github.com/" + owner + "/" + name + ".git"
		}

		return "https://github.com/" + owner + ".git"
	default:
		return raw
	}
}

// HashPolicyString maps the config's string spelling onto alpm's enum,
// keeping the two packages decoupled (config never imports alpm).
func (c *Config) HashPolicyString() string {
	if c.Dephash == "" {
		return string(DephashNone)
	}

	return string(c.Dephash)
}
