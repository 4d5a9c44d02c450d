package release

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// internalSection is the synthetic section name the core injects to
// point pacman at the local repo, per spec.md §6.
const internalSection = "arch_repo_builder_internal_do_not_use"

// confEntry is one line within a pacman.conf section: a bare key, or a
// key=value pair. Value is empty (and HasValue false) for bare
// directives like "CheckSpace".
type confEntry struct {
	Key      string
	Value    string
	HasValue bool
}

// confSection is one ordered [section] block.
type confSection struct {
	Name    string
	Entries []confEntry
}

// PacmanConf is a parsed pacman.conf: an ordered list of sections, each
// an ordered list of entries. No example repo in the corpus exposes an
// INI-style parser that preserves both section and key order on
// round-trip (the usual go-ini-style libraries normalize or sort), so
// this is hand-rolled against the narrow grammar pacman.conf actually
// uses: "[section]" headers and "key" or "key = value" lines, comments
// starting with '#'.
type PacmanConf struct {
	Sections []confSection
}

// ParsePacmanConf reads path as an ordered list of sections.
func ParsePacmanConf(path string) (*PacmanConf, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.IO, "opening pacman.conf").WithOperation(path)
	}
	defer file.Close()

	conf := &PacmanConf{}

	var cur *confSection

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			conf.Sections = append(conf.Sections, confSection{Name: strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")})
			cur = &conf.Sections[len(conf.Sections)-1]

			continue
		}

		if cur == nil {
			return nil, errs.New(errs.Config, "config value before any section in pacman.conf")
		}

		key, value, hasValue := strings.Cut(line, "=")
		entry := confEntry{Key: strings.TrimSpace(key), HasValue: hasValue}

		if hasValue {
			entry.Value = strings.TrimSpace(value)
		}

		cur.Entries = append(cur.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(err, errs.IO, "scanning pacman.conf").WithOperation(path)
	}

	return conf, nil
}

// Set overwrites (or appends) key=value within section, preserving the
// position of an existing key and appending the section itself if
// absent.
func (c *PacmanConf) Set(section, key, value string) {
	sec := c.section(section)

	for i := range sec.Entries {
		if sec.Entries[i].Key == key {
			sec.Entries[i].Value = value
			sec.Entries[i].HasValue = true

			return
		}
	}

	sec.Entries = append(sec.Entries, confEntry{Key: key, Value: value, HasValue: true})
}

func (c *PacmanConf) section(name string) *confSection {
	for i := range c.Sections {
		if c.Sections[i].Name == name {
			return &c.Sections[i]
		}
	}

	c.Sections = append(c.Sections, confSection{Name: name})

	return &c.Sections[len(c.Sections)-1]
}

// RepoNames returns every section name other than "options" and the
// synthetic local-repo section, the set of sync repositories a
// pacman.conf declares.
func (c *PacmanConf) RepoNames() []string {
	var names []string

	for _, sec := range c.Sections {
		if sec.Name == "options" || sec.Name == internalSection {
			continue
		}

		names = append(names, sec.Name)
	}

	return names
}

// InjectLocalRepo adds (or updates) the synthetic local-repo section
// pointing at repoPath and sets CacheDir under the [options] section,
// per spec.md §6.
func (c *PacmanConf) InjectLocalRepo(repoPath, cacheDir string) {
	c.Set("options", "CacheDir", cacheDir)
	c.Set(internalSection, "Server", "file://"+repoPath)
}

// Write serializes the config back to path, preserving section and key
// order exactly as parsed/mutated.
func (c *PacmanConf) Write(path string) error {
	var b strings.Builder

	for _, sec := range c.Sections {
		fmt.Fprintf(&b, "[%s]\n", sec.Name)

		for _, entry := range sec.Entries {
			if entry.HasValue {
				fmt.Fprintf(&b, "%s = %s\n", entry.Key, entry.Value)
			} else {
				fmt.Fprintf(&b, "%s\n", entry.Key)
			}
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errs.Wrap(err, errs.IO, "writing pacman.conf").WithOperation(path)
	}

	return nil
}
