package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config is a parsed robot configuration file. Section and option reads
// are tracked so the host can warn about entries nothing consumed,
// which is how a typo in the config file surfaces.
type Config struct {
	mu       sync.Mutex
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// New returns an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load parses a configuration file. [include pattern] directives pull
// in sibling files relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.loadFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Includes are not available
// without a base directory.
func LoadString(data string) (*Config, error) {
	c := New()
	p := parser{cfg: c, source: "<string>"}
	if err := p.run(strings.NewReader(data)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include of %s", path)
	}
	visited[abs] = true
	defer delete(visited, abs)

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	p := parser{
		cfg:     c,
		source:  path,
		dir:     filepath.Dir(abs),
		visited: visited,
	}
	return p.run(f)
}

// parser feeds one file (or string) into the Config. Options land in
// their section as they are read; a section reopened later in the file,
// or by an include, merges rather than replaces.
type parser struct {
	cfg     *Config
	source  string
	dir     string // empty when includes are unavailable
	visited map[string]bool

	current *Section
}

func (p *parser) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if err := p.header(strings.TrimSpace(line[1:len(line)-1]), lineNum); err != nil {
				return err
			}
			continue
		}
		p.option(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: read %s: %w", p.source, err)
	}
	return nil
}

func (p *parser) header(name string, lineNum int) error {
	if name == "" {
		return fmt.Errorf("config: empty section header at %s:%d", p.source, lineNum)
	}
	if pattern, ok := strings.CutPrefix(name, "include "); ok {
		p.current = nil
		return p.include(strings.TrimSpace(pattern), lineNum)
	}
	p.current = p.cfg.section(name)
	return nil
}

func (p *parser) include(pattern string, lineNum int) error {
	if pattern == "" {
		return fmt.Errorf("config: empty include at %s:%d", p.source, lineNum)
	}
	if p.dir == "" {
		return fmt.Errorf("config: include not available at %s:%d", p.source, lineNum)
	}
	glob := filepath.Join(p.dir, pattern)
	matches, err := filepath.Glob(glob)
	if err != nil {
		return fmt.Errorf("config: include pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
		return fmt.Errorf("config: include file missing: %s", glob)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := p.cfg.loadFile(m, p.visited); err != nil {
			return err
		}
	}
	return nil
}

// option parses "key: value" or "key = value"; anything else is noise
// and skipped, matching the forgiving dialect of hand-edited configs.
func (p *parser) option(line string) {
	if p.current == nil {
		return
	}
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		key, value, ok = strings.Cut(line, "=")
	}
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	p.current.set(key, strings.TrimSpace(value))
}

// section returns the named section, creating it on first sight.
func (c *Config) section(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sec, ok := c.sections[name]; ok {
		return sec
	}
	sec := newSection(name)
	c.sections[name] = sec
	c.order = append(c.order, name)
	return sec
}

// GetSection returns a section and marks it consumed.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	c.accessed[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns a section or nil, marking it consumed when
// present.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if ok {
		c.accessed[name] = struct{}{}
	}
	return sec
}

// HasSection reports existence without marking anything consumed.
func (c *Config) HasSection(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sections[name]
	return ok
}

// GetPrefixSections returns the sections whose name starts with prefix,
// in file order, marking each consumed. Instruments and liquids are
// declared this way, e.g. [instrument left], [liquid diluent].
func (c *Config) GetPrefixSections(prefix string) []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Section
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix) {
			c.accessed[name] = struct{}{}
			out = append(out, c.sections[name])
		}
	}
	return out
}

// GetAccessedSections returns the consumed section names, sorted.
func (c *Config) GetAccessedSections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.accessed))
	for name := range c.accessed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetUnusedSections returns the section names nothing consumed, sorted.
func (c *Config) GetUnusedSections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name := range c.sections {
		if _, ok := c.accessed[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
