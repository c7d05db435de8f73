package sdkplay

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of invocable operations, grouped in areas. It is built
// once at startup and read concurrently afterwards.
type Catalog struct {
	mu     sync.RWMutex
	areas  map[string][]*APIDescriptor
	byKey  map[string]*APIDescriptor
	logger *slog.Logger
}

// NewCatalog returns an empty catalogue.
func NewCatalog() *Catalog {
	return &Catalog{
		areas: make(map[string][]*APIDescriptor),
		byKey: make(map[string]*APIDescriptor),
	}
}

// WithLogger sets the logger used for load warnings.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.logger = logger
	return c
}

// LoadCatalog reads every file of fsys matching patterns into a new Catalog.
func LoadCatalog(fsys fs.FS, patterns ...string) (*Catalog, error) {
	c := NewCatalog()
	if err := c.Load(fsys, patterns...); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads every file of fsys matching patterns. Each file is one area,
// named after the file's base name without extension, and holds a JSON or
// YAML list of descriptors.
func (c *Catalog) Load(fsys fs.FS, patterns ...string) error {
	var files []string
	for _, p := range patterns {
		matches, err := fs.Glob(fsys, p)
		if err != nil {
			return fmt.Errorf("catalog pattern %q: %w", p, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) == 0 {
		return fmt.Errorf("catalog: no files match %q", patterns)
	}

	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		descs, err := parseTable(name, data)
		if err != nil {
			return fmt.Errorf("catalog %s: %w", name, err)
		}
		area := strings.TrimSuffix(path.Base(name), path.Ext(name))
		if err := c.Add(area, descs...); err != nil {
			return fmt.Errorf("catalog %s: %w", name, err)
		}
	}
	return nil
}

func parseTable(name string, data []byte) ([]APIDescriptor, error) {
	var descs []APIDescriptor
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &descs); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &descs); err != nil {
			return nil, err
		}
		for i := range descs {
			for j := range descs[i].Params {
				p := &descs[i].Params[j]
				p.DefaultValue = normalizeYAML(p.DefaultValue)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported catalogue format %q", path.Ext(name))
	}
	return descs, nil
}

// Add validates descs and adds them to area. A descriptor whose key is
// already present replaces the earlier one.
func (c *Catalog) Add(area string, descs ...APIDescriptor) error {
	if area == "" {
		return fmt.Errorf("catalog: empty area name")
	}
	added := make([]*APIDescriptor, len(descs))
	for i, d := range descs {
		d.Area = area
		if err := d.Validate(); err != nil {
			return err
		}
		added[i] = &d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range added {
		key := d.Key()
		if _, exists := c.byKey[key]; exists {
			c.log().Warn("duplicate operation in catalogue, replacing", slog.String("op", key))
			c.areas[area] = slices.DeleteFunc(c.areas[area], func(e *APIDescriptor) bool {
				return e.Name == d.Name
			})
		}
		c.byKey[key] = d
		c.areas[area] = append(c.areas[area], d)
	}
	return nil
}

func (c *Catalog) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Lookup returns the descriptor for an "area.name" key.
func (c *Catalog) Lookup(key string) (*APIDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byKey[key]
	return d, ok
}

// Areas returns the area names, sorted.
func (c *Catalog) Areas() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.areas))
}

// Area returns the descriptors of one area in load order.
func (c *Catalog) Area(name string) []*APIDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.areas[name])
}

// All returns every descriptor, ordered by area then load order.
func (c *Catalog) All() []*APIDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*APIDescriptor
	for _, a := range slices.Sorted(maps.Keys(c.areas)) {
		out = append(out, c.areas[a]...)
	}
	return out
}

// Len returns the number of descriptors.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// Instances returns every non-empty instance tag referenced by the catalogue,
// through either the instance, provides or releases attribute, sorted.
func (c *Catalog) Instances() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	for _, d := range c.byKey {
		for _, t := range []string{d.Instance, d.Provides, d.Releases} {
			if t != "" {
				seen[t] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
