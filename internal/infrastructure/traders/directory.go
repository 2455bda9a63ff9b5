// Package traders resolves pod labels from the raw feed to desk traders.
package traders

import (
	"fmt"
	"os"
	"sync"

	domain "riskfeed/internal/domain/entity/positions"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of the trader directory.
type File struct {
	// Aliases maps raw pod labels to directory names.
	Aliases map[string]string `yaml:"aliases"`
	Traders []FileTrader      `yaml:"traders"`
}

type FileTrader struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group"`
}

// Directory is a read-mostly trader lookup. Unknown names get a placeholder
// trader that is created once and shared by every later lookup.
type Directory struct {
	aliases map[string]string
	known   map[string]*domain.Trader

	mu          sync.Mutex
	synthesized map[string]*domain.Trader
}

func NewDirectory(aliases map[string]string, list []domain.Trader) *Directory {
	d := &Directory{
		aliases:     make(map[string]string, len(aliases)),
		known:       make(map[string]*domain.Trader, len(list)),
		synthesized: make(map[string]*domain.Trader),
	}
	for k, v := range aliases {
		d.aliases[k] = v
	}
	for i := range list {
		t := list[i]
		d.known[t.Name] = &t
	}
	return d
}

func LoadFile(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read trader directory: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode trader directory %s: %w", path, err)
	}
	return f, nil
}

func (f File) Directory() *Directory {
	list := make([]domain.Trader, 0, len(f.Traders))
	for _, t := range f.Traders {
		list = append(list, domain.Trader{Name: t.Name, Group: t.Group})
	}
	return NewDirectory(f.Aliases, list)
}

// Name applies the alias table; labels without an alias map to themselves.
func (d *Directory) Name(podLabel string) string {
	if name, ok := d.aliases[podLabel]; ok && name != "" {
		return name
	}
	return podLabel
}

func (d *Directory) Resolve(podLabel string) *domain.Trader {
	name := d.Name(podLabel)
	if t, ok := d.known[name]; ok {
		return t
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.synthesized[name]; ok {
		return t
	}
	t := &domain.Trader{Name: name, Group: domain.UnknownTraderGroup}
	d.synthesized[name] = t
	return t
}

func (d *Directory) Len() int {
	return len(d.known)
}
