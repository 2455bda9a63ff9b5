package prices

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping translates canonical asset symbols into provider asset ids.
// An empty Mapping lower-cases every symbol; a loaded one only knows the
// assets it lists.
type Mapping struct {
	Assets map[string]string `yaml:"assets"`
}

func LoadMapping(path string) (Mapping, error) {
	if path == "" {
		return Mapping{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("read price mapping: %w", err)
	}
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("decode price mapping %s: %w", path, err)
	}
	return m, nil
}

func (m Mapping) ProviderID(asset string) (string, bool) {
	if len(m.Assets) == 0 {
		if asset == "" {
			return "", false
		}
		return strings.ToLower(asset), true
	}
	id, ok := m.Assets[asset]
	if !ok || id == "" {
		return "", false
	}
	return strings.ToLower(id), true
}
