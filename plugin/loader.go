package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader loads policies of one kind.
type Loader interface {
	Load(data []byte, name string) (Policy, error)
}

// LoadPolicy reads the policy at path and loads it with the loader registered
// for kind. The file name without extension becomes the fallback policy name.
func LoadPolicy(kind, path string) (Policy, error) {
	factory, err := GetLoaderFactory(kind)
	if err != nil {
		return nil, err
	}
	loader, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s loader: %w", kind, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return loader.Load(data, name)
}
