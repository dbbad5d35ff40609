package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

var ErrProfileNotFound = errors.New("profile not found")

var profileExtensions = []string{".json", ".yaml", ".yml"}

// ProfileLoader resolves device profiles by name from the search paths.
// Profiles may be written in JSON or YAML; both are validated against the
// same schema.
type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *ProfileLoader) Validator() *Validator { return l.validator }

func (l *ProfileLoader) Load(profilePath string) (*types.DeviceProfileDefinition, error) {
	if cached, ok := l.cache.Load(profilePath); ok {
		return cached.(*types.DeviceProfileDefinition), nil
	}

	data, foundPath, err := l.find(profilePath)
	if err != nil {
		return nil, err
	}

	if ext := filepath.Ext(foundPath); ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", foundPath, err)
		}
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	var profile types.DeviceProfileDefinition
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	l.cache.Store(profilePath, &profile)

	return &profile, nil
}

func (l *ProfileLoader) find(profilePath string) ([]byte, string, error) {
	for _, searchPath := range l.searchPaths {
		for _, ext := range profileExtensions {
			fullPath := filepath.Join(searchPath, profilePath+ext)
			data, err := os.ReadFile(fullPath)
			if err == nil {
				return data, fullPath, nil
			}
		}
	}
	return nil, "", fmt.Errorf("%w: %s (searched in: %v)", ErrProfileNotFound, profilePath, l.searchPaths)
}

// Available lists the profile names found in the search paths.
func (l *ProfileLoader) Available() []string {
	seen := make(map[string]bool)
	for _, searchPath := range l.searchPaths {
		_ = filepath.WalkDir(searchPath, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			for _, e := range profileExtensions {
				if ext == e {
					rel, relErr := filepath.Rel(searchPath, path)
					if relErr == nil {
						seen[filepath.ToSlash(strings.TrimSuffix(rel, ext))] = true
					}
				}
			}
			return nil
		})
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
