// Package config loads the INI-format configuration file and answers the
// supervisor's Config-RPC lookups (§4.1, §6). Grounded on gopkg.in/ini.v1,
// already present in the dependency pack, which mirrors Python's
// configparser closely enough to keep the section/DEFAULT-fallback
// semantics the spec assumes.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/itohio/rsc/pkg/message"
)

// Store answers typed lookups against a loaded INI file, falling back to
// the DEFAULT section when an option is absent from its own section.
type Store struct {
	file *ini.File
}

// Load reads and parses path.
func Load(path string) (*Store, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return &Store{file: f}, nil
}

// Empty returns a Store with no backing file; every Lookup misses. cmd/rsc
// uses it when the config file cannot be loaded, so every worker falls back
// to its built-in defaults.
func Empty() *Store {
	return &Store{file: ini.Empty()}
}

// Lookup resolves section/option as t, consulting DEFAULT when the named
// section lacks the key. ok is false if the key is absent everywhere or
// fails to parse as t.
func (s *Store) Lookup(section, option string, t message.DeclaredType) (interface{}, bool) {
	key, ok := s.key(section, option)
	if !ok {
		return nil, false
	}
	switch t {
	case message.TypeInt:
		v, err := key.Int()
		if err != nil {
			return nil, false
		}
		return v, true
	case message.TypeFloat:
		v, err := key.Float64()
		if err != nil {
			return nil, false
		}
		return float32(v), true
	case message.TypeBool:
		v, err := key.Bool()
		if err != nil {
			return nil, false
		}
		return v, true
	case message.TypeString:
		return key.String(), true
	default:
		return nil, false
	}
}

func (s *Store) key(section, option string) (*ini.Key, bool) {
	if sec, err := s.file.GetSection(section); err == nil && sec.HasKey(option) {
		return sec.Key(option), true
	}
	if sec, err := s.file.GetSection(ini.DefaultSection); err == nil && sec.HasKey(option) {
		return sec.Key(option), true
	}
	return nil, false
}
