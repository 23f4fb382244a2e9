package config

import (
	"fmt"
)

// KeyInfo is one row of "docintel config show".
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

const masked = "********"

// ShowAll lists every key with its value in cfg. Set secrets are masked.
func ShowAll(cfg Config) []KeyInfo {
	rows := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprint(s.extract(cfg))
		if s.secret && v != "" {
			v = masked
		}
		rows = append(rows, KeyInfo{Key: s.key, EnvVar: s.env, Value: v})
	}
	return rows
}

// Path returns the config file that Load reads and SetKey writes.
func Path() string {
	return configFilePath()
}

// SetKey validates value for key and writes it to the config file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b backend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	v, err := s.typ.coerce(value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typ, key, err)
	}
	return b.Set(key, v)
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ValidKeys returns the keys "config set" accepts, in table order.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
