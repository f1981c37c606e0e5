package feeders

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/golobby/config/v3/pkg/feeder"
)

// TomlFeeder is a feeder that reads TOML files
type TomlFeeder struct {
	feeder.Toml
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{feeder.Toml{Path: filePath}}
}

// FeedKey reads a TOML file and extracts a specific top-level key into
// target. A missing key is not an error; the target is left untouched.
func (t TomlFeeder) FeedKey(key string, target interface{}) error {
	var allData map[string]interface{}

	if err := t.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read TOML: %w", err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	// Remarshal and unmarshal to handle type conversions
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := toml.Unmarshal(buf.Bytes(), target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}

	return nil
}
