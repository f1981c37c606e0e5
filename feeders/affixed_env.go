package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// AffixedEnvFeeder reads environment variables whose names carry an
// instance-specific prefix and/or suffix, so several server manager
// instances in one process can be configured independently
// (e.g. API_HTTP2_ENABLED vs EDGE_HTTP2_ENABLED).
type AffixedEnvFeeder struct {
	Prefix string
	Suffix string
}

// NewAffixedEnvFeeder creates a feeder with the given prefix and suffix.
// At least one of them must be non-empty.
func NewAffixedEnvFeeder(prefix, suffix string) AffixedEnvFeeder {
	return AffixedEnvFeeder{Prefix: prefix, Suffix: suffix}
}

// Feed populates structure (a pointer to struct) from environment
// variables named PREFIX_<env tag>_SUFFIX.
func (f AffixedEnvFeeder) Feed(structure interface{}) error {
	value := reflect.ValueOf(structure)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		return ErrAffixedEnvInvalidStructure
	}

	if f.Prefix == "" && f.Suffix == "" {
		return ErrAffixedEnvEmptyAffixes
	}

	return f.feedStruct(value.Elem())
}

func (f AffixedEnvFeeder) feedStruct(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		// Nested structs are walked with the same affixes.
		if field.Kind() == reflect.Struct {
			if err := f.feedStruct(field); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Ptr && !field.IsNil() && field.Elem().Kind() == reflect.Struct {
			if err := f.feedStruct(field.Elem()); err != nil {
				return err
			}
			continue
		}

		envTag, exists := fieldType.Tag.Lookup("env")
		if !exists {
			continue
		}

		if err := f.setField(field, envTag); err != nil {
			return fmt.Errorf("error in field %q: %w", fieldType.Name, err)
		}
	}
	return nil
}

func (f AffixedEnvFeeder) setField(field reflect.Value, envTag string) error {
	name := strings.ToUpper(envTag)
	if f.Prefix != "" {
		name = strings.ToUpper(f.Prefix) + "_" + name
	}
	if f.Suffix != "" {
		name = name + "_" + strings.ToUpper(f.Suffix)
	}

	envValue := os.Getenv(name)
	if envValue == "" {
		return nil
	}

	converted, err := cast.FromType(envValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to type %v: %w", name, field.Type(), err)
	}

	if !field.CanSet() {
		return fmt.Errorf("%w: %q", ErrAffixedEnvFieldNotSettable, name)
	}

	field.Set(reflect.ValueOf(converted))
	return nil
}
