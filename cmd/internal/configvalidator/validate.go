// Package configvalidator checks configuration files for settings no
// component reads.
package configvalidator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrUnknownField returns when an unknown field appears in the config.
var ErrUnknownField = errors.New("unknown field")

// CheckForUnknownFields validates the config map against the fields of the
// config struct. Fields are matched by their `mapstructure` tag or, without
// one, by the lowercased field name. Nested maps are checked against nested
// structs.
func CheckForUnknownFields(configMap map[string]any, config any) error {
	return check(configMap, reflect.TypeOf(config), "")
}

func check(configMap map[string]any, t reflect.Type, path string) error {
	fields := make(map[string]reflect.Type, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)

		name := f.Tag.Get("mapstructure")
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields[name] = f.Type
	}

	for key, val := range configMap {
		fullPath := key
		if path != "" {
			fullPath = path + "." + key
		}

		ft, ok := fields[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, fullPath)
		}

		nested, isMap := val.(map[string]any)
		switch {
		case isMap && ft.Kind() == reflect.Struct:
			if err := check(nested, ft, fullPath); err != nil {
				return err
			}
		case isMap != (ft.Kind() == reflect.Struct || ft.Kind() == reflect.Map):
			return fmt.Errorf("%w: %s", ErrUnknownField, fullPath)
		}
	}

	return nil
}
