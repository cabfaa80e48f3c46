package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

// Set applies one runtime override addressed by a flat dotted key (e.g.
// "services.arxlet.url"). Intermediate nil pointers are allocated; the
// value is converted into the target field through its JSON form.
func (c *Config) Set(key string, value any) error {
	target := reflect.ValueOf(c).Elem()
	segments := strings.Split(key, ".")

	for i, segment := range segments {
		for target.Kind() == reflect.Pointer {
			if target.IsNil() {
				target.Set(reflect.New(target.Type().Elem()))
			}
			target = target.Elem()
		}
		if target.Kind() != reflect.Struct {
			return fmt.Errorf("field %q is not a category", strings.Join(segments[:i], "."))
		}
		field, ok := fieldByTag(target, segment)
		if !ok {
			return fmt.Errorf("field %q doesn't exist", strings.Join(segments[:i+1], "."))
		}
		target = field
	}

	for target.Kind() == reflect.Pointer {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		target = target.Elem()
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("override value for %q is not serializable: %w", key, err)
	}
	fresh := reflect.New(target.Type())
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		return fmt.Errorf("override value for %q does not fit the field: %w", key, err)
	}
	target.Set(fresh.Elem())

	slog.Info("configuration key updated", "key", key)
	return nil
}

// Update applies a flat dotted-key override map.
func (c *Config) Update(overrides map[string]any) error {
	count := 0
	for key, value := range overrides {
		if err := c.Set(key, value); err != nil {
			return err
		}
		count++
	}
	slog.Info("configuration has been updated", "keys", count)
	return nil
}

// fieldByTag locates a struct field by the first segment of its cfg tag,
// falling back to a case-insensitive field name match.
func fieldByTag(target reflect.Value, name string) (reflect.Value, bool) {
	t := target.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("cfg")
		tagName := strings.Split(tag, ",")[0]
		if tagName == name {
			return target.Field(i), true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		if strings.EqualFold(t.Field(i).Name, name) {
			return target.Field(i), true
		}
	}
	return reflect.Value{}, false
}
