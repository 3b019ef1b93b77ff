package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Key is one dot-separated setting of Config, such as relay.codec.
type Key struct {
	Name   string
	Kind   reflect.Kind
	Secret bool
}

// keys is derived from the json tags of Config. Fields tagged secret:"true"
// are masked when listed.
var keys = collectKeys(reflect.TypeOf(Config{}), "", map[string]Key{})

func collectKeys(t reflect.Type, prefix string, out map[string]Key) map[string]Key {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, name, out)
			continue
		}
		out[name] = Key{Name: name, Kind: f.Type.Kind(), Secret: f.Tag.Get("secret") == "true"}
	}
	return out
}

// Keys returns every settable key in sorted order.
func Keys() []string {
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupKey returns the description of a dot-separated key.
func LookupKey(name string) (Key, bool) {
	k, ok := keys[name]
	return k, ok
}

// IsSecretKey reports whether the value of key is masked when shown.
func IsSecretKey(key string) bool {
	return keys[key].Secret
}

// Parse converts a command-line value to the type the key holds.
func (k Key) Parse(value string) (any, error) {
	switch k.Kind {
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", k.Name, value)
		}
		return b, nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", k.Name, value)
		}
		return n, nil
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects a number, got %q", k.Name, value)
		}
		return f, nil
	}
	return value, nil
}

// Mask hides all but the last four characters of a secret string. Empty and
// non-string values are returned as is.
func Mask(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// lookup walks a nested map along a dot-separated key.
func lookup(m map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			return nil, false
		}
		m = child
	}
	v, ok := m[parts[len(parts)-1]]
	return v, ok
}

// assign sets a dot-separated key in a nested map, creating sections as
// needed.
func assign(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = v
}
