package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

const redacted = "********"

var secretKeys = map[string]bool{
	"signing_key":           true,
	"password":              true,
	"redis_password":        true,
	"secret_key":            true,
	"access_key":            true,
	"token":                 true,
	"dsn":                   true,
	"amqp_url":              true,
	"stripe_webhook_secret": true,
}

// Lookup returns the value at a dotted key such as "http.addr", or the whole
// config for an empty key. Structs come back as maps keyed like the config
// file; credentials are masked.
func (c Config) Lookup(key string) (any, error) {
	v := reflect.ValueOf(c)
	if key == "" {
		return project(v, ""), nil
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown config key %q", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return project(v, parts[len(parts)-1]), nil
}

func fieldByTag(v reflect.Value, tag string) (reflect.Value, bool) {
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("mapstructure") == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func project(v reflect.Value, name string) any {
	if secretKeys[name] && !v.IsZero() {
		return redacted
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}
	if v.Kind() != reflect.Struct {
		return v.Interface()
	}
	out := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		out[tag] = project(v.Field(i), tag)
	}
	return out
}
