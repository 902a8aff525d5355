package config

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ApplyOverride applies a single `-o key=value` flag onto cfg, after YAML
// parsing and defaulting. Supported key forms: a top-level field name in
// snake_case (e.g. "rotate"), or "host.<hostname>.<field>" to override one
// host's field (e.g. "host.db1.rotate").
func ApplyOverride(cfg *Config, kv string) error {
	parts := strings.SplitN(kv, "=", 2)
	if len(parts) != 2 {
		return errors.Errorf("override %q must be in key=value form", kv)
	}
	key, value := parts[0], parts[1]

	if strings.HasPrefix(key, "host.") {
		segs := strings.SplitN(key, ".", 3)
		if len(segs) != 3 {
			return errors.Errorf("override %q must be host.<hostname>.<field>", kv)
		}
		hostname, field := segs[1], segs[2]
		for i := range cfg.Hosts {
			if cfg.Hosts[i].Hostname == hostname {
				return setField(&cfg.Hosts[i], field, value)
			}
		}
		return errors.Errorf("override %q: host %s not found in config", kv, hostname)
	}

	return setField(cfg, key, value)
}

// setField sets a snake_case-named field on a struct via reflection,
// matching against each field's yaml tag.
func setField(target interface{}, dottedKey, value string) error {
	v := reflect.ValueOf(target).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("yaml")
		if tag == "" || tag != dottedKey {
			continue
		}
		field := v.Field(i)
		return assignValue(field, value)
	}
	return errors.Errorf("unrecognized override key %q", dottedKey)
}

func assignValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "parse int override %q", value)
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "parse bool override %q", value)
		}
		field.SetBool(b)
	case reflect.Ptr:
		if field.Type().Elem().Kind() == reflect.Int {
			n, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrapf(err, "parse int override %q", value)
			}
			field.Set(reflect.New(field.Type().Elem()))
			field.Elem().SetInt(int64(n))
		} else {
			return errors.Errorf("unsupported override field kind %s", field.Type())
		}
	default:
		return errors.Errorf("unsupported override field kind %s", field.Kind())
	}
	return nil
}
