// Package config loads service configuration from struct tag defaults,
// one or more YAML/JSON files, and environment variables. Values are
// resolved in priority order:
//
//	envDefault struct tags  (lowest priority)
//	config files, in the order they were added
//	environment variables   (highest priority)
//
// A deployment typically bakes defaults into the code, ships a base
// config file plus an environment overlay, and lets the process
// environment make the final call.
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable
//   - `envDefault:"value"` sets a default when the field is zero-valued
//   - `required:"true"` fails validation if the field is still zero after loading
//
// On a nested struct field, the env tag becomes a prefix for the nested
// fields: a field tagged `env:"TIMEOUT"` inside a struct tagged
// `env:"LIFECYCLE"` reads LIFECYCLE_TIMEOUT.
//
// File loading relies on the `yaml` and `json` tags understood by
// gopkg.in/yaml.v3 and encoding/json.
//
// # Usage
//
//	type ServeConfig struct {
//	    Backend   string        `env:"BACKEND" envDefault:"memory" yaml:"backend"`
//	    RedisAddr string        `env:"REDIS_ADDR" yaml:"redis_addr"`
//	    Sweep     time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s" yaml:"sweep_interval"`
//	}
//
//	cfg := config.MustLoad[ServeConfig](
//	    config.New().WithEnvPrefix("AGENTCTL").WithFile("agentctl.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// LookupFunc resolves an environment variable. It has the signature of
// [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// Loader resolves configuration into a struct. Create one with [New],
// configure it with the With* methods, then call [Loader.Load].
//
// A Loader is not safe for concurrent configuration; Load itself does
// not mutate the Loader.
type Loader struct {
	fs        afero.Fs
	lookup    LookupFunc
	envPrefix string
	files     []string
}

// New returns a Loader that reads files from the OS filesystem and
// variables from the process environment, with no prefix and no files.
func New() *Loader {
	return &Loader{
		fs:     afero.NewOsFs(),
		lookup: os.LookupEnv,
	}
}

// WithEnvPrefix prepends prefix and an underscore to every environment
// variable name. The prefix is uppercased; an empty prefix disables it.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile adds a YAML (.yaml, .yml) or JSON (.json) file to the
// layering. Files are applied in the order they are added, so a later
// file overrides keys set by an earlier one. Missing files are skipped.
// An empty path is ignored, which lets callers pass an optional flag
// value straight through.
func (l *Loader) WithFile(path string) *Loader {
	if path != "" {
		l.files = append(l.files, path)
	}
	return l
}

// WithFs replaces the filesystem used to read config files.
func (l *Loader) WithFs(fs afero.Fs) *Loader {
	l.fs = fs
	return l
}

// WithLookup replaces the environment lookup. Tests use it to supply a
// map instead of mutating the process environment.
func (l *Loader) WithLookup(lookup LookupFunc) *Loader {
	l.lookup = lookup
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, by
// applying defaults, files, and environment variables in that order, and
// then validating the result. Validation checks `required:"true"` fields
// and calls Validate on the struct and on every nested struct that
// implements [Validator].
//
// Loading failures carry [sserr.CodeInternalConfiguration]; validation
// failures carry a VAL_xxx code.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	for _, path := range l.files {
		if err := l.loadFile(path, cfg); err != nil {
			return err
		}
	}
	if err := l.applyEnv(rv); err != nil {
		return err
	}
	return validate(rv)
}

// MustLoad loads a T and panics if loading or validation fails. It is
// meant for process startup, where bad configuration is fatal.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(path string, cfg any) error {
	if strings.Contains(path, "..") {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: file path %q must not contain directory traversal (..) sequences", path)
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", path)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", path)
		}
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	return nil
}

// leaf describes one settable, non-struct field reached by walk.
type leaf struct {
	value  reflect.Value
	field  reflect.StructField
	path   string // dotted Go field path, e.g. "Lifecycle.ShutdownTimeout"
	envKey string // fully prefixed variable name, empty without an env tag
}

// isLeafStruct reports whether a struct type is set as a single value
// rather than traversed.
func isLeafStruct(t reflect.Type) bool {
	return t == timeType
}

// walk visits every exported leaf field of rv depth first. Nested struct
// fields extend both the dotted path and the env prefix.
func walk(rv reflect.Value, path, prefix string, fn func(leaf) error) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := joinPath(path, ".", sf.Name)
		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && !isLeafStruct(sf.Type) {
			nested := prefix
			if envTag != "" {
				nested = joinPath(prefix, "_", envTag)
			}
			if err := walk(field, fieldPath, nested, fn); err != nil {
				return err
			}
			continue
		}

		envKey := ""
		if envTag != "" {
			envKey = joinPath(prefix, "_", envTag)
		}
		if err := fn(leaf{value: field, field: sf, path: fieldPath, envKey: envKey}); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(prefix, sep, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + sep + name
}

func applyDefaults(rv reflect.Value) error {
	return walk(rv, "", "", func(f leaf) error {
		def := f.field.Tag.Get("envDefault")
		if def == "" || !f.value.IsZero() {
			return nil
		}
		if err := setField(f.value, def); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", f.path)
		}
		return nil
	})
}

func (l *Loader) applyEnv(rv reflect.Value) error {
	return walk(rv, "", l.envPrefix, func(f leaf) error {
		if f.envKey == "" {
			return nil
		}
		val, ok := l.lookup(f.envKey)
		if !ok {
			return nil
		}
		if err := setField(f.value, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", f.path, f.envKey)
		}
		return nil
	})
}

// setField parses value into field. Supported kinds are string, bool,
// signed and unsigned integers, floats, time.Duration, time.Time
// (RFC 3339), and []string (comma separated, whitespace trimmed).
// Named types over these kinds work as well.
func setField(field reflect.Value, value string) error {
	switch field.Type() {
	case durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	case timeType:
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return fmt.Errorf("cannot parse time %q: %w", value, err)
		}
		field.Set(reflect.ValueOf(ts))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		field.SetFloat(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		// MakeSlice keeps named slice types assignable.
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
