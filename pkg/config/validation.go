package config

import (
	"reflect"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// Validator is implemented by configuration structs that need checks
// beyond `required:"true"`, such as range or ordering constraints
// between thresholds. [Loader.Load] calls Validate on the root struct
// and on every nested struct field whose pointer implements Validator,
// innermost first. A nested struct field tagged `validate:"-"` is loaded
// but not validated; use it for optional sections that are checked when
// they are actually used.
//
// Errors that are already [*sserr.Error] pass through unchanged; any
// other error is wrapped with [sserr.CodeValidation].
//
// Example:
//
//	func (c *Config) Validate() error {
//	    if c.ShutdownGracePeriod > c.ShutdownTimeout {
//	        return sserr.New(sserr.CodeValidation,
//	            "config: grace period exceeds shutdown timeout")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

func validate(rv reflect.Value) error {
	if err := walk(rv, "", "", checkRequired); err != nil {
		return err
	}
	return runValidators(rv)
}

func checkRequired(f leaf) error {
	if f.field.Tag.Get("required") != "true" {
		return nil
	}
	if f.value.IsZero() {
		return sserr.Newf(sserr.CodeValidationRequired,
			"config: required field %q is empty", f.path)
	}
	return nil
}

// runValidators invokes Validator on nested structs before their parent.
func runValidators(rv reflect.Value) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rv.Field(i)
		if !field.CanSet() || field.Kind() != reflect.Struct || isLeafStruct(field.Type()) {
			continue
		}
		if rt.Field(i).Tag.Get("validate") == "-" {
			continue
		}
		if err := runValidators(field); err != nil {
			return err
		}
	}

	if !rv.CanAddr() {
		return nil
	}
	v, ok := rv.Addr().Interface().(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isStructured := sserr.AsError(err); isStructured {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
	}
	return nil
}
