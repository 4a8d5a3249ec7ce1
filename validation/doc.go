// Package validation validates configuration structs with
// go-playground/validator tags and collects programmatic checks.
//
// # Struct Tag Validation
//
//	type Config struct {
//	    Capacity int `yaml:"capacity" validate:"gte=0"`
//	}
//	err := validation.Validate(&cfg)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Required("url", req.URL).OneOf("method", req.Method, methods)
//	err := v.Validate()
//
// Both forms report failures as *Error listing every failing field.
package validation
