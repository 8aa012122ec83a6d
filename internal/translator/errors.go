package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports a structurally invalid inbound body. Path names the
// first offending field, e.g. "messages[1].content[0].type".
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return e.Path + ": " + e.Reason
}

// TranslationError reports a body that validated but cannot be mapped to the
// target schema, such as tool-call arguments that are not JSON.
type TranslationError struct {
	Op  string
	Err error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

var (
	errInvalidArguments = errors.New("tool call arguments are not valid JSON")
	errNoChoices        = errors.New("upstream response has no choices")
	errNoRoleEquivalent = errors.New("role has no equivalent in the target schema")
	errNoContentSlot    = errors.New("message content has no equivalent in the target schema")
	errSameSchema       = errors.New("source and target schema are the same")
	errUnknownBlock     = errors.New("unknown content block")
)

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// joinPath appends sub to prefix using JSON-path style: "messages[0]" + "content[1].id".
func joinPath(prefix, sub string) string {
	switch {
	case prefix == "":
		return strings.TrimPrefix(sub, ".")
	case sub == "":
		return prefix
	case strings.HasPrefix(sub, "["):
		return prefix + sub
	default:
		return prefix + "." + strings.TrimPrefix(sub, ".")
	}
}

func indexPath(prefix string, i int) string {
	return fmt.Sprintf("%s[%d]", prefix, i)
}

// withPrefix rebases a validation error found while decoding a nested value.
func withPrefix(prefix string, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Path: joinPath(prefix, ve.Path), Reason: ve.Reason}
	}
	var te *TranslationError
	if errors.As(err, &te) {
		return err
	}
	return withPrefix(prefix, asValidationError(err))
}

// asValidationError converts encoding/json failures into path-bearing validation errors.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{
			Path:   typeErr.Field,
			Reason: fmt.Sprintf("expected %s, got JSON %s", jsonKind(typeErr.Type), typeErr.Value),
		}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &ValidationError{Reason: fmt.Sprintf("invalid JSON payload: %v", syntaxErr)}
	}

	return &ValidationError{Reason: err.Error()}
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Pointer:
		return jsonKind(t.Elem())
	default:
		return t.String()
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs the validate tags of s and reports the first failure under prefix.
func checkStruct(prefix string, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Path: prefix, Reason: err.Error()}
	}

	fe := fieldErrs[0]
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	return &ValidationError{Path: joinPath(prefix, ns), Reason: describeFieldError(fe)}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	default:
		return fmt.Sprintf("failed %q constraint", fe.Tag())
	}
}
