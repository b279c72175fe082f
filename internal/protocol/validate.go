package protocol

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("opaque", isOpaqueValue); err != nil {
		panic(err)
	}
	return v
}

// isOpaqueValue accepts any JSON value except null. The content itself is
// never inspected.
func isOpaqueValue(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(json.RawMessage)
	if !ok {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
