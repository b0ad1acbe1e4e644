// Package validator registers the portal's custom binding rules with the
// go-playground engine gin uses, and renders validation failures for clients.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"
)

// Accepted layouts for the isodatetime rule. The first is what browser
// datetime-local inputs submit.
var dateTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

const dateLayout = "2006-01-02"

// FieldError is one failed rule, keyed by the JSON field name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var messages = map[string]string{
	"required":    "is required",
	"email":       "must be a valid email address",
	"min":         "is below the minimum of %s",
	"max":         "is above the maximum of %s",
	"oneof":       "must be one of: %s",
	"isodate":     "must be a date in YYYY-MM-DD form",
	"isodatetime": "must be a date and time in YYYY-MM-DDTHH:MM form",
	"notblank":    "must not be blank",
}

var registerOnce sync.Once

// Register installs the custom rules on gin's default validator. It is safe to
// call more than once.
func Register() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*playground.Validate)
		if !ok {
			err = errors.New("gin binding engine is not go-playground/validator")
			return
		}
		err = Configure(v)
	})
	return err
}

// Configure adds the custom rules and JSON field naming to v.
func Configure(v *playground.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	rules := map[string]playground.Func{
		"isodate":     isoDate,
		"isodatetime": isoDateTime,
		"notblank":    notBlank,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", tag, err)
		}
	}
	return nil
}

// Describe flattens a validation error into per-field messages. Errors that
// are not validation failures yield nil.
func Describe(err error) []FieldError {
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "failed the " + fe.Tag() + " rule"
		}
		if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

// ParseDate accepts YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// ParseDateTime accepts any of the isodatetime layouts.
func ParseDateTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func isoDate(fl playground.FieldLevel) bool {
	s, ok := stringValue(fl)
	if !ok {
		return false
	}
	_, err := ParseDate(s)
	return err == nil
}

func isoDateTime(fl playground.FieldLevel) bool {
	s, ok := stringValue(fl)
	if !ok {
		return false
	}
	_, err := ParseDateTime(s)
	return err == nil
}

func notBlank(fl playground.FieldLevel) bool {
	s, ok := stringValue(fl)
	return ok && strings.TrimSpace(s) != ""
}

func stringValue(fl playground.FieldLevel) (string, bool) {
	f := fl.Field()
	if f.Kind() != reflect.String {
		return "", false
	}
	return f.String(), true
}
