package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is the sentinel behind every ValidationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError reports the option group and the keys that failed.
type ValidationError struct {
	Group  string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s settings are invalid (%s); check %s",
		e.Group, strings.Join(e.Fields, ", "), DefaultFile)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

var (
	validate *validator.Validate
	once     sync.Once
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return strings.ToLower(fld.Name)
			}
			return name
		})
		_ = validate.RegisterValidation("placeholder", func(fl validator.FieldLevel) bool {
			return HasSinglePlaceholder(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the speech group.
func (c SpeechConfig) Validate() error { return validateGroup("speech", c) }

// Validate checks the OpenAI group.
func (c OpenAIConfig) Validate() error { return validateGroup("openai", c) }

// Validate checks the prompt templates.
func (c PromptsConfig) Validate() error { return validateGroup("prompts", c) }

func validateGroup(group string, s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, group, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, group+"."+fe.Field())
	}
	return &ValidationError{Group: group, Fields: fields}
}

// HasSinglePlaceholder reports whether tmpl uses the {0} slot and no other
// positional slot. Doubled braces are literal braces.
func HasSinglePlaceholder(tmpl string) bool {
	found := false
	for i := 0; i < len(tmpl); i++ {
		switch tmpl[i] {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				i++
				continue
			}
			if !strings.HasPrefix(tmpl[i:], "{0}") {
				return false
			}
			found = true
			i += 2
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				i++
				continue
			}
			return false
		}
	}
	return found
}
