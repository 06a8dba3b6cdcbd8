package ledger

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// check runs struct tag validation and converts the first failure into a
// ValidationError with a snake_case field name.
func (c *core) check(input any) error {
	err := c.validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(snakeCase(fe.Field()), describe(fe))
	}
	return invalid("", err.Error())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "dive":
		return "contains an invalid item"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
