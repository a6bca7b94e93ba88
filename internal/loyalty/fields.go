// internal/loyalty/fields.go
package loyalty

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field names a single editable attribute of a ProgramRecord. Custom fields
// are addressed as "custom_fields.<name>".
type Field string

const (
	FieldLogin          Field = "login"
	FieldPassword       Field = "password"
	FieldCPF            Field = "cpf"
	FieldCardNumber     Field = "card_number"
	FieldCurrentBalance Field = "current_balance"
	FieldEliteTier      Field = "elite_tier"
	FieldNotes          Field = "notes"

	customPrefix = "custom_fields."
)

// Empty is the sentinel used to clear a field.
const Empty = ""

var (
	ErrUnknownField     = errors.New("unknown program field")
	ErrInvalidFieldName = errors.New("invalid custom field name")
	ErrNotANumber       = errors.New("not a number")
	ErrOutOfRange       = errors.New("number out of range")
)

// EditableFields lists the fixed schema fields in display order.
var EditableFields = []Field{
	FieldLogin,
	FieldPassword,
	FieldCPF,
	FieldCardNumber,
	FieldCurrentBalance,
	FieldEliteTier,
	FieldNotes,
}

var fieldLabels = map[Field]string{
	FieldLogin:          "Login",
	FieldPassword:       "Senha",
	FieldCPF:            "CPF",
	FieldCardNumber:     "Cartão",
	FieldCurrentBalance: "Saldo",
	FieldEliteTier:      "Categoria",
	FieldNotes:          "Observações",
}

// CustomField returns the Field addressing a user-defined attribute.
func CustomField(name string) Field {
	return Field(customPrefix + name)
}

// Custom reports whether f addresses a custom field and returns its name.
func (f Field) Custom() (string, bool) {
	if !strings.HasPrefix(string(f), customPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(f), customPrefix), true
}

// Numeric reports whether values of f are integers.
func (f Field) Numeric() bool {
	return f == FieldCurrentBalance
}

// Label is the human-readable name of the field.
func (f Field) Label() string {
	if name, ok := f.Custom(); ok {
		return name
	}
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}

// Validate checks that f is a fixed schema field or a well-formed custom field.
func (f Field) Validate() error {
	if name, ok := f.Custom(); ok {
		if strings.TrimSpace(name) == "" || strings.Contains(name, ".") {
			return fmt.Errorf("%w: %q", ErrInvalidFieldName, name)
		}
		return nil
	}
	if _, ok := fieldLabels[f]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownField, string(f))
}

// Value returns the string form of field f. Unset fields read as Empty.
func (r ProgramRecord) Value(f Field) string {
	if name, ok := f.Custom(); ok {
		return r.CustomFields[name]
	}
	switch f {
	case FieldLogin:
		return r.Login
	case FieldPassword:
		return r.Password
	case FieldCPF:
		return r.CPF
	case FieldCardNumber:
		return r.CardNumber
	case FieldCurrentBalance:
		return strconv.FormatInt(r.CurrentBalance, 10)
	case FieldEliteTier:
		return r.EliteTier
	case FieldNotes:
		return r.Notes
	}
	return Empty
}

// With returns a copy of r with field f set to value. Setting a custom field
// to Empty removes the key. value must already be coerced for numeric fields.
func (r ProgramRecord) With(f Field, value string) ProgramRecord {
	out := r.Clone()
	if name, ok := f.Custom(); ok {
		if value == Empty {
			delete(out.CustomFields, name)
			return out
		}
		if out.CustomFields == nil {
			out.CustomFields = make(map[string]string)
		}
		out.CustomFields[name] = value
		return out
	}
	switch f {
	case FieldLogin:
		out.Login = value
	case FieldPassword:
		out.Password = value
	case FieldCPF:
		out.CPF = value
	case FieldCardNumber:
		out.CardNumber = value
	case FieldCurrentBalance:
		n, _ := CoerceInt(value)
		out.CurrentBalance = n
	case FieldEliteTier:
		out.EliteTier = value
	case FieldNotes:
		out.Notes = value
	}
	return out
}

// Fields returns every field currently addressable on r: the fixed schema
// followed by the record's custom fields in name order.
func (r ProgramRecord) Fields() []Field {
	out := make([]Field, 0, len(EditableFields)+len(r.CustomFields))
	out = append(out, EditableFields...)
	for _, name := range sortedKeys(r.CustomFields) {
		out = append(out, CustomField(name))
	}
	return out
}

// CoerceInt parses the leading integer of s. Input without a leading integer
// yields 0 and ok=false; callers surface that as a validation warning.
// Literals outside the int64 range clamp to its bounds, also with ok=false.
func CoerceInt(s string) (n int64, ok bool) {
	n, err := ParseLeadingInt(s)
	return n, err == nil
}

// ParseLeadingInt is CoerceInt reporting why coercion failed: ErrNotANumber
// or ErrOutOfRange.
func ParseLeadingInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, ErrNotANumber
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return n, ErrOutOfRange
	}
	if err != nil {
		return 0, ErrNotANumber
	}
	return n, nil
}

// Normalize coerces value for field f. For numeric fields the result is the
// canonical decimal form; ok is false when coercion fell back to zero.
func Normalize(f Field, value string) (string, bool) {
	if !f.Numeric() {
		return value, true
	}
	n, ok := CoerceInt(value)
	return strconv.FormatInt(n, 10), ok
}

// FormatNumber renders n with '.' as the thousands separator.
func FormatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// DisplayValue renders a stored field value for humans.
func DisplayValue(f Field, value string) string {
	if f.Numeric() {
		if n, ok := CoerceInt(value); ok {
			return FormatNumber(n)
		}
	}
	return value
}
