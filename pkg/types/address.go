package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var addressValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return v
}()

// Address is the structured shipping address persisted on an order as jsonb.
type Address struct {
	RecipientName string  `json:"recipientName" validate:"required,max=200"`
	Line1         string  `json:"line1" validate:"required,max=200"`
	Line2         *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City          string  `json:"city" validate:"required,max=100"`
	State         string  `json:"state" validate:"required,max=100"`
	PostalCode    string  `json:"postalCode" validate:"required,max=20"`
	Country       string  `json:"country" validate:"omitempty,len=2"`
	Phone         *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// Validate checks the normalized address against its validate tags and
// reports the first failing field.
func (a Address) Validate() error {
	err := addressValidator.Struct(a.Normalized())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("address: %w", err)
	}
	first := fieldErrs[0]
	switch first.Tag() {
	case "required":
		return fmt.Errorf("address: missing %s", first.Field())
	case "max":
		return fmt.Errorf("address: %s exceeds %s characters", first.Field(), first.Param())
	case "len":
		return fmt.Errorf("address: %s must be %s characters", first.Field(), first.Param())
	default:
		return fmt.Errorf("address: %s failed %s", first.Field(), first.Tag())
	}
}

// Normalized trims every component and defaults the country to US.
func (a Address) Normalized() Address {
	out := Address{
		RecipientName: strings.TrimSpace(a.RecipientName),
		Line1:         strings.TrimSpace(a.Line1),
		Line2:         trimOptional(a.Line2),
		City:          strings.TrimSpace(a.City),
		State:         strings.TrimSpace(a.State),
		PostalCode:    strings.TrimSpace(a.PostalCode),
		Country:       strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:         trimOptional(a.Phone),
	}
	if out.Country == "" {
		out.Country = "US"
	}
	return out
}

// Value marshals the address into its jsonb representation.
func (a Address) Value() (driver.Value, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(a.Normalized())
	if err != nil {
		return nil, fmt.Errorf("address: marshal %w", err)
	}
	return string(raw), nil
}

// Scan decodes the jsonb column.
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = Address{}
		return nil
	}

	raw, ok := toString(value)
	if !ok {
		return fmt.Errorf("address: unsupported scan type %T", value)
	}
	if strings.TrimSpace(raw) == "" {
		*a = Address{}
		return nil
	}

	var decoded Address
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return fmt.Errorf("address: decode %w", err)
	}
	*a = decoded
	return nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func toString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}
