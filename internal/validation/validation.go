// Package validation checks typed request payloads before they reach the
// ledger engine.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/money"
)

const accountNumberLength = 12

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	vld.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	rules := map[string]validator.Func{
		"account_number": func(fl validator.FieldLevel) bool {
			return digits(fl.Field().String(), accountNumberLength, accountNumberLength)
		},
		// amount strings: positive, at most two decimal places
		"amount": func(fl validator.FieldLevel) bool {
			d, err := decimal.NewFromString(fl.Field().String())
			if err != nil {
				return false
			}
			return money.IsPositiveAmount(d)
		},
		"pin": func(fl validator.FieldLevel) bool {
			return digits(fl.Field().String(), 4, 6)
		},
	}
	for tag, fn := range rules {
		if err := vld.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("register %q validation: %w", tag, err)
		}
	}
	return vld, nil
}

// Validator returns the shared validator instance.
func Validator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// Struct validates payload and converts the first failure into a classified
// error.
func Struct(payload any) error {
	vld, err := Validator()
	if err != nil {
		return err
	}
	if err := vld.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return bankerr.Wrap(bankerr.InvalidRequest, "invalid request", err)
	}
	return nil
}

// Bind parses the request body into out and validates it.
func Bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return bankerr.Wrap(bankerr.InvalidRequest, "malformed request body", err)
	}
	return Struct(out)
}

func fieldError(fe validator.FieldError) error {
	field := fe.Field()
	switch fe.Tag() {
	case "amount":
		e := bankerr.New(bankerr.InvalidAmount, bankerr.ErrInvalidAmount.Reason)
		e.Field = field
		return e
	case "required":
		return bankerr.Invalid(field, fmt.Sprintf("%s is required", field))
	case "account_number":
		return bankerr.Invalid(field, fmt.Sprintf("%s must be a %d digit account number", field, accountNumberLength))
	case "pin":
		return bankerr.Invalid(field, fmt.Sprintf("%s must be 4 to 6 digits", field))
	case "eqfield":
		return bankerr.Invalid(field, fmt.Sprintf("%s must match %s", field, fe.Param()))
	case "oneof":
		return bankerr.Invalid(field, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
	case "max":
		return bankerr.Invalid(field, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
	case "uuid", "uuid4":
		return bankerr.Invalid(field, fmt.Sprintf("%s must be a UUID", field))
	default:
		return bankerr.Invalid(field, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
	}
}

func digits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
