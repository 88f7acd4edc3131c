package models

import (
	"strconv"
	"strings"
	"unicode"

	dErrors "foodlink/pkg/domain-errors"
)

// Quantity is an amount with a free-form unit, rendered as "10 Kg".
type Quantity struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Unit   string  `json:"unit" validate:"required,max=16"`
}

// ParseQuantity accepts "10 Kg", "10Kg" and "2.5 L".
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	split := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	if split <= 0 {
		return Quantity{}, dErrors.New(dErrors.CodeValidation, "quantity must start with an amount, e.g. \"10 Kg\"")
	}
	amount, err := strconv.ParseFloat(s[:split], 64)
	if err != nil {
		return Quantity{}, dErrors.Wrap(err, dErrors.CodeValidation, "quantity amount is not a number")
	}
	q := Quantity{Amount: amount, Unit: strings.TrimSpace(s[split:])}
	if q.Amount <= 0 {
		return Quantity{}, dErrors.New(dErrors.CodeValidation, "quantity amount must be positive")
	}
	if q.Unit == "" {
		return Quantity{}, dErrors.New(dErrors.CodeValidation, "quantity unit is required")
	}
	return q, nil
}

func (q Quantity) String() string {
	return strconv.FormatFloat(q.Amount, 'f', -1, 64) + " " + q.Unit
}
