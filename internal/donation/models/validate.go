package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	dErrors "foodlink/pkg/domain-errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(pickupWindowOrder, PickupWindow{})
	})
	return validate
}

// Validate checks struct tags and returns a CodeValidation error listing the
// failing fields.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid record")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return dErrors.New(dErrors.CodeValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must match layout %s", fe.Namespace(), fe.Param())
	case "window_order":
		return "pickup window timeFrom must be before timeTo"
	default:
		return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
}

func pickupWindowOrder(sl validator.StructLevel) {
	w := sl.Current().Interface().(PickupWindow)
	from, errFrom := time.Parse(TimeLayout, w.TimeFrom)
	to, errTo := time.Parse(TimeLayout, w.TimeTo)
	if errFrom != nil || errTo != nil {
		// field tags report the format error
		return
	}
	if !from.Before(to) {
		sl.ReportError(w.TimeTo, "TimeTo", "timeTo", "window_order", "")
	}
}
