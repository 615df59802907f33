package api

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hrplabs/hrp-booking/internal/booking"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	for tag, fn := range map[string]validator.Func{
		"weekday":   validateWeekday,
		"slotlabel": validateSlotLabel,
		"dateonly":  validateDateOnly,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic("register validation " + tag + ": " + err.Error())
		}
	}
}

func validateWeekday(fl validator.FieldLevel) bool {
	_, err := booking.ParseWeekday(fl.Field().String())
	return err == nil
}

func validateSlotLabel(fl validator.FieldLevel) bool {
	return booking.ValidSlotLabel(fl.Field().String())
}

func validateDateOnly(fl validator.FieldLevel) bool {
	_, err := time.Parse(booking.DateFormat, fl.Field().String())
	return err == nil
}
