package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/medidispatch/dispatch-core/core/model"
)

const maxBodyBytes = 1 << 16

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("lat", func(fl validator.FieldLevel) bool {
		lat := fl.Field().Float()
		return lat >= -90 && lat <= 90
	})
	_ = v.RegisterValidation("lng", func(fl validator.FieldLevel) bool {
		lng := fl.Field().Float()
		return lng >= -180 && lng <= 180
	})
	return v
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,lat"`
	Lng *float64 `json:"lng" validate:"required,lng"`
}

func (r locationRequest) coordinate() model.Coordinate {
	return model.Coordinate{Lat: *r.Lat, Lng: *r.Lng}
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// bind decodes a single JSON object into dst and validates it. Errors wrap
// model.ErrInvalidInput.
func bind(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", model.ErrInvalidInput)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON body: %w", model.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed %q: %w", fe.Field(), fe.Tag(), model.ErrInvalidInput)
		}
		return fmt.Errorf("%v: %w", err, model.ErrInvalidInput)
	}
	return nil
}
