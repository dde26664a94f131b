// Package handler provides HTTP handlers for the AirPulse API.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/airpulse/airpulse/internal/api/models"
	"github.com/airpulse/airpulse/internal/api/response"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("query"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// queryParser collects parse failures so they are reported together with
// validation failures.
type queryParser struct {
	values url.Values
	errs   []models.FieldError
}

func newQueryParser(r *http.Request) *queryParser {
	return &queryParser{values: r.URL.Query()}
}

func (p *queryParser) float(key string) *float64 {
	raw := p.values.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, "must be a number")
		return nil
	}
	return &v
}

func (p *queryParser) int(key string) *int {
	raw := p.values.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, "must be an integer")
		return nil
	}
	return &v
}

// duration accepts Go durations ("6h", "90m") and plain hour counts ("24").
func (p *queryParser) duration(key string) *time.Duration {
	raw := p.values.Get(key)
	if raw == "" {
		return nil
	}
	if hours, err := strconv.Atoi(raw); err == nil {
		d := time.Duration(hours) * time.Hour
		return &d
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, "must be a duration such as 24h")
		return nil
	}
	return &d
}

func (p *queryParser) fail(key, message string) {
	p.errs = append(p.errs, models.FieldError{Field: key, Message: message, Code: "invalid"})
}

// check validates q and writes a 400 problem when parsing or validation
// failed. It reports whether the handler may continue.
func (p *queryParser) check(w http.ResponseWriter, r *http.Request, q any) bool {
	errs := p.errs
	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			response.InternalError(w, r, "query validation failed")
			return false
		}
		for _, fe := range verrs {
			if p.failed(fe.Field()) {
				continue
			}
			errs = append(errs, models.FieldError{
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Code:    fe.Tag(),
			})
		}
	}

	if len(errs) == 0 {
		return true
	}
	response.BadRequest(w, r, "invalid query parameters", errs)
	return false
}

func (p *queryParser) failed(field string) bool {
	for _, e := range p.errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte", "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return "is invalid"
	}
}
