package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"stockledger-api/internal/model"
	"stockledger-api/pkg/apierror"
	"stockledger-api/pkg/pagination"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	// decimals are compared as floats so gt/gte/required work on prices
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterStructValidation(validateTransactionRequest, transactionRequest{})
	return v
}

// validateTransactionRequest requires a strictly positive quantity for IN and OUT.
// ADJUSTMENT carries an absolute target, which may be zero.
func validateTransactionRequest(sl validator.StructLevel) {
	req := sl.Current().Interface().(transactionRequest)
	if req.Quantity == nil || req.Kind == model.TransactionAdjustment {
		return
	}
	if *req.Quantity <= 0 {
		sl.ReportError(req.Quantity, "quantity", "Quantity", "gt", "0")
	}
}

// decodeJSONBody decodes the request body into dest and validates its tags.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return decodeError(err)
	}
	if decoder.More() {
		return apierror.InvalidInput("request body must contain a single JSON object")
	}

	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func decodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return apierror.InvalidInput("request body is required")
	case errors.As(err, &syntaxErr):
		return apierror.InvalidInput(fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset))
	case errors.As(err, &typeErr):
		return apierror.InvalidInput("invalid request body", apierror.FieldError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("must be of type %s", typeErr.Type),
		})
	case errors.As(err, &maxErr):
		return apierror.InvalidInput(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return apierror.InvalidInput("invalid request body", apierror.FieldError{Field: field, Message: "is not allowed"})
	}
	return apierror.Wrap(apierror.KindInvalidInput, err, "invalid request body")
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return apierror.Wrap(apierror.KindInvalidInput, err, "validation failed")
	}

	details := make([]apierror.FieldError, 0, len(errs))
	for _, fe := range errs {
		details = append(details, apierror.FieldError{
			Field:   fieldPath(fe),
			Message: validationMessage(fe),
		})
	}
	return apierror.InvalidInput("validation failed", details...)
}

// fieldPath drops the root struct name from the namespace, e.g. transactions[1].quantity.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or greater", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}

// pathID parses a positive int64 route parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.InvalidInput(fmt.Sprintf("invalid %s", name),
			apierror.FieldError{Field: name, Message: "must be a positive integer"})
	}
	return id, nil
}

// queryInt parses an optional integer query parameter within [lo, hi].
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, apierror.InvalidInput(fmt.Sprintf("invalid %s", name),
			apierror.FieldError{Field: name, Message: fmt.Sprintf("must be an integer between %d and %d", lo, hi)})
	}
	return v, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apierror.InvalidInput(fmt.Sprintf("invalid %s", name),
			apierror.FieldError{Field: name, Message: "must be true or false"})
	}
	return v, nil
}

// pageParams reads skip and limit.
func pageParams(r *http.Request) (pagination.Params, error) {
	skip, err := queryInt(r, "skip", 0, 0, math.MaxInt32)
	if err != nil {
		return pagination.Params{}, err
	}
	limit, err := queryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Offset: skip, Limit: limit}, nil
}
