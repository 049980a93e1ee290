package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"fieldroute/internal/model"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var errMissingJobIDs = errors.New("jobIds is required")

func decodeAssignRequest(w http.ResponseWriter, r *http.Request) (model.BulkAssignRequest, error) {
	var req model.BulkAssignRequest
	// unknown fields are ignored
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errMissingJobIDs
		}
		return req, fmt.Errorf("invalid JSON body: %v", err)
	}
	return req, validateAssignRequest(req)
}

func validateAssignRequest(req model.BulkAssignRequest) error {
	if len(req.JobIDs) == 0 {
		return errMissingJobIDs
	}
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	// drop the root struct name
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "unique":
		return field + " must not contain duplicates"
	case "datetime":
		return field + " must be a date (YYYY-MM-DD)"
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return field + " is invalid"
	}
}
