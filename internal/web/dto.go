package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type stageForm struct {
	Vendor   string `validate:"omitempty,max=128,printascii"`
	FileName string `validate:"omitempty,max=255"`
}

type remapRequest struct {
	Mapping []string `json:"mapping" validate:"required,max=1000,dive,max=64"`
}

type editRowRequest struct {
	Values map[string]string `json:"values" validate:"required,min=1,max=64,dive,keys,min=1,max=64,endkeys,max=4096"`
}

type commitRequest struct {
	Mode     string            `json:"mode" validate:"required"`
	Strategy string            `json:"strategy" validate:"omitempty,max=64"`
	Defaults map[string]string `json:"defaults" validate:"omitempty,max=64,dive,keys,min=1,max=64,endkeys,max=4096"`
	Vendor   string            `json:"vendor" validate:"omitempty,max=128,printascii"`
}

type listRowsQuery struct {
	Page     int    `validate:"min=0"`
	PageSize int    `validate:"min=0"`
	Filter   string `validate:"omitempty,oneof=all valid invalid"`
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return validateStruct(dst)
}

// validateStruct runs struct tag validation and flattens failures into one
// request error.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest(err.Error())
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = describeFieldError(fe)
	}
	return badRequest(strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "printascii":
		return field + " must contain printable ASCII only"
	}
	return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
}
