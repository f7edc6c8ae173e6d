// Package jsonio writes JSON responses and binds validated JSON requests.
package jsonio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// MaxBody caps request bodies.
const MaxBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
		return primitive.IsValidObjectID(fl.Field().String())
	})
	return v
}

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Write sends v as JSON with status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// OK sends v with 200.
func OK(w http.ResponseWriter, v any) { Write(w, http.StatusOK, v) }

// Error maps err to a status and error body. Unexpected errors are logged
// and their detail is not sent to the client.
func Error(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := ErrorBody{Error: apperr.CodeUnavailable, Message: "internal error"}

	var inv *InvalidInput
	switch e, ok := apperr.As(err); {
	case errors.As(err, &inv):
		status = http.StatusUnprocessableEntity
		body = ErrorBody{Error: apperr.CodeValidation, Message: inv.Error(), Fields: inv.Fields}
	case ok:
		body.Error, body.Message = e.Code, e.Msg
		if e.Kind == apperr.ExternalUnavailable {
			log.Warn("request failed", zap.String("code", e.Code), zap.Error(err))
		}
	default:
		log.Error("unhandled error", zap.Error(err))
	}
	Write(w, status, body)
}

// InvalidInput is a request body that failed binding or validation.
type InvalidInput struct {
	Msg    string
	Fields map[string]string
}

func (e *InvalidInput) Error() string { return e.Msg }

// Decode reads a JSON body into dst and validates it against its
// `validate` tags.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &InvalidInput{Msg: "request body is empty"}
		}
		return &InvalidInput{Msg: "malformed JSON: " + err.Error()}
	}
	return Validate(dst)
}

// Validate checks v's `validate` tags.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return &InvalidInput{Msg: err.Error()}
	}
	fields := make(map[string]string, len(ve))
	names := make([]string, 0, len(ve))
	for _, fe := range ve {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
		names = append(names, fe.Field())
	}
	sort.Strings(names)
	return &InvalidInput{Msg: "invalid fields: " + strings.Join(names, ", "), Fields: fields}
}

// ObjectIDParam parses the chi URL parameter name as an ObjectID.
func ObjectIDParam(r *http.Request, name string) (primitive.ObjectID, error) {
	raw := chi.URLParam(r, name)
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, apperr.Invalid(apperr.CodeValidation, fmt.Sprintf("%s is not a valid id", name))
	}
	return id, nil
}

// Principal returns the caller, or writes 401 and reports false.
func Principal(w http.ResponseWriter, r *http.Request) (authz.Principal, bool) {
	p, ok := authz.CurrentPrincipal(r)
	if !ok {
		Write(w, http.StatusUnauthorized, ErrorBody{Error: "Unauthenticated", Message: "sign in required"})
	}
	return p, ok
}
