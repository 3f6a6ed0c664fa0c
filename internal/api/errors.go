package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"mantleforge/internal/common"
	"mantleforge/internal/manager"
	"mantleforge/internal/mint"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const invalidSignatureMessage = "Invalid Signature"

var registerTagNames sync.Once

// useJSONFieldNames makes validator report fields by their JSON names, so a
// missing assetData.valuation is reported as such rather than as
// AssetData.Valuation.
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
	})
}

// bindError converts a request decoding failure into a MalformedField body.
func bindError(err error) common.ErrorResponse {
	resp := common.ErrorResponse{
		Error:  "malformed request body",
		Reason: string(mint.ReasonMalformedField),
		Field:  "body",
	}

	var validationErrs validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &validationErrs) && len(validationErrs) > 0:
		fieldErr := validationErrs[0]
		resp.Field = fieldPath(fieldErr.Namespace())
		if fieldErr.Tag() == "required" {
			resp.Error = resp.Field + " is required"
		} else {
			resp.Error = resp.Field + " failed " + fieldErr.Tag() + " validation"
		}
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			resp.Field = typeErr.Field
		}
		resp.Error = resp.Field + ": expected an integer or a decimal string, got " + typeErr.Value
	case errors.As(err, &syntaxErr):
		resp.Error = "request body is not valid JSON"
	case errors.Is(err, io.EOF):
		resp.Error = "request body is empty"
	}
	return resp
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

var assetFields = map[string]bool{
	"name":      true,
	"valuation": true,
	"riskScore": true,
	"dataHash":  true,
}

// mintErrorResponse maps a failed submission onto its HTTP status and body.
func mintErrorResponse(err error) (int, common.ErrorResponse) {
	if errors.Is(err, manager.ErrDuplicateRequest) {
		return http.StatusConflict, common.ErrorResponse{
			Error:  "A mint with this signature is already being processed",
			Reason: "DuplicateRequest",
		}
	}

	var flowErr *mint.Error
	if !errors.As(err, &flowErr) {
		return http.StatusInternalServerError, common.ErrorResponse{Error: "internal error"}
	}

	switch flowErr.Reason {
	case mint.ReasonInvalidSignature:
		return http.StatusUnauthorized, common.ErrorResponse{Error: invalidSignatureMessage}
	case mint.ReasonMalformedField:
		field := flowErr.Field
		if assetFields[field] {
			field = "assetData." + field
		}
		msg := messageOr(flowErr, "malformed field")
		if field != "" {
			msg = field + ": " + msg
		}
		return http.StatusBadRequest, common.ErrorResponse{
			Error:  msg,
			Reason: string(flowErr.Reason),
			Field:  field,
		}
	case mint.ReasonRiskTooHigh:
		return http.StatusUnprocessableEntity, common.ErrorResponse{
			Error:  messageOr(flowErr, "Risk Too High: Mint Rejected"),
			Reason: string(flowErr.Reason),
		}
	case mint.ReasonLedgerRejected:
		return http.StatusBadGateway, common.ErrorResponse{
			Error:  messageOr(flowErr, "ledger rejected the mint"),
			Reason: string(flowErr.Reason),
			TxHash: flowErr.TxHash,
		}
	case mint.ReasonTimeout:
		return http.StatusGatewayTimeout, common.ErrorResponse{
			Error:  messageOr(flowErr, "ledger did not answer in time"),
			Reason: string(flowErr.Reason),
			TxHash: flowErr.TxHash,
		}
	default:
		return http.StatusInternalServerError, common.ErrorResponse{
			Error:  "internal error",
			Reason: string(mint.ReasonInternalError),
			TxHash: flowErr.TxHash,
		}
	}
}

func messageOr(flowErr *mint.Error, fallback string) string {
	if flowErr.Message != "" {
		return flowErr.Message
	}
	return fallback
}
