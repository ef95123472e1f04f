package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/qcom/otpguard/internal/middleware"
	"github.com/qcom/otpguard/internal/service"
	"github.com/sirupsen/logrus"
)

type OTPHandlers struct {
	otpService *service.OTPService
	jwtService *service.JWTService
	validate   *validator.Validate
	logger     *logrus.Logger
}

func NewOTPHandlers(
	otpService *service.OTPService,
	jwtService *service.JWTService,
	logger *logrus.Logger,
) *OTPHandlers {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &OTPHandlers{
		otpService: otpService,
		jwtService: jwtService,
		validate:   validate,
		logger:     logger,
	}
}

type RequestOTPRequest struct {
	Identifier string `json:"identifier" validate:"required,email|e164"`
}

type RequestOTPResponse struct {
	Message   string `json:"message"`
	ExpiresIn int64  `json:"expires_in"`
}

type VerifyOTPRequest struct {
	Identifier string `json:"identifier" validate:"required,email|e164"`
	Code       string `json:"code" validate:"required,numeric,min=4,max=6"`
}

type VerifyOTPResponse struct {
	Token      string `json:"token"`
	TokenType  string `json:"token_type"`
	ExpiresIn  int64  `json:"expires_in"`
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
}

type WhoAmIResponse struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (h *OTPHandlers) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req RequestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	req.Identifier = normalizeIdentifier(req.Identifier)
	if !h.validRequest(w, req) {
		return
	}

	expiresAt, err := h.otpService.RequestOTP(r.Context(), req.Identifier)
	var throttled *service.ThrottledError
	switch {
	case err == nil:
		h.respondWithJSON(w, http.StatusAccepted, RequestOTPResponse{
			Message:   "OTP sent successfully",
			ExpiresIn: secondsUntil(expiresAt),
		})
	case errors.As(err, &throttled):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(throttled.RetryAfter.Seconds()))))
		h.respondWithError(w, http.StatusTooManyRequests, "OTP_THROTTLED", "Please wait before requesting another OTP")
	case errors.Is(err, service.ErrDeliveryFailed):
		h.respondWithError(w, http.StatusBadGateway, "DELIVERY_FAILED", "OTP could not be delivered, request a new one shortly")
	default:
		h.logger.WithError(err).Error("Failed to request OTP")
		h.respondWithError(w, http.StatusInternalServerError, "OTP_GENERATION_FAILED", "Failed to generate OTP")
	}
}

func (h *OTPHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	req.Identifier = normalizeIdentifier(req.Identifier)
	req.Code = strings.TrimSpace(req.Code)
	if !h.validRequest(w, req) {
		return
	}

	record, err := h.otpService.VerifyOTP(r.Context(), req.Identifier, req.Code)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, "OTP_NOT_FOUND", "No OTP was requested for this identifier")
		return
	case errors.Is(err, service.ErrExpired):
		h.respondWithError(w, http.StatusGone, "OTP_EXPIRED", "OTP has expired, request a new one")
		return
	case errors.Is(err, service.ErrInvalidCode):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_OTP", "Invalid OTP")
		return
	case errors.Is(err, service.ErrAlreadyVerified):
		h.respondWithError(w, http.StatusConflict, "ALREADY_VERIFIED", "OTP has already been used")
		return
	case errors.Is(err, service.ErrTooManyAttempts):
		h.respondWithError(w, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many invalid attempts, request a new OTP")
		return
	default:
		h.logger.WithError(err).Error("Failed to verify OTP")
		h.respondWithError(w, http.StatusInternalServerError, "OTP_VERIFICATION_FAILED", "Failed to verify OTP")
		return
	}

	token, err := h.jwtService.IssueVerificationToken(record.Identifier, record.Channel)
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue verification token")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		Token:      token.Token,
		TokenType:  token.TokenType,
		ExpiresIn:  token.ExpiresIn,
		Identifier: record.Identifier,
		Channel:    record.Channel,
	})
}

func (h *OTPHandlers) WhoAmI(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, WhoAmIResponse{
		Identifier: claims.Identifier,
		Channel:    claims.Channel,
	})
}

func (h *OTPHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *OTPHandlers) validRequest(w http.ResponseWriter, req any) bool {
	err := h.validate.Struct(req)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		h.logger.WithError(err).Error("Failed to validate request")
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = validationMessage(fe)
	}

	h.respondWithJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error: ErrorDetail{
			Code:    "VALIDATION_FAILED",
			Message: "Validation error",
			Fields:  fields,
		},
	})
	return false
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email|e164":
		return "must be an email address or an E.164 phone number"
	case "numeric":
		return "must contain digits only"
	case "min", "max":
		return "must be between 4 and 6 characters"
	default:
		return "is invalid"
	}
}

// normalizeIdentifier trims input and prefixes bare phone numbers with "+".
func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}
	if !strings.HasPrefix(identifier, "+") {
		identifier = "+" + identifier
	}
	return identifier
}

func secondsUntil(t time.Time) int64 {
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return int64(math.Round(d.Seconds()))
}

func (h *OTPHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *OTPHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
