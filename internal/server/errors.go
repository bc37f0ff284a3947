package server

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"casino/internal/crash"
)

// APIError is the standard error response body.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

const CODE_INVALID_REQUEST = "InvalidRequest"

func statusFor(kind crash.ErrorKind) int {
	switch kind {
	case crash.KindValidation:
		return fiber.StatusBadRequest
	case crash.KindConflict:
		return fiber.StatusConflict
	case crash.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func apiError(err error) (int, APIError) {
	if e, ok := crash.AsError(err); ok {
		return statusFor(e.Kind), APIError{Error: e.Message, Code: e.Code, Message: e.Message}
	}
	log.Printf("[SERVER] Internal error: %v", err)
	return fiber.StatusInternalServerError, APIError{
		Error:   "internal server error",
		Code:    "Internal",
		Message: "internal server error",
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := apiError(err)
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(APIError{
		Error:   msg,
		Code:    CODE_INVALID_REQUEST,
		Message: msg,
	})
}
