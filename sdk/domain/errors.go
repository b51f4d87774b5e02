package domain

import (
	"errors"
	"fmt"
)

// ErrorCode representa un tipo de fallo legible por máquina del bridge.
type ErrorCode string

// Códigos de error estándar
const (
	// ErrNoError indica éxito (sin error)
	ErrNoError ErrorCode = "NO_ERROR"

	// Errores de elegibilidad (dispatch)
	ErrUnknownAccount      ErrorCode = "UNKNOWN_ACCOUNT"
	ErrAccountOffline      ErrorCode = "ACCOUNT_OFFLINE"
	ErrAccountPaused       ErrorCode = "ACCOUNT_PAUSED"
	ErrAccountNotActivated ErrorCode = "ACCOUNT_NOT_ACTIVATED"

	// Errores de cola
	ErrQueueWriteFailed ErrorCode = "QUEUE_WRITE_FAILED"
	ErrQueueFull        ErrorCode = "QUEUE_FULL"
	ErrUnknownCommand   ErrorCode = "UNKNOWN_COMMAND"

	// Errores de administración
	ErrUnknownPair ErrorCode = "UNKNOWN_PAIR"

	// Errores de validación de entrada
	ErrInvalidAccount ErrorCode = "INVALID_ACCOUNT"
	ErrInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"

	// Errores de sistema
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// BridgeError representa un error del dominio con su código y contexto.
type BridgeError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implementa la interfaz error.
func (e *BridgeError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implementa la interfaz errors.Unwrap.
func (e *BridgeError) Unwrap() error {
	return e.Wrapped
}

// WithDetail agrega un detalle al error.
func (e *BridgeError) WithDetail(key string, value interface{}) *BridgeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError crea un nuevo BridgeError.
//
// Example:
//
//	err := domain.NewError(domain.ErrAccountPaused, "account 1001 is paused")
func NewError(code ErrorCode, message string) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError envuelve un error existente con un código del dominio.
//
// Example:
//
//	err := domain.WrapError(domain.ErrQueueWriteFailed, "journal put failed", boltErr)
func WrapError(code ErrorCode, message string, wrapped error) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: wrapped,
	}
}

// CodeOf extrae el ErrorCode de una cadena de errores.
// Retorna ErrNoError para nil y ErrInternal si no hay BridgeError en la cadena.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNoError
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrInternal
}

// IsCode reporta si err contiene un BridgeError con el código indicado.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
