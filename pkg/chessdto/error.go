package chessdto

// Error codes carried in the "error" field of a failed response.
const (
	CodeInvalidInput   = "InvalidInput"
	CodeIllegalMove    = "IllegalMove"
	CodeInvalidSession = "InvalidSession"
	CodeNotFound       = "NotFound"
	CodeInternal       = "InternalError"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess service error"
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewErrorResponse(e DomainError) ErrorResponse {
	return ErrorResponse{Success: false, Error: e.Code, Message: e.Message}
}
