package types

import "net/http"

// Error codes returned in ErrorBody.Code. The numeric suffix is the HTTP
// status the code is sent with; CHANNEL_403 and CHANNEL_422 are rejected
// channel writes (read-only channel, value outside the declared range).
const (
	CodeSystemReload      = "SYSTEM_500"
	CodeComponentNotFound = "COMPONENT_404"
	CodeComponentInvalid  = "COMPONENT_400"
	CodeComponentStore    = "COMPONENT_500"
	CodeChannelNotFound   = "CHANNEL_404"
	CodeChannelInvalid    = "CHANNEL_400"
	CodeChannelReadOnly   = "CHANNEL_403"
	CodeChannelRange      = "CHANNEL_422"
	CodeImageEncoding     = "IMAGE_500"
	CodeStoreDisabled     = "STORE_503"
	CodeProfileMissing    = "PROFILE_404"
	CodeProfileInvalid    = "PROFILE_422"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ChannelWriteError maps a rejected channel write to its status and code.
// readOnly and outOfRange are the outcomes of errors.Is against the channel
// package sentinels; anything else is a malformed value.
func ChannelWriteError(readOnly, outOfRange bool) (int, string) {
	switch {
	case readOnly:
		return http.StatusForbidden, CodeChannelReadOnly
	case outOfRange:
		return http.StatusUnprocessableEntity, CodeChannelRange
	default:
		return http.StatusBadRequest, CodeChannelInvalid
	}
}
