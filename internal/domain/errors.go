package domain

import "errors"

// ErrorCode is the stable integer error taxonomy reported to listeners.
type ErrorCode int

const (
	NoError               ErrorCode = 0
	OptionsFailure        ErrorCode = 1
	PayloadEmpty          ErrorCode = 2
	PayloadLoadFailure    ErrorCode = 3
	URIDoesNotExist       ErrorCode = 4
	FileDoesNotExist      ErrorCode = 5
	ByteArrayPayloadEmpty ErrorCode = 6
	ResourceDoesNotExist  ErrorCode = 7
	SignatureFailure      ErrorCode = 8
	NetworkError          ErrorCode = 9
	TransferRejected      ErrorCode = 10
	UnknownError          ErrorCode = 11
)

var codeNames = map[ErrorCode]string{
	NoError:               "NO_ERROR",
	OptionsFailure:        "OPTIONS_FAILURE",
	PayloadEmpty:          "PAYLOAD_EMPTY",
	PayloadLoadFailure:    "PAYLOAD_LOAD_FAILURE",
	URIDoesNotExist:       "URI_DOES_NOT_EXIST",
	FileDoesNotExist:      "FILE_DOES_NOT_EXIST",
	ByteArrayPayloadEmpty: "BYTE_ARRAY_PAYLOAD_EMPTY",
	ResourceDoesNotExist:  "RESOURCE_DOES_NOT_EXIST",
	SignatureFailure:      "SIGNATURE_FAILURE",
	NetworkError:          "NETWORK_ERROR",
	TransferRejected:      "TRANSFER_REJECTED",
	UnknownError:          "UNKNOWN_ERROR",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN_ERROR"
}

// Pipeline errors. Each maps to exactly one ErrorCode through CodeOf.
var (
	ErrOptionsFailure        = errors.New("options could not be decoded")
	ErrPayloadEmpty          = errors.New("payload descriptor is missing")
	ErrPayloadLoadFailure    = errors.New("payload descriptor could not be parsed")
	ErrURIDoesNotExist       = errors.New("uri does not reference existing content")
	ErrFileDoesNotExist      = errors.New("file does not exist or is not readable")
	ErrByteArrayPayloadEmpty = errors.New("byte array payload is empty")
	ErrResourceDoesNotExist  = errors.New("resource id is not bundled")
	ErrSignatureFailure      = errors.New("signature could not be obtained")
	ErrNetwork               = errors.New("transfer failed with a network error")
	ErrTransferRejected      = errors.New("transfer was rejected by the server")
)

// Service errors.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrMissingRequestID  = errors.New("request id is missing")
	ErrNotCancelable     = errors.New("request is no longer pending")
	ErrUnsupportedSource = errors.New("exactly one payload source must be provided")
	ErrFileTooLarge      = errors.New("file exceeds maximum allowed size")
	ErrInvalidPolicy     = errors.New("invalid retry policy")
)

var errCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrOptionsFailure, OptionsFailure},
	{ErrPayloadEmpty, PayloadEmpty},
	{ErrPayloadLoadFailure, PayloadLoadFailure},
	{ErrURIDoesNotExist, URIDoesNotExist},
	{ErrFileDoesNotExist, FileDoesNotExist},
	{ErrByteArrayPayloadEmpty, ByteArrayPayloadEmpty},
	{ErrResourceDoesNotExist, ResourceDoesNotExist},
	{ErrSignatureFailure, SignatureFailure},
	{ErrNetwork, NetworkError},
	{ErrTransferRejected, TransferRejected},
}

// CodeOf returns the ErrorCode for err. Unrecognized errors map to UnknownError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	for _, ec := range errCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return UnknownError
}
