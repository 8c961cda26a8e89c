package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"upqueue/internal/domain"
	"upqueue/internal/port"
)

var transientAPICodes = map[string]bool{
	"RequestTimeout":          true,
	"RequestTimeoutException": true,
	"SlowDown":                true,
	"Throttling":              true,
	"ThrottlingException":     true,
	"InternalError":           true,
	"ServiceUnavailable":      true,
}

// ClassifyError decides whether a transfer failure is worth retrying and which
// error code reports it. Failures nothing here recognizes are fatal UnknownError.
func ClassifyError(err error) (port.FailureKind, domain.ErrorCode) {
	var tErr *port.TransferError
	if errors.As(err, &tErr) {
		code := domain.CodeOf(tErr.Err)
		if code == domain.UnknownError || code == domain.NoError {
			code = codeForKind(tErr.Kind)
		}
		return tErr.Kind, code
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return port.FailureTransient, domain.NetworkError
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.HTTPStatusCode())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return port.FailureTransient, domain.NetworkError
		}
		return port.FailureFatal, domain.TransferRejected
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return port.FailureTransient, domain.NetworkError
	}

	if code := domain.CodeOf(err); code != domain.UnknownError {
		if code == domain.NetworkError {
			return port.FailureTransient, code
		}
		return port.FailureFatal, code
	}
	return port.FailureFatal, domain.UnknownError
}

func classifyStatus(status int) (port.FailureKind, domain.ErrorCode) {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return port.FailureTransient, domain.NetworkError
	case status >= 400:
		return port.FailureFatal, domain.TransferRejected
	default:
		return port.FailureFatal, domain.UnknownError
	}
}

// ClassifyStatus classifies an HTTP status code returned by an upload endpoint.
func ClassifyStatus(status int) port.FailureKind {
	kind, _ := classifyStatus(status)
	return kind
}

func codeForKind(kind port.FailureKind) domain.ErrorCode {
	if kind == port.FailureTransient {
		return domain.NetworkError
	}
	return domain.TransferRejected
}
