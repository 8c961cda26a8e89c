package service

import (
	"context"
	"fmt"
	"log"

	"upqueue/internal/domain"
	"upqueue/internal/params"
	"upqueue/internal/payload"
	"upqueue/internal/port"
	"upqueue/internal/signing"
)

// EventDispatcher receives the lifecycle events of request processing.
type EventDispatcher interface {
	DispatchStart(requestID string)
	DispatchProgress(requestID string, bytes, totalBytes int64)
	DispatchReschedule(requestID string, code domain.ErrorCode)
	DispatchSuccess(ctx context.Context, requestID string, data map[string]interface{})
	DispatchError(ctx context.Context, requestID string, code domain.ErrorCode)
}

// RequestProcessor runs one attempt of an upload request.
type RequestProcessor interface {
	// ProcessRequest decodes, resolves, signs and transfers the request
	// described by p. It never panics and never sleeps: a retryable failure
	// updates the retry count in p and is reported as OutcomeReschedule for the
	// scheduler to act on.
	ProcessRequest(ctx context.Context, p params.Params) domain.UploadStatus
}

type requestProcessor struct {
	dispatcher EventDispatcher
	resolve    *payload.ResolveContext
	signer     signing.Provider
	transfer   port.Transfer
}

// NewRequestProcessor creates a RequestProcessor. signer may be nil, in which
// case every request is uploaded unsigned.
func NewRequestProcessor(
	dispatcher EventDispatcher,
	resolve *payload.ResolveContext,
	signer signing.Provider,
	transfer port.Transfer,
) RequestProcessor {
	return &requestProcessor{
		dispatcher: dispatcher,
		resolve:    resolve,
		signer:     signer,
		transfer:   transfer,
	}
}

func (p *requestProcessor) ProcessRequest(ctx context.Context, bag params.Params) domain.UploadStatus {
	requestID := bag.GetString(params.KeyRequestID, "")
	if requestID == "" {
		log.Printf("requestProcessor.ProcessRequest: dropping request without %s", params.KeyRequestID)
		return domain.UploadStatus{Outcome: domain.OutcomeError, Code: domain.OptionsFailure}
	}

	if corr := bag.GetString(params.KeyCorrelationID, ""); corr != "" {
		log.Printf("requestProcessor.ProcessRequest: request %s attempt %d (correlation %s)",
			requestID, bag.GetInt(params.KeyRetryCount, 0)+1, corr)
	}
	p.dispatcher.DispatchStart(requestID)
	state := domain.StateCreated

	options, err := DecodeOptions(bag.GetString(params.KeyOptions, ""))
	if err != nil {
		return p.fail(ctx, requestID, state, err)
	}
	state = domain.StateOptionsDecoded

	pl, err := payload.Decode(bag.GetString(params.KeyPayload, ""))
	if err != nil {
		return p.fail(ctx, requestID, state, err)
	}
	src, err := pl.Resolve(ctx, p.resolve)
	if err != nil {
		return p.fail(ctx, requestID, state, err)
	}
	defer src.Close()
	state = domain.StatePayloadResolved

	var sig *signing.Signature
	if p.signer != nil && bag.GetInt(params.KeyUnsigned, 0) == 0 {
		sig, err = p.sign(ctx, options)
		if err != nil {
			return p.fail(ctx, requestID, state, err)
		}
		state = domain.StateSigned
	}

	total := src.Size
	name := src.Name
	if fn, ok := options["filename"].(string); ok && fn != "" {
		name = fn
	}
	result, err := p.runTransfer(ctx, port.TransferInput{
		RequestID:   requestID,
		Body:        src,
		Size:        src.Size,
		Name:        name,
		ContentType: src.ContentType,
		Options:     options,
		Signature:   sig,
		Progress: func(bytes, _ int64) {
			p.dispatcher.DispatchProgress(requestID, bytes, total)
		},
	})
	if err != nil {
		return p.handleTransferError(ctx, requestID, state, bag, err)
	}
	state = domain.StateTransferred

	if result == nil {
		result = map[string]interface{}{}
	}
	log.Printf("requestProcessor.ProcessRequest: request %s uploaded (%s, state %s)", requestID, pl.Kind(), state)
	p.dispatcher.DispatchSuccess(ctx, requestID, result)
	res := domain.SuccessResult(result)
	return domain.UploadStatus{Outcome: domain.OutcomeSuccess, Code: domain.NoError, Result: &res}
}

// handleTransferError reschedules transient failures while the policy has
// retries left and turns everything else into a terminal error.
func (p *requestProcessor) handleTransferError(ctx context.Context, requestID string, state domain.RequestState, bag params.Params, transferErr error) domain.UploadStatus {
	kind, code := ClassifyError(transferErr)
	policy := domain.PolicyFromParams(bag)
	retries := bag.GetInt(params.KeyRetryCount, 0)

	if kind == port.FailureTransient && retries < policy.MaxRetries {
		retries++
		bag.PutInt(params.KeyRetryCount, retries)
		delay := policy.Delay(retries)
		log.Printf("requestProcessor.ProcessRequest: request %s rescheduled (retry %d/%d in %s): %v",
			requestID, retries, policy.MaxRetries, delay, transferErr)
		p.dispatcher.DispatchReschedule(requestID, code)
		return domain.UploadStatus{Outcome: domain.OutcomeReschedule, Code: code, RetryAfter: delay}
	}

	if kind == port.FailureTransient {
		log.Printf("requestProcessor.ProcessRequest: request %s exhausted %d retries: %v", requestID, policy.MaxRetries, transferErr)
	}
	return p.terminalError(ctx, requestID, state, code, transferErr)
}

func (p *requestProcessor) fail(ctx context.Context, requestID string, state domain.RequestState, err error) domain.UploadStatus {
	code := domain.CodeOf(err)
	return p.terminalError(ctx, requestID, state, code, err)
}

func (p *requestProcessor) terminalError(ctx context.Context, requestID string, state domain.RequestState, code domain.ErrorCode, err error) domain.UploadStatus {
	log.Printf("requestProcessor.ProcessRequest: request %s failed after state %s with %s: %v", requestID, state, code, err)
	p.dispatcher.DispatchError(ctx, requestID, code)
	res := domain.ErrorResult(code)
	return domain.UploadStatus{Outcome: domain.OutcomeError, Code: res.Error, Result: &res}
}

func (p *requestProcessor) sign(ctx context.Context, options map[string]interface{}) (sig *signing.Signature, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig, err = nil, fmt.Errorf("%w: provider panicked: %v", domain.ErrSignatureFailure, r)
		}
	}()
	sig, err = p.signer.ProvideSignature(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureFailure, err)
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: provider %q returned no signature", domain.ErrSignatureFailure, p.signer.Name())
	}
	return sig, nil
}

func (p *requestProcessor) runTransfer(ctx context.Context, input port.TransferInput) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("transfer panicked: %v", r)
		}
	}()
	return p.transfer.Transfer(ctx, input)
}
