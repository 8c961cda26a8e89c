package service_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"upqueue/internal/domain"
	"upqueue/internal/params"
	"upqueue/internal/payload"
	"upqueue/internal/port"
	"upqueue/internal/service"
	"upqueue/internal/signing"
	"upqueue/mocks"
)

func TestRequestProcessor_ValidUpload(t *testing.T) {
	d := newTestDispatcher(t)
	cb := newStatefulCallback()
	d.Register(bg, cb)
	var received port.TransferInput
	var body []byte
	transfer := new(mocks.MockTransfer)
	transfer.On("Transfer", mock.Anything, mock.AnythingOfType("port.TransferInput")).
		Run(func(args mock.Arguments) {
			received = args.Get(1).(port.TransferInput)
			body, _ = io.ReadAll(received.Body)
			received.Progress(int64(len(body)), received.Size)
		}).
		Return(map[string]interface{}{"public_id": "abc"}, nil).Once()

	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), nil, transfer)
	path := writeAsset(t, "valid.jpg", []byte("jpeg bytes"))

	status := proc.ProcessRequest(bg, newParams(t, "r1", map[string]interface{}{}, payload.File{Path: path}.Encode()))

	assert.Equal(t, domain.OutcomeSuccess, status.Outcome)
	assert.Equal(t, domain.NoError, status.Code)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Succeeded())
	data, ok := cb.successFor("r1")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"public_id": "abc"}, data)
	assert.Empty(t, cb.errorsFor("r1"))
	assert.Equal(t, []int64{10}, cb.progress["r1"])
	assert.Equal(t, []string{"r1"}, cb.started)
	assert.Equal(t, "jpeg bytes", string(body))
	assert.Equal(t, "r1", received.RequestID)
	assert.Equal(t, int64(10), received.Size)
	assert.Nil(t, received.Signature)
	transfer.AssertExpectations(t)
}

func TestRequestProcessor_InputErrorsNeverReachTransfer(t *testing.T) {
	tests := []struct {
		name       string
		options    string
		descriptor string
		want       domain.ErrorCode
	}{
		{name: "invalid options", options: "bad options string", descriptor: "bad uri!", want: domain.OptionsFailure},
		{name: "options not an object", options: "WzEsMl0=", want: domain.OptionsFailure},
		{name: "no payload", want: domain.PayloadEmpty},
		{name: "invalid payload", descriptor: "bad uri!", want: domain.PayloadLoadFailure},
		{name: "invalid uri", descriptor: payload.LocalURI{URI: "bad uri!"}.Encode(), want: domain.URIDoesNotExist},
		{name: "invalid file", descriptor: payload.File{Path: "bad path!"}.Encode(), want: domain.FileDoesNotExist},
		{name: "empty byte array", descriptor: payload.ByteArray{Data: []byte{}}.Encode(), want: domain.ByteArrayPayloadEmpty},
		{name: "invalid resource", descriptor: payload.Resource{ID: -10}.Encode(), want: domain.ResourceDoesNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t)
			cb := newStatefulCallback()
			d.Register(bg, cb)
			transfer := new(mocks.MockTransfer)
			signer := new(mocks.MockSignatureProvider)
			proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), signer, transfer)

			bag := newParams(t, "r2", nil, tt.descriptor)
			if tt.options != "" {
				bag.PutString(params.KeyOptions, tt.options)
			}

			status := proc.ProcessRequest(bg, bag)

			assert.Equal(t, domain.OutcomeError, status.Outcome)
			assert.Equal(t, tt.want, status.Code)
			assert.Equal(t, []domain.ErrorCode{tt.want}, cb.errorsFor("r2"))
			_, ok := cb.successFor("r2")
			assert.False(t, ok)
			transfer.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
			signer.AssertNotCalled(t, "ProvideSignature", mock.Anything, mock.Anything)
		})
	}
}

func TestRequestProcessor_SignatureFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *mocks.MockSignatureProvider)
	}{
		{name: "nil signature", setup: func(m *mocks.MockSignatureProvider) {
			m.On("ProvideSignature", mock.Anything, mock.Anything).Return(nil, nil)
		}},
		{name: "provider error", setup: func(m *mocks.MockSignatureProvider) {
			m.On("ProvideSignature", mock.Anything, mock.Anything).Return(nil, errors.New("no credentials"))
		}},
		{name: "provider panics", setup: func(m *mocks.MockSignatureProvider) {
			m.On("ProvideSignature", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t)
			cb := newStatefulCallback()
			d.Register(bg, cb)
			transfer := new(mocks.MockTransfer)
			signer := new(mocks.MockSignatureProvider)
			signer.On("Name").Return("test-signer").Maybe()
			tt.setup(signer)
			proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), signer, transfer)

			path := writeAsset(t, "valid.jpg", []byte("jpeg"))
			descriptors := map[string]string{
				"r3-file":  payload.File{Path: path}.Encode(),
				"r3-bytes": payload.ByteArray{Data: []byte("abc")}.Encode(),
			}
			for id, descriptor := range descriptors {
				status := proc.ProcessRequest(bg, newParams(t, id, nil, descriptor))

				assert.Equal(t, domain.SignatureFailure, status.Code, id)
				assert.Equal(t, []domain.ErrorCode{domain.SignatureFailure}, cb.errorsFor(id), id)
				assert.Empty(t, cb.reschedulesFor(id), id)
			}
			transfer.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
		})
	}
}

func TestRequestProcessor_PayloadErrorPrecedesSigning(t *testing.T) {
	d := newTestDispatcher(t)
	cb := newStatefulCallback()
	d.Register(bg, cb)
	transfer := new(mocks.MockTransfer)
	signer := new(mocks.MockSignatureProvider)
	signer.On("Name").Return("test-signer").Maybe()
	signer.On("ProvideSignature", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), signer, transfer)

	status := proc.ProcessRequest(bg, newParams(t, "r3-empty", nil, payload.ByteArray{Data: []byte{}}.Encode()))

	assert.Equal(t, domain.ByteArrayPayloadEmpty, status.Code)
	assert.Equal(t, []domain.ErrorCode{domain.ByteArrayPayloadEmpty}, cb.errorsFor("r3-empty"))
	signer.AssertNotCalled(t, "ProvideSignature", mock.Anything, mock.Anything)
	transfer.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestRequestProcessor_SignedUploadCarriesSignature(t *testing.T) {
	d := newTestDispatcher(t)
	signer := new(mocks.MockSignatureProvider)
	sig := &signing.Signature{Value: "sig", APIKey: "key", Timestamp: 1}
	signer.On("ProvideSignature", mock.Anything, map[string]interface{}{"folder": "a"}).Return(sig, nil).Once()
	transfer := new(mocks.MockTransfer)
	transfer.On("Transfer", mock.Anything, mock.MatchedBy(func(in port.TransferInput) bool {
		return in.Signature == sig
	})).Return(map[string]interface{}{"public_id": "x"}, nil).Once()

	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), signer, transfer)
	status := proc.ProcessRequest(bg, newParams(t, "r4", map[string]interface{}{"folder": "a"},
		payload.ByteArray{Data: []byte("abc")}.Encode()))

	assert.Equal(t, domain.OutcomeSuccess, status.Outcome)
	signer.AssertExpectations(t)
	transfer.AssertExpectations(t)
}

func TestRequestProcessor_UnsignedSkipsSigner(t *testing.T) {
	d := newTestDispatcher(t)
	signer := new(mocks.MockSignatureProvider)
	transfer := new(mocks.MockTransfer)
	transfer.On("Transfer", mock.Anything, mock.Anything).Return(nil, nil).Once()

	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), signer, transfer)
	bag := newParams(t, "r5", nil, payload.ByteArray{Data: []byte("abc")}.Encode())
	bag.PutInt(params.KeyUnsigned, 1)

	status := proc.ProcessRequest(bg, bag)

	assert.Equal(t, domain.OutcomeSuccess, status.Outcome)
	require.NotNil(t, status.Result)
	assert.NotNil(t, status.Result.Data)
	signer.AssertNotCalled(t, "ProvideSignature", mock.Anything, mock.Anything)
}

func TestRequestProcessor_RetryExhaustion(t *testing.T) {
	const maxRetries = 3
	d := newTestDispatcher(t)
	cb := newStatefulCallback()
	d.Register(bg, cb)
	transfer := new(mocks.MockTransfer)
	transfer.On("Transfer", mock.Anything, mock.Anything).
		Return(nil, port.Transient(503, errors.New("service unavailable")))

	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), nil, transfer)
	bag := newParams(t, "r6", nil, payload.ByteArray{Data: []byte("abc")}.Encode())
	domain.Policy{MaxRetries: maxRetries, Network: domain.NetworkAny, Backoff: domain.BackoffLinear, BackoffMillis: 10}.Apply(bag)

	var outcomes []domain.Outcome
	for i := 0; i < maxRetries+1; i++ {
		status := proc.ProcessRequest(bg, bag)
		outcomes = append(outcomes, status.Outcome)
		if status.Outcome == domain.OutcomeReschedule {
			assert.Equal(t, domain.NetworkError, status.Code)
			assert.Greater(t, int64(status.RetryAfter), int64(0))
		}
	}

	assert.Equal(t, []domain.Outcome{
		domain.OutcomeReschedule, domain.OutcomeReschedule, domain.OutcomeReschedule, domain.OutcomeError,
	}, outcomes)
	assert.Len(t, cb.reschedulesFor("r6"), maxRetries)
	assert.Equal(t, []domain.ErrorCode{domain.NetworkError}, cb.errorsFor("r6"))
	assert.Equal(t, maxRetries, bag.GetInt(params.KeyRetryCount, 0))
	transfer.AssertNumberOfCalls(t, "Transfer", maxRetries+1)
}

func TestRequestProcessor_FatalTransferIsTerminal(t *testing.T) {
	d := newTestDispatcher(t)
	cb := newStatefulCallback()
	d.Register(bg, cb)
	transfer := new(mocks.MockTransfer)
	transfer.On("Transfer", mock.Anything, mock.Anything).
		Return(nil, port.Fatal(400, errors.New("invalid upload preset"))).Once()

	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), nil, transfer)
	status := proc.ProcessRequest(bg, newParams(t, "r7", nil, payload.ByteArray{Data: []byte("abc")}.Encode()))

	assert.Equal(t, domain.OutcomeError, status.Outcome)
	assert.Equal(t, domain.TransferRejected, status.Code)
	assert.Empty(t, cb.reschedulesFor("r7"))
	assert.Equal(t, []domain.ErrorCode{domain.TransferRejected}, cb.errorsFor("r7"))
}

func TestRequestProcessor_TransferPanicMapsToUnknownError(t *testing.T) {
	d := newTestDispatcher(t)
	cb := newStatefulCallback()
	d.Register(bg, cb)
	transfer := new(mocks.MockTransfer)
	transfer.On("Transfer", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("nil map") })

	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), nil, transfer)
	status := proc.ProcessRequest(bg, newParams(t, "r8", nil, payload.ByteArray{Data: []byte("abc")}.Encode()))

	assert.Equal(t, domain.UnknownError, status.Code)
	assert.Equal(t, []domain.ErrorCode{domain.UnknownError}, cb.errorsFor("r8"))
}

func TestRequestProcessor_MissingRequestID(t *testing.T) {
	d := newTestDispatcher(t)
	transfer := new(mocks.MockTransfer)
	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), nil, transfer)

	status := proc.ProcessRequest(context.Background(), params.New())

	assert.Equal(t, domain.OutcomeError, status.Outcome)
	transfer.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestRequestProcessor_LateListenerGetsResult(t *testing.T) {
	d := newTestDispatcher(t)
	early1, early2, late := newStatefulCallback(), newStatefulCallback(), newStatefulCallback()
	d.Register(bg, early1)
	d.Register(bg, early2)
	transfer := new(mocks.MockTransfer)
	proc := service.NewRequestProcessor(d, payload.NewResolveContext(nil), nil, transfer)

	proc.ProcessRequest(bg, newParams(t, "r9", nil, payload.ByteArray{}.Encode()))
	d.Register(bg, late)
	d.WaitReplays()

	for _, cb := range []*statefulCallback{early1, early2, late} {
		assert.Equal(t, []domain.ErrorCode{domain.ByteArrayPayloadEmpty}, cb.errorsFor("r9"))
	}
}
