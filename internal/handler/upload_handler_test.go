package handler_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"upqueue/internal/domain"
	"upqueue/internal/handler"
	"upqueue/internal/service"
	"upqueue/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newUploadHandler(svc *mocks.MockUploadService) *handler.UploadHandler {
	return handler.NewUploadHandler(svc, domain.DefaultPolicy(), 1024)
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) handler.APIResponse {
	t.Helper()
	var resp handler.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUploadHandler_EnqueueJSON(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)

	svc.On("Enqueue", mock.Anything, mock.MatchedBy(func(in service.EnqueueInput) bool {
		return in.URI == "s3://bucket/a.png" &&
			in.Options["folder"] == "x" &&
			in.Policy != nil && in.Policy.MaxRetries == 1 &&
			in.Policy.Backoff == domain.DefaultPolicy().Backoff
	})).Return(&domain.UploadRequest{ID: "r1", Status: domain.RequestStatusPending}, nil).Once()

	body := `{"uri":"s3://bucket/a.png","options":{"folder":"x"},"policy":{"max_retries":1}}`
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Enqueue(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.Data.(map[string]interface{})["id"])
	svc.AssertExpectations(t)
}

func TestUploadHandler_EnqueueJSONWithoutPolicyUsesServiceDefault(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)

	svc.On("Enqueue", mock.Anything, mock.MatchedBy(func(in service.EnqueueInput) bool {
		return in.ResourceID != nil && *in.ResourceID == 2 && in.Policy == nil && in.Unsigned
	})).Return(&domain.UploadRequest{ID: "r2"}, nil).Once()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(`{"resource_id":2,"unsigned":true}`))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Enqueue(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

func TestUploadHandler_EnqueueRejectsInvalidPolicy(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/uploads",
		strings.NewReader(`{"uri":"file:///a","policy":{"network_policy":"wifi"}}`))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Enqueue(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_POLICY", decodeResponse(t, w).Error.Code)
	svc.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestUploadHandler_EnqueueMultipart(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)

	svc.On("Enqueue", mock.Anything, mock.MatchedBy(func(in service.EnqueueInput) bool {
		return string(in.Bytes) == "hello" &&
			in.Options["filename"] == "hello.txt" &&
			in.Options["folder"] == "docs" &&
			in.Policy != nil && in.Policy.Network == domain.NetworkNone
	})).Return(&domain.UploadRequest{ID: "r3"}, nil).Once()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("file", "hello.txt")
	_, _ = part.Write([]byte("hello"))
	_ = writer.WriteField("options", `{"folder":"docs"}`)
	_ = writer.WriteField("network_policy", "none")
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())

	h.Enqueue(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

func TestUploadHandler_EnqueueMultipartTooLarge(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("file", "big.bin")
	_, _ = part.Write(make([]byte, 2048))
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())

	h.Enqueue(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadHandler_EnqueueMapsServiceErrors(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)
	svc.On("Enqueue", mock.Anything, mock.Anything).Return(nil, domain.ErrUnsupportedSource).Once()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(`{}`))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Enqueue(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED_SOURCE", decodeResponse(t, w).Error.Code)
}

func TestUploadHandler_GetWithResult(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)

	result := domain.ErrorResult(domain.FileDoesNotExist)
	svc.On("Get", mock.Anything, "r1").Return(&service.UploadView{
		Request: &domain.UploadRequest{ID: "r1", Status: domain.RequestStatusFailed, LastError: domain.FileDoesNotExist},
		Result:  &result,
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/api/v1/uploads/r1", nil)
	c.Params = gin.Params{{Key: "id", Value: "r1"}}

	h.Get(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]interface{})
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, domain.FileDoesNotExist.String(), data["last_error"])
	assert.Equal(t, false, data["result"].(map[string]interface{})["succeeded"])
}

func TestUploadHandler_GetNotFound(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)
	svc.On("Get", mock.Anything, "nope").Return(nil, domain.ErrNotFound)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/api/v1/uploads/nope", nil)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}

	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadHandler_List(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)
	svc.On("List", mock.Anything, domain.RequestStatusPending, 0, 20).
		Return([]domain.UploadRequest{{ID: "a"}, {ID: "b"}}, 2, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/api/v1/uploads?status=pending", nil)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, 2, resp.Meta.Total)
}

func TestUploadHandler_Cancel(t *testing.T) {
	svc := new(mocks.MockUploadService)
	h := newUploadHandler(svc)
	svc.On("Cancel", mock.Anything, "r1").Return(nil).Once()
	svc.On("Cancel", mock.Anything, "r2").Return(domain.ErrNotCancelable).Once()

	for id, want := range map[string]int{"r1": http.StatusOK, "r2": http.StatusConflict} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request, _ = http.NewRequest(http.MethodDelete, "/api/v1/uploads/"+id, nil)
		c.Params = gin.Params{{Key: "id", Value: id}}

		h.Cancel(c)

		assert.Equal(t, want, w.Code, id)
	}
	svc.AssertExpectations(t)
}
