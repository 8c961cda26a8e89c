package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"upqueue/internal/domain"
	"upqueue/internal/middleware"
	"upqueue/internal/service"
)

// UploadHandler handles upload request endpoints.
type UploadHandler struct {
	uploadService service.UploadService
	defaultPolicy domain.Policy
	maxFileSize   int64
}

// NewUploadHandler creates a new UploadHandler. Policy fields a client leaves
// out are taken from defaultPolicy.
func NewUploadHandler(uploadService service.UploadService, defaultPolicy domain.Policy, maxFileSize int64) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		defaultPolicy: defaultPolicy,
		maxFileSize:   maxFileSize,
	}
}

type policyRequest struct {
	MaxRetries    *int   `json:"max_retries"`
	Network       string `json:"network_policy"`
	Backoff       string `json:"backoff_policy"`
	BackoffMillis *int64 `json:"backoff_millis"`
}

type enqueueRequest struct {
	URI        string                 `json:"uri"`
	FilePath   string                 `json:"file_path"`
	ResourceID *int                   `json:"resource_id"`
	Bytes      []byte                 `json:"bytes"`
	Options    map[string]interface{} `json:"options"`
	Policy     *policyRequest         `json:"policy"`
	Unsigned   bool                   `json:"unsigned"`
}

// UploadResponse is the API view of an upload request.
type UploadResponse struct {
	ID        string               `json:"id"`
	Status    domain.RequestStatus `json:"status"`
	Attempts  int                  `json:"attempts"`
	LastError string               `json:"last_error,omitempty"`
	NextRunAt time.Time            `json:"next_run_at"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Result    *ResultResponse      `json:"result,omitempty"`
}

// ResultResponse is the API view of a terminal result.
type ResultResponse struct {
	Succeeded bool                   `json:"succeeded"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func toUploadResponse(req *domain.UploadRequest, result *domain.UploadResult) UploadResponse {
	resp := UploadResponse{
		ID:        req.ID,
		Status:    req.Status,
		Attempts:  req.Attempts,
		NextRunAt: req.NextRunAt,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if req.LastError != domain.NoError {
		resp.LastError = req.LastError.String()
	}
	if result != nil {
		resp.Result = &ResultResponse{Succeeded: result.Succeeded(), Data: result.Data}
		if !result.Succeeded() {
			resp.Result.Error = result.Error.String()
		}
	}
	return resp
}

// Enqueue handles POST /api/v1/uploads. It accepts either a multipart form
// with a "file" part or a JSON body naming a uri, file_path, resource_id or
// inline bytes.
func (h *UploadHandler) Enqueue(c *gin.Context) {
	var (
		input service.EnqueueInput
		err   error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		input, err = h.multipartInput(c)
	} else {
		input, err = h.jsonInput(c)
	}
	if err != nil {
		HandleError(c, err)
		return
	}
	input.CorrelationID = middleware.RequestIDFrom(c)

	req, err := h.uploadService.Enqueue(c.Request.Context(), input)
	if err != nil {
		HandleError(c, err)
		return
	}
	middleware.SetUploadID(c, req.ID)
	RespondAccepted(c, toUploadResponse(req, nil))
}

func (h *UploadHandler) jsonInput(c *gin.Context) (service.EnqueueInput, error) {
	var body enqueueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return service.EnqueueInput{}, fmt.Errorf("%w: %v", domain.ErrOptionsFailure, err)
	}
	policy, err := h.mergePolicy(body.Policy)
	if err != nil {
		return service.EnqueueInput{}, err
	}
	return service.EnqueueInput{
		FilePath:   body.FilePath,
		Bytes:      body.Bytes,
		URI:        body.URI,
		ResourceID: body.ResourceID,
		Options:    body.Options,
		Policy:     policy,
		Unsigned:   body.Unsigned,
	}, nil
}

func (h *UploadHandler) multipartInput(c *gin.Context) (service.EnqueueInput, error) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		return service.EnqueueInput{}, domain.ErrUnsupportedSource
	}
	defer func() { _ = file.Close() }()

	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		return service.EnqueueInput{}, domain.ErrFileTooLarge
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return service.EnqueueInput{}, fmt.Errorf("reading upload: %w", err)
	}

	options := map[string]interface{}{}
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil || options == nil {
			return service.EnqueueInput{}, domain.ErrOptionsFailure
		}
	}
	if _, ok := options["filename"]; !ok {
		options["filename"] = header.Filename
	}

	pr := &policyRequest{
		Network: c.PostForm("network_policy"),
		Backoff: c.PostForm("backoff_policy"),
	}
	if v := c.PostForm("max_retries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return service.EnqueueInput{}, fmt.Errorf("%w: max_retries: %v", domain.ErrInvalidPolicy, err)
		}
		pr.MaxRetries = &n
	}
	if v := c.PostForm("backoff_millis"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return service.EnqueueInput{}, fmt.Errorf("%w: backoff_millis: %v", domain.ErrInvalidPolicy, err)
		}
		pr.BackoffMillis = &n
	}
	policy, err := h.mergePolicy(pr)
	if err != nil {
		return service.EnqueueInput{}, err
	}

	unsigned, _ := strconv.ParseBool(c.DefaultPostForm("unsigned", "false"))
	return service.EnqueueInput{
		Bytes:    data,
		Options:  options,
		Policy:   policy,
		Unsigned: unsigned,
	}, nil
}

// mergePolicy overlays the fields set in pr on the default policy. A nil or
// empty pr yields nil so the service default applies.
func (h *UploadHandler) mergePolicy(pr *policyRequest) (*domain.Policy, error) {
	if pr == nil || (pr.MaxRetries == nil && pr.Network == "" && pr.Backoff == "" && pr.BackoffMillis == nil) {
		return nil, nil
	}
	policy := h.defaultPolicy
	if pr.MaxRetries != nil {
		policy.MaxRetries = *pr.MaxRetries
	}
	if pr.Network != "" {
		policy.Network = domain.NetworkPolicy(pr.Network)
	}
	if pr.Backoff != "" {
		policy.Backoff = domain.BackoffPolicy(pr.Backoff)
	}
	if pr.BackoffMillis != nil {
		policy.BackoffMillis = *pr.BackoffMillis
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Get handles GET /api/v1/uploads/:id
func (h *UploadHandler) Get(c *gin.Context) {
	middleware.SetUploadID(c, c.Param("id"))
	view, err := h.uploadService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, toUploadResponse(view.Request, view.Result))
}

// List handles GET /api/v1/uploads
func (h *UploadHandler) List(c *gin.Context) {
	offset, limit := parsePagination(c)
	status := domain.RequestStatus(c.Query("status"))

	reqs, total, err := h.uploadService.List(c.Request.Context(), status, offset, limit)
	if err != nil {
		HandleError(c, err)
		return
	}
	out := make([]UploadResponse, 0, len(reqs))
	for i := range reqs {
		out = append(out, toUploadResponse(&reqs[i], nil))
	}
	RespondPaginated(c, out, PagMeta{Total: total, Offset: offset, Limit: limit})
}

// Cancel handles DELETE /api/v1/uploads/:id
func (h *UploadHandler) Cancel(c *gin.Context) {
	middleware.SetUploadID(c, c.Param("id"))
	if err := h.uploadService.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "upload canceled"})
}
