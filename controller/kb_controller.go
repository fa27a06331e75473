package controller

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kbrag/models"
	"kbrag/services"
)

// KBController handles the HTTP surface of the knowledge-base manager and
// the retrieval pipeline. It binds requests, delegates to the service layer
// and maps service errors onto HTTP statuses.
type KBController struct {
	manager   *services.KBManager
	retrieval *services.RetrievalService
	answerer  *services.AnswerService
	defaults  models.RetrievalSettings

	// Chunking defaults applied when the request omits them.
	chunkSize    int
	chunkOverlap int
}

func NewKBController(manager *services.KBManager, retrieval *services.RetrievalService, answerer *services.AnswerService, defaults models.RetrievalSettings, chunkSize, chunkOverlap int) *KBController {
	return &KBController{
		manager:      manager,
		retrieval:    retrieval,
		answerer:     answerer,
		defaults:     defaults,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, services.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(ctx *gin.Context, err error) {
	ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// readUploads pulls the "files" field out of a multipart form.
func readUploads(form *multipart.Form) ([]models.UploadFile, error) {
	var uploads []models.UploadFile
	for _, header := range form.File["files"] {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, models.UploadFile{Name: header.Filename, Content: content})
	}
	return uploads, nil
}

func (c *KBController) intField(ctx *gin.Context, field string, fallback int) int {
	raw := ctx.PostForm(field)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// CreateKB handles POST /api/v1/kb: multipart form with name, files and
// optional chunk parameters.
func (c *KBController) CreateKB(ctx *gin.Context) {
	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form: " + err.Error()})
		return
	}
	name := ctx.PostForm("name")
	uploads, err := readUploads(form)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploads: " + err.Error()})
		return
	}

	imgModel := ctx.PostForm("img_model")
	chunkSize := c.intField(ctx, "chunk_size", c.chunkSize)
	chunkOverlap := c.intField(ctx, "chunk_overlap", c.chunkOverlap)

	result, err := c.manager.Create(ctx.Request.Context(), name, uploads, imgModel, chunkSize, chunkOverlap)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, models.MutationResponse{
		KnowledgeBase: name,
		ChunkCount:    result.ChunkCount,
		FailedFiles:   result.Failed,
	})
}

// AddFiles handles POST /api/v1/kb/:name/files.
func (c *KBController) AddFiles(ctx *gin.Context) {
	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form: " + err.Error()})
		return
	}
	name := ctx.Param("name")
	uploads, err := readUploads(form)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploads: " + err.Error()})
		return
	}
	chunkOverlap := c.intField(ctx, "chunk_overlap", c.chunkOverlap)

	result, err := c.manager.AddFiles(ctx.Request.Context(), name, uploads, chunkOverlap)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.MutationResponse{
		KnowledgeBase: name,
		ChunkCount:    result.ChunkCount,
		FailedFiles:   result.Failed,
	})
}

// RemoveFiles handles DELETE /api/v1/kb/:name/files.
func (c *KBController) RemoveFiles(ctx *gin.Context) {
	var req models.RemoveFilesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	name := ctx.Param("name")

	result, err := c.manager.RemoveFiles(ctx.Request.Context(), name, req.Files)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.MutationResponse{
		KnowledgeBase: name,
		ChunkCount:    result.ChunkCount,
	})
}

// DestroyKB handles DELETE /api/v1/kb/:name. Destruction failure is a soft
// error: the response reports it without a 5xx crash.
func (c *KBController) DestroyKB(ctx *gin.Context) {
	name := ctx.Param("name")
	if ok := c.manager.Destroy(ctx.Request.Context(), name); !ok {
		ctx.JSON(http.StatusOK, gin.H{"destroyed": false, "error": "Failed to destroy knowledge base, please retry"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"destroyed": true})
}

// ListKBs handles GET /api/v1/kb.
func (c *KBController) ListKBs(ctx *gin.Context) {
	names, err := c.manager.List()
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.ListResponse{Count: len(names), KnowledgeBases: names})
}

// GetKB handles GET /api/v1/kb/:name.
func (c *KBController) GetKB(ctx *gin.Context) {
	info, err := c.manager.GetInfo(ctx.Param("name"))
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, info)
}

// settingsFrom merges request overrides over the configured defaults.
func (c *KBController) settingsFrom(method models.SearchMethod, topK, topN int, llmModel string, temperature, topP *float64) models.RetrievalSettings {
	settings := c.defaults
	if method != "" {
		settings.Method = method
	}
	if topK > 0 {
		settings.TopK = topK
	}
	if topN > 0 {
		settings.TopN = topN
	}
	if llmModel != "" {
		settings.LLMModel = llmModel
	}
	if temperature != nil {
		settings.Temperature = *temperature
	}
	if topP != nil {
		settings.TopP = *topP
	}
	return settings
}

// Retrieve handles POST /api/v1/retrieve: runs the retrieval pipeline and
// returns the evidence set without answer generation.
func (c *KBController) Retrieve(ctx *gin.Context) {
	var req models.RetrieveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	settings := c.settingsFrom(req.SearchMethod, req.TopK, req.TopN, "", nil, nil)

	var evidence []models.EvidenceItem
	err := c.manager.Snapshot(ctx.Request.Context(), req.KnowledgeBase, func(kb *services.LoadedKB) error {
		var retrieveErr error
		evidence, retrieveErr = c.retrieval.Retrieve(ctx.Request.Context(), kb, req.Query, settings)
		return retrieveErr
	})
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.RetrieveResponse{Count: len(evidence), Evidence: evidence})
}

// Query handles POST /api/v1/query: retrieval followed by answer
// generation.
func (c *KBController) Query(ctx *gin.Context) {
	var req models.QueryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	settings := c.settingsFrom(req.SearchMethod, req.TopK, req.TopN, req.LLMModel, req.Temperature, req.TopP)

	var evidence []models.EvidenceItem
	err := c.manager.Snapshot(ctx.Request.Context(), req.KnowledgeBase, func(kb *services.LoadedKB) error {
		var retrieveErr error
		evidence, retrieveErr = c.retrieval.Retrieve(ctx.Request.Context(), kb, req.Query, settings)
		return retrieveErr
	})
	if err != nil {
		abortWith(ctx, err)
		return
	}
	answer, reasoning, err := c.answerer.Answer(ctx.Request.Context(), req.Query, evidence, settings)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.QueryResponse{
		Answer:    answer,
		Reasoning: reasoning,
		Evidence:  evidence,
	})
}
