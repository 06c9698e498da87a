package handler

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/pkg/response"
	"github.com/xxxsen/docseek/internal/service"
)

const (
	HeaderFileID      = "X-File-Id"
	HeaderFilename    = "X-Filename"
	HeaderChunkIndex  = "X-Chunk-Index"
	HeaderTotalChunks = "X-Total-Chunks"
)

type UploadHandler struct {
	uploads       *service.UploadService
	maxChunkBytes int64
}

func NewUploadHandler(uploads *service.UploadService, maxChunkBytes int64) *UploadHandler {
	return &UploadHandler{uploads: uploads, maxChunkBytes: maxChunkBytes}
}

// Upload accepts one chunk whose bytes are the raw request body.
func (h *UploadHandler) Upload(c *gin.Context) {
	fileName := decodeFileName(c.GetHeader(HeaderFilename))
	if fileName == "" {
		handleError(c, appErr.Missingf("%s header is required", HeaderFilename))
		return
	}
	index, err := headerInt(c, HeaderChunkIndex, 0)
	if err != nil {
		handleError(c, err)
		return
	}
	total, err := headerInt(c, HeaderTotalChunks, 1)
	if err != nil {
		handleError(c, err)
		return
	}
	var body io.Reader = c.Request.Body
	if h.maxChunkBytes > 0 {
		if c.Request.ContentLength > h.maxChunkBytes {
			handleError(c, &http.MaxBytesError{Limit: h.maxChunkBytes})
			return
		}
		body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxChunkBytes)
	}
	buffered := bufio.NewReader(body)
	if _, err := buffered.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			handleError(c, appErr.Missingf("chunk body is empty"))
			return
		}
		handleError(c, appErr.IOf(err, "read chunk body"))
		return
	}
	res, err := h.uploads.HandleChunk(c.Request.Context(), &model.ChunkUpload{
		UploadID:    strings.TrimSpace(c.GetHeader(HeaderFileID)),
		FileName:    fileName,
		ChunkIndex:  index,
		TotalChunks: total,
		Body:        buffered,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *UploadHandler) Delete(c *gin.Context) {
	if err := h.uploads.DeleteUpload(c.Request.Context(), c.Param("file_id")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// decodeFileName accepts percent-encoded names so non-ASCII names survive headers.
func decodeFileName(raw string) string {
	raw = strings.TrimSpace(raw)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}
