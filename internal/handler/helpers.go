package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/embed"
	"github.com/xxxsen/docseek/internal/middleware"
	"github.com/xxxsen/docseek/internal/pkg/errcode"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
	)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusRequestEntityTooLarge, errcode.ErrInvalid, "chunk exceeds "+formatUploadLimit(tooLarge.Limit))
	case errors.Is(err, appErr.ErrProcessingFailed):
		logger.Error("request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, errcode.ErrProcessingFailed, "file processing failed")
	case errors.Is(err, appErr.ErrIncompleteUpload):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, errcode.ErrIncompleteUpload, err.Error())
	case errors.Is(err, appErr.ErrMissingInput):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, errcode.ErrMissingInput, err.Error())
	case errors.Is(err, appErr.ErrInvalidParameter):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrUnsupportedFormat):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusUnsupportedMediaType, errcode.ErrUnsupportedFormat, err.Error())
	case errors.Is(err, appErr.ErrInvalidQuery):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidQuery, err.Error())
	case errors.Is(err, appErr.ErrIndexWrite):
		logger.Error("request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, errcode.ErrIndexWrite, "index write failed")
	case errors.Is(err, embed.ErrUnavailable):
		logger.Error("request failed", zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, errcode.ErrEmbedUnavailable, "embedding service unavailable")
	case errors.Is(err, appErr.ErrIOFailure):
		logger.Error("request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, errcode.ErrIOFailure, "storage failure")
	default:
		logger.Error("request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}

// headerInt parses an optional non-negative integer header.
func headerInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.GetHeader(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, appErr.Invalidf("%s must be a non-negative integer", name)
	}
	return v, nil
}
