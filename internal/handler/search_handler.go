package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/pkg/response"
	"github.com/xxxsen/docseek/internal/retrieval"
)

const defaultHybridAlpha = 0.5

type SearchHandler struct {
	engine       *retrieval.Engine
	defaultLimit int
}

func NewSearchHandler(engine *retrieval.Engine, defaultLimit int) *SearchHandler {
	return &SearchHandler{engine: engine, defaultLimit: defaultLimit}
}

func (h *SearchHandler) bind(c *gin.Context) (*model.RetrievalRequest, bool) {
	var req model.RetrievalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, appErr.Invalidf("invalid request body"))
		return nil, false
	}
	if req.Limit == 0 {
		req.Limit = h.defaultLimit
	}
	return &req, true
}

func (h *SearchHandler) single(c *gin.Context, run func(ctx context.Context, req *model.RetrievalRequest) *retrieval.Result) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	response.Success(c, run(c.Request.Context(), req))
}

func (h *SearchHandler) Dense(c *gin.Context) {
	h.single(c, func(ctx context.Context, req *model.RetrievalRequest) *retrieval.Result {
		return h.engine.Dense(ctx, req.Query, req.Limit, req.FileIDs)
	})
}

func (h *SearchHandler) Sparse(c *gin.Context) {
	h.single(c, func(ctx context.Context, req *model.RetrievalRequest) *retrieval.Result {
		return h.engine.Sparse(ctx, req.Query, req.Limit, req.FileIDs)
	})
}

func (h *SearchHandler) Hybrid(c *gin.Context) {
	h.single(c, func(ctx context.Context, req *model.RetrievalRequest) *retrieval.Result {
		alpha := defaultHybridAlpha
		if req.Alpha != nil {
			alpha = *req.Alpha
		}
		return h.engine.Hybrid(ctx, req.Query, req.Limit, alpha, req.FileIDs)
	})
}

func (h *SearchHandler) Keyword(c *gin.Context) {
	h.single(c, func(ctx context.Context, req *model.RetrievalRequest) *retrieval.Result {
		return h.engine.Keyword(ctx, req.Query, req.Limit, req.FileIDs)
	})
}

func (h *SearchHandler) Compare(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	response.Success(c, h.engine.Compare(c.Request.Context(), req.Query, req.Limit, req.FileIDs))
}
