package handler

import (
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Uploads *UploadHandler
	Search  *SearchHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/upload/chunks", deps.Uploads.Upload)
	api.DELETE("/upload/:file_id", deps.Uploads.Delete)

	search := api.Group("/search")
	search.POST("/dense", deps.Search.Dense)
	search.POST("/sparse", deps.Search.Sparse)
	search.POST("/hybrid", deps.Search.Hybrid)
	search.POST("/keyword", deps.Search.Keyword)
	search.POST("/compare", deps.Search.Compare)
}
