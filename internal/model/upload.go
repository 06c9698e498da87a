package model

import "io"

type ChunkUpload struct {
	UploadID    string
	FileName    string
	ChunkIndex  int
	TotalChunks int
	Body        io.Reader
}

type ChunkUploadResult struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Complete bool   `json:"complete"`
}
