package model

// Metadata keys stamped on every passage.
const (
	MetaUploadID      = "upload_id"
	MetaFileName      = "file_name"
	MetaFileExtension = "file_extension"
	MetaProcessedAt   = "processed_at"
	MetaChunkIndex    = "chunk_index"
	MetaTotalChunks   = "total_chunks"
)

// Provenance identifies the upload a loaded document belongs to.
type Provenance struct {
	UploadID      string `json:"upload_id"`
	FileName      string `json:"file_name"`
	FileExtension string `json:"file_extension"`
	ProcessedAt   string `json:"processed_at"`
}

// Unit is one block of text produced by a format loader, with its source position.
type Unit struct {
	Text       string            `json:"text"`
	Source     map[string]string `json:"source,omitempty"`
	Provenance Provenance        `json:"provenance"`
}

// Passage is the atomic indexed unit. ChunkIndex and TotalChunks count passages
// of the upload, not transfer chunks.
type Passage struct {
	Content     string            `json:"content"`
	Provenance  Provenance        `json:"provenance"`
	Source      map[string]string `json:"source,omitempty"`
	ChunkIndex  int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
}

// Metadata flattens the passage provenance into the filterable field set.
func (p *Passage) Metadata() map[string]interface{} {
	meta := make(map[string]interface{}, len(p.Source)+6)
	for k, v := range p.Source {
		meta[k] = v
	}
	meta[MetaUploadID] = p.Provenance.UploadID
	meta[MetaFileName] = p.Provenance.FileName
	meta[MetaFileExtension] = p.Provenance.FileExtension
	meta[MetaProcessedAt] = p.Provenance.ProcessedAt
	meta[MetaChunkIndex] = p.ChunkIndex
	meta[MetaTotalChunks] = p.TotalChunks
	return meta
}
