package model

type SearchResult struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Score    float64                `json:"score"`
}

type RetrievalRequest struct {
	Query   string   `json:"query"`
	Limit   int      `json:"limit"`
	Alpha   *float64 `json:"alpha,omitempty"`
	FileIDs []string `json:"file_ids"`
}
