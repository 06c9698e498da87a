package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docseek/internal/db"
	"github.com/xxxsen/docseek/internal/pkg/dbutil"
	"github.com/xxxsen/docseek/internal/pkg/textutil"
	"github.com/xxxsen/docseek/internal/query"
)

const (
	defaultPGTable             = "passages"
	defaultPGKeywordCandidates = 1000
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type pgvectorConfig struct {
	DSN               string `json:"dsn"`
	Table             string `json:"table"`
	MaxOpenConns      int    `json:"max_open_conns"`
	KeywordCandidates int    `json:"keyword_candidates"`
}

// pgvectorStore keeps passages in postgres: a pgvector column for dense
// search and a generated tsvector column for sparse and boolean search.
type pgvectorStore struct {
	db                *sql.DB
	table             string
	dimension         int
	keywordCandidates int
}

func init() {
	Register("pgvector", createPGVectorStore)
}

func createPGVectorStore(dimension int, args interface{}) (Store, error) {
	cfg := &pgvectorConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector index requires a positive dimension")
	}
	if cfg.Table == "" {
		cfg.Table = defaultPGTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid pgvector table name: %s", cfg.Table)
	}
	if cfg.KeywordCandidates <= 0 {
		cfg.KeywordCandidates = defaultPGKeywordCandidates
	}
	conn, err := db.Open(cfg.DSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.ApplyMigrations(conn, map[string]string{
		"TABLE":     cfg.Table,
		"DIMENSION": strconv.Itoa(dimension),
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &pgvectorStore{db: conn, table: cfg.Table, dimension: dimension, keywordCandidates: cfg.KeywordCandidates}, nil
}

func (s *pgvectorStore) Upsert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkDimension(s.dimension, records); err != nil {
		return err
	}
	rows := make([]map[string]interface{}, 0, len(records))
	now := time.Now().UnixMilli()
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", r.ID, err)
		}
		rows = append(rows, map[string]interface{}{
			"id":          r.ID,
			"upload_id":   r.UploadID,
			"chunk_index": chunkIndexOf(r.Metadata),
			"content":     r.Content,
			"metadata":    string(meta),
			"embedding":   pgvector.NewVector(r.Vector),
			"ctime":       now,
		})
	}
	sqlStr, args, err := builder.BuildInsert(s.table, rows)
	if err != nil {
		return err
	}
	sqlStr += " ON CONFLICT (id) DO UPDATE SET upload_id = EXCLUDED.upload_id, chunk_index = EXCLUDED.chunk_index," +
		" content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding, ctime = EXCLUDED.ctime"
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (s *pgvectorStore) uploadFilter(uploadIDs []string) (string, []interface{}, error) {
	if len(uploadIDs) == 0 {
		return "TRUE", nil, nil
	}
	return dbutil.InClause("upload_id", uploadIDs)
}

func (s *pgvectorStore) DenseSearch(ctx context.Context, vector []float32, limit int, uploadIDs []string) ([]*Hit, error) {
	filter, filterArgs, err := s.uploadFilter(uploadIDs)
	if err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(vector)
	sqlStr := "SELECT id, content, metadata, 1 - (embedding <=> ?) AS score FROM " + s.table +
		" WHERE " + filter + " ORDER BY embedding <=> ?, id LIMIT ?"
	args := append([]interface{}{vec}, filterArgs...)
	args = append(args, vec, limit)
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return s.queryHits(ctx, sqlStr, args)
}

func (s *pgvectorStore) SparseSearch(ctx context.Context, text string, limit int, uploadIDs []string) ([]*Hit, error) {
	terms := distinct(textutil.Tokenize(text))
	if len(terms) == 0 {
		return []*Hit{}, nil
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, "'"+t+"'")
	}
	filter, filterArgs, err := s.uploadFilter(uploadIDs)
	if err != nil {
		return nil, err
	}
	sqlStr := "SELECT id, content, metadata, ts_rank_cd(content_tsv, q) AS score FROM " + s.table +
		", to_tsquery('simple', ?) q WHERE content_tsv @@ q AND " + filter + " ORDER BY score DESC, id LIMIT ?"
	args := append([]interface{}{strings.Join(quoted, " | ")}, filterArgs...)
	args = append(args, limit)
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return s.queryHits(ctx, sqlStr, args)
}

// KeywordSearch lets postgres evaluate the boolean expression and ranks the
// matches with BM25 over the positive terms. At most keyword_candidates
// matches, best ts_rank_cd first, reach the BM25 ranking.
func (s *pgvectorStore) KeywordSearch(ctx context.Context, q *query.Node, limit int, uploadIDs []string) ([]*Hit, error) {
	filter, filterArgs, err := s.uploadFilter(uploadIDs)
	if err != nil {
		return nil, err
	}
	sqlStr := "SELECT id, content, metadata, 0 AS score FROM " + s.table +
		", to_tsquery('simple', ?) q WHERE content_tsv @@ q AND " + filter +
		" ORDER BY ts_rank_cd(content_tsv, q) DESC, id LIMIT ?"
	args := append([]interface{}{q.TSQuery()}, filterArgs...)
	args = append(args, s.keywordCandidates+1)
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	hits, err := s.queryHits(ctx, sqlStr, args)
	if err != nil {
		return nil, err
	}
	hits = capCandidates(ctx, "pgvector", hits, s.keywordCandidates)
	return rankKeywordHits(hits, q, limit), nil
}

func (s *pgvectorStore) DeleteByUpload(ctx context.Context, uploadID string) (int, error) {
	sqlStr, args, err := builder.BuildDelete(s.table, map[string]interface{}{"upload_id": uploadID})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *pgvectorStore) Close() error {
	return s.db.Close()
}

func (s *pgvectorStore) queryHits(ctx context.Context, sqlStr string, args []interface{}) ([]*Hit, error) {
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]*Hit, 0)
	for rows.Next() {
		var (
			hit  Hit
			meta []byte
		)
		if err := rows.Scan(&hit.ID, &hit.Content, &meta, &hit.Score); err != nil {
			return nil, err
		}
		hit.Metadata = map[string]interface{}{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", hit.ID, err)
			}
		}
		hits = append(hits, &hit)
	}
	return hits, rows.Err()
}

// rankKeywordHits scores boolean matches with BM25 over the positive terms.
func rankKeywordHits(hits []*Hit, q *query.Node, limit int) []*Hit {
	docs := make([]termCounter, len(hits))
	for i, h := range hits {
		docs[i] = query.NewDocument(h.Content)
	}
	scores := bm25Scores(docs, q.PositiveTerms())
	for i, h := range hits {
		h.Score = scores[i]
	}
	return sortHits(hits, limit)
}

func chunkIndexOf(meta map[string]interface{}) int {
	switch v := meta["chunk_index"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
