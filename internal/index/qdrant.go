package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/xxxsen/docseek/internal/pkg/textutil"
	"github.com/xxxsen/docseek/internal/query"
)

const (
	denseVectorName       = "dense"
	sparseVectorName      = "sparse"
	payloadContent        = "content"
	payloadUploadID       = "upload_id"
	defaultQdrantAddr     = "localhost:6334"
	defaultQdrantScroll   = 256
	defaultQdrantMaxScan  = 2048
	defaultQdrantCallTime = 30
)

type qdrantConfig struct {
	Addr           string `json:"addr"`
	APIKey         string `json:"api_key"`
	Collection     string `json:"collection"`
	ScrollPage     int    `json:"scroll_page"`
	MaxScan        int    `json:"max_scan"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// qdrantStore stores each passage as a point with a named dense vector and a
// named sparse vector of hashed term frequencies weighted server side by IDF.
type qdrantStore struct {
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	collection  string
	dimension   int
	scrollPage  uint32
	maxScan     int
}

func init() {
	Register("qdrant", createQdrantStore)
}

func createQdrantStore(dimension int, args interface{}) (Store, error) {
	cfg := &qdrantConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant index requires a positive dimension")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultQdrantAddr
	}
	if cfg.ScrollPage <= 0 {
		cfg.ScrollPage = defaultQdrantScroll
	}
	if cfg.MaxScan <= 0 {
		cfg.MaxScan = defaultQdrantMaxScan
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultQdrantCallTime
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	s := &qdrantStore{
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		dimension:   dimension,
		scrollPage:  uint32(cfg.ScrollPage),
		maxScan:     cfg.MaxScan,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()
	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *qdrantStore) ensureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list qdrant collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_ParamsMap{
				ParamsMap: &qdrant.VectorParamsMap{
					Map: map[string]*qdrant.VectorParams{
						denseVectorName: {Size: uint64(s.dimension), Distance: qdrant.Distance_Cosine},
					},
				},
			},
		},
		SparseVectorsConfig: &qdrant.SparseVectorConfig{
			Map: map[string]*qdrant.SparseVectorParams{
				sparseVectorName: {Modifier: qdrant.Modifier_Idf.Enum()},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection: %w", err)
	}
	wait := true
	for field, kind := range map[string]qdrant.FieldType{
		payloadUploadID: qdrant.FieldType_FieldTypeKeyword,
		payloadContent:  qdrant.FieldType_FieldTypeText,
	} {
		if _, err := s.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      kind.Enum(),
		}); err != nil {
			return fmt.Errorf("create qdrant %s index: %w", field, err)
		}
	}
	return nil
}

func (s *qdrantStore) Upsert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkDimension(s.dimension, records); err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		indices, values := textutil.SparseVector(r.Content)
		payload := make(map[string]*qdrant.Value, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = toQdrantValue(v)
		}
		payload[payloadContent] = toQdrantValue(r.Content)
		payload[payloadUploadID] = toQdrantValue(r.UploadID)
		points = append(points, &qdrant.PointStruct{
			Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: r.ID}},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vectors{
					Vectors: &qdrant.NamedVectors{
						Vectors: map[string]*qdrant.Vector{
							denseVectorName:  {Data: r.Vector},
							sparseVectorName: {Data: values, Indices: &qdrant.SparseIndices{Data: indices}},
						},
					},
				},
			},
			Payload: payload,
		})
	}
	wait := true
	_, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

func uploadCondition(uploadIDs []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: payloadUploadID,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: uploadIDs}},
				},
			},
		},
	}
}

func textCondition(term string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   payloadContent,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Text{Text: term}},
			},
		},
	}
}

func uploadFilter(uploadIDs []string) *qdrant.Filter {
	if len(uploadIDs) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{uploadCondition(uploadIDs)}}
}

func withPayload() *qdrant.WithPayloadSelector {
	return &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}}
}

func (s *qdrantStore) DenseSearch(ctx context.Context, vector []float32, limit int, uploadIDs []string) ([]*Hit, error) {
	name := denseVectorName
	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		VectorName:     &name,
		Limit:          uint64(limit),
		Filter:         uploadFilter(uploadIDs),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, err
	}
	return scoredHits(resp.GetResult()), nil
}

func (s *qdrantStore) SparseSearch(ctx context.Context, text string, limit int, uploadIDs []string) ([]*Hit, error) {
	indices, values := textutil.SparseVector(text)
	if len(indices) == 0 {
		return []*Hit{}, nil
	}
	name := sparseVectorName
	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         values,
		SparseIndices:  &qdrant.SparseIndices{Data: indices},
		VectorName:     &name,
		Limit:          uint64(limit),
		Filter:         uploadFilter(uploadIDs),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, err
	}
	return scoredHits(resp.GetResult()), nil
}

// KeywordSearch prefilters with full text matches on the positive terms,
// then evaluates the boolean expression and ranks in process. Scrolling stops
// after max_scan points.
func (s *qdrantStore) KeywordSearch(ctx context.Context, q *query.Node, limit int, uploadIDs []string) ([]*Hit, error) {
	should := make([]*qdrant.Condition, 0)
	for _, term := range q.PositiveTerms() {
		should = append(should, textCondition(term))
	}
	filter := &qdrant.Filter{Should: should}
	if len(uploadIDs) > 0 {
		filter.Must = []*qdrant.Condition{uploadCondition(uploadIDs)}
	}
	hits := make([]*Hit, 0)
	var offset *qdrant.PointId
	for scanned := 0; ; {
		page := s.scrollPage
		resp, err := s.points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &page,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, err
		}
		for _, p := range resp.GetResult() {
			hit := pointHit(p.GetId(), p.GetPayload(), 0)
			if q.Eval(query.NewDocument(hit.Content)) {
				hits = append(hits, hit)
			}
		}
		scanned += len(resp.GetResult())
		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			break
		}
		if scanned >= s.maxScan {
			warnCandidateCap(ctx, "qdrant", s.maxScan)
			break
		}
	}
	return rankKeywordHits(hits, q, limit), nil
}

func (s *qdrantStore) DeleteByUpload(ctx context.Context, uploadID string) (int, error) {
	filter := uploadFilter([]string{uploadID})
	exact := true
	count, err := s.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, err
	}
	n := int(count.GetResult().GetCount())
	if n == 0 {
		return 0, nil
	}
	wait := true
	_, err = s.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *qdrantStore) Close() error {
	return s.conn.Close()
}

func scoredHits(points []*qdrant.ScoredPoint) []*Hit {
	hits := make([]*Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, pointHit(p.GetId(), p.GetPayload(), float64(p.GetScore())))
	}
	return hits
}

func pointHit(id *qdrant.PointId, payload map[string]*qdrant.Value, score float64) *Hit {
	meta := make(map[string]interface{}, len(payload))
	var content string
	for k, v := range payload {
		if k == payloadContent {
			content = v.GetStringValue()
			continue
		}
		meta[k] = fromQdrantValue(v)
	}
	return &Hit{ID: pointIDString(id), Content: content, Metadata: meta, Score: score}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func toQdrantValue(v interface{}) *qdrant.Value {
	switch t := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: t}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: t}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: t}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: t}}
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	}
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: strings.TrimSpace(fmt.Sprint(v))}}
}

func fromQdrantValue(v *qdrant.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	}
	return nil
}
