package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	milindex "github.com/cloudwego/eino-ext/components/indexer/milvus"
	milret "github.com/cloudwego/eino-ext/components/retriever/milvus"
	einoemb "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/pkg/config"
	"github.com/chongs12/contextual-kb/pkg/logger"
)

// Match 一次检索命中：enriched 内容、相似度分数与来源路径
type Match struct {
	ID      string
	Content string
	Score   float32
	Path    string
}

// Retriever is the query-side view of the vector store.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Match, error)
}

type MilvusStore struct {
	client      milvus.Client
	indexer     *milindex.Indexer
	retriever   *milret.Retriever
	collection  string
	vectorField string
	vectorDim   int
	topK        int
	threshold   float32
}

type milvusSearchParam struct {
	params map[string]interface{}
}

func (sp *milvusSearchParam) Params() map[string]interface{} {
	p := make(map[string]interface{}, len(sp.params))
	for k, v := range sp.params {
		p[k] = v
	}
	return p
}

func (sp *milvusSearchParam) AddRadius(radius float64) {
	sp.params["radius"] = radius
}

func (sp *milvusSearchParam) AddRangeFilter(rangeFilter float64) {
	sp.params["range_filter"] = rangeFilter
}

func NewMilvusSearchParam(params map[string]interface{}) entity.SearchParam {
	p := make(map[string]interface{}, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &milvusSearchParam{params: p}
}

// 初始化 Milvus 存储（包含索引与检索器），入库与召回共用同一个嵌入器
func NewMilvusStore(ctx context.Context, cli milvus.Client, mcfg *config.MilvusConfig, emb einoemb.Embedder, topK int, threshold float32) (*MilvusStore, error) {
	fields := buildFields(mcfg.VectorField, mcfg.VectorDim)

	// 自定义 DocumentConverter：默认 converter 会把 float64 向量转成 []byte
	docConverter := func(ctx context.Context, docs []*schema.Document, vectors [][]float64) ([]interface{}, error) {
		rows := make([]interface{}, len(docs))
		for i, doc := range docs {
			metaBytes, err := sonic.Marshal(doc.MetaData)
			if err != nil {
				return nil, fmt.Errorf("marshal metadata: %w", err)
			}
			vec32 := make([]float32, len(vectors[i]))
			for j, v := range vectors[i] {
				vec32[j] = float32(v)
			}
			// 仅提供向量与元数据列，避免与 Indexer 默认列（id/content）重复
			rows[i] = map[string]interface{}{
				mcfg.VectorField: vec32,
				"metadata":       metaBytes,
			}
		}
		return rows, nil
	}

	idx, err := milindex.NewIndexer(ctx, &milindex.IndexerConfig{
		Client:            cli,
		Collection:        mcfg.Collection,
		Embedding:         emb,
		Fields:            fields,
		MetricType:        "COSINE",
		DocumentConverter: docConverter,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, err)
	}

	vecConverter := func(ctx context.Context, vectors [][]float64) ([]entity.Vector, error) {
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("empty vectors")
		}
		vec32 := make([]float32, len(vectors[0]))
		for i, v := range vectors[0] {
			vec32[i] = float32(v)
		}
		return []entity.Vector{entity.FloatVector(vec32)}, nil
	}
	searchParam := NewMilvusSearchParam(map[string]interface{}{
		"ef": 64,
	})

	ret, err := milret.NewRetriever(ctx, &milret.RetrieverConfig{
		Client:            cli,
		Collection:        mcfg.Collection,
		Embedding:         emb,
		TopK:              topK,
		VectorField:       mcfg.VectorField,
		MetricType:        entity.COSINE,
		VectorConverter:   vecConverter,
		Sp:                searchParam,
		ScoreThreshold:    0, // 阈值过滤在 Retrieve 内做，分数由 converter 注入
		DocumentConverter: resultConverter,
		OutputFields:      []string{"id", "content", "metadata"},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, err)
	}

	return &MilvusStore{
		client:      cli,
		indexer:     idx,
		retriever:   ret,
		collection:  mcfg.Collection,
		vectorField: mcfg.VectorField,
		vectorDim:   mcfg.VectorDim,
		topK:        topK,
		threshold:   threshold,
	}, nil
}

// resultConverter 把 SearchResult 列还原成带真实分数的 Document
func resultConverter(ctx context.Context, result milvus.SearchResult) ([]*schema.Document, error) {
	var docs []*schema.Document
	n := len(result.Scores)
	if n == 0 {
		return docs, nil
	}

	idCol, ok := result.IDs.(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("ID is not VarChar")
	}

	var contentCol *entity.ColumnVarChar
	for _, col := range result.Fields {
		if col.Name() == "content" {
			if c, ok := col.(*entity.ColumnVarChar); ok {
				contentCol = c
				break
			}
		}
	}
	if contentCol == nil {
		fieldNames := make([]string, len(result.Fields))
		for i, col := range result.Fields {
			fieldNames[i] = col.Name()
		}
		return nil, fmt.Errorf("content field not in output_fields; available fields: %v", fieldNames)
	}

	var metaBytes [][]byte
	for _, col := range result.Fields {
		if col.Name() != "metadata" {
			continue
		}
		if mb, ok := col.(*entity.ColumnJSONBytes); ok {
			metaBytes = mb.Data()
		} else if c, ok := col.(interface{ Data() [][]byte }); ok {
			metaBytes = c.Data()
		}
		break
	}

	for i := 0; i < n; i++ {
		if i >= len(idCol.Data()) || i >= len(contentCol.Data()) {
			continue
		}
		doc := &schema.Document{
			ID:      idCol.Data()[i],
			Content: contentCol.Data()[i],
			MetaData: map[string]any{
				"score": result.Scores[i],
			},
		}
		if i < len(metaBytes) && metaBytes[i] != nil {
			var m map[string]any
			if err := sonic.Unmarshal(metaBytes[i], &m); err == nil {
				for k, v := range m {
					doc.MetaData[k] = v
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Retrieve 按余弦相似度召回 topK，分数低于阈值的剔除
func (s *MilvusStore) Retrieve(ctx context.Context, query string) ([]Match, error) {
	docs, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, err)
	}
	var matches []Match
	for _, d := range docs {
		score := metaScore(d.MetaData)
		preview := TruncateToRunes(d.Content, 50)
		logger.Debug(ctx, "Doc score", "id", d.ID, "content_preview", preview, "score", score)

		if score < float64(s.threshold) {
			continue
		}
		path := ""
		if d.MetaData != nil {
			if p, ok := d.MetaData["path"].(string); ok {
				path = p
			}
		}
		matches = append(matches, Match{ID: d.ID, Content: d.Content, Score: float32(score), Path: path})
		if len(matches) >= s.topK {
			break
		}
	}
	return matches, nil
}

func metaScore(meta map[string]any) float64 {
	if meta == nil {
		return 0
	}
	switch v := meta["score"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// IndexChunks 把 enriched 分块交给 Indexer 批量入库，
// 嵌入由 Indexer 内部完成，metadata 携带来源路径
func (s *MilvusStore) IndexChunks(ctx context.Context, chunks []*models.TextChunk) error {
	logger.Info(ctx, "Index chunks", "collection", s.collection, "field", s.vectorField, "dim", s.vectorDim, "count", len(chunks))
	docs := make([]*schema.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, &schema.Document{
			ID:      c.ID.String(),
			Content: c.Enriched,
			MetaData: map[string]any{
				"path":        c.Path,
				"document_id": c.DocumentID.String(),
				"chunk_index": c.ChunkIndex,
			},
		})
	}
	if _, err := s.indexer.Store(ctx, docs); err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}
	return nil
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`id in ["%s"]`, strings.Join(ids, `","`))
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}
	return nil
}

// EnsureCollection 创建集合与 HNSW 索引并加载；reset 为真时先删除重建
func (s *MilvusStore) EnsureCollection(ctx context.Context, reset bool) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}
	if has && reset {
		logger.Warn(ctx, "Dropping existing collection", "collection", s.collection)
		if err := s.client.DropCollection(ctx, s.collection); err != nil {
			return apperr.Wrap(apperr.KindStore, err)
		}
		has = false
	}
	if !has {
		sch := &entity.Schema{
			CollectionName: s.collection,
			Fields:         buildFields(s.vectorField, s.vectorDim),
		}
		if err := s.client.CreateCollection(ctx, sch, 1); err != nil {
			return apperr.Wrap(apperr.KindStore, err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			return apperr.Wrap(apperr.KindStore, err)
		}
		if err := s.client.CreateIndex(ctx, s.collection, s.vectorField, idx, false); err != nil {
			return apperr.Wrap(apperr.KindStore, err)
		}
		logger.Info(ctx, "Collection created", "collection", s.collection, "dim", s.vectorDim)
	}
	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return apperr.Wrap(apperr.KindStore, err)
	}
	return nil
}

func buildFields(vectorField string, vectorDim int) []*entity.Field {
	id := &entity.Field{Name: "id", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "256"}, PrimaryKey: true}
	content := &entity.Field{Name: "content", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "16384"}}
	metadata := &entity.Field{Name: "metadata", DataType: entity.FieldTypeJSON}
	vector := &entity.Field{Name: vectorField, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", vectorDim)}}
	return []*entity.Field{id, vector, content, metadata}
}

func (s *MilvusStore) LogDiagnostics(ctx context.Context) error {
	coll, err := s.client.DescribeCollection(ctx, s.collection)
	if err != nil {
		logger.Warn(ctx, "DescribeCollection failed", "collection", s.collection, "error", err.Error())
		return err
	}
	infos := make([]string, 0, len(coll.Schema.Fields))
	for _, f := range coll.Schema.Fields {
		tp := ""
		if f.TypeParams != nil {
			if dim, ok := f.TypeParams["dim"]; ok {
				tp = fmt.Sprintf("dim=%s", dim)
			}
			if ml, ok := f.TypeParams["max_length"]; ok {
				if tp == "" {
					tp = fmt.Sprintf("max_length=%s", ml)
				} else {
					tp = tp + ",max_length=" + ml
				}
			}
		}
		infos = append(infos, fmt.Sprintf("%s:%s(%s)", f.Name, f.DataType.String(), tp))
	}
	logger.Info(ctx, "Milvus collection schema", "collection", s.collection, "fields", strings.Join(infos, "; "))
	return nil
}
