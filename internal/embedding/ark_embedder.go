package embedding

import (
	"context"

	arkext "github.com/cloudwego/eino-ext/components/embedding/ark"
	einoemb "github.com/cloudwego/eino/components/embedding"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
)

// ArkEmbedder 包装 Ark 向量嵌入，统一嵌入层的错误分类。
// 实现 eino 的 embedding.Embedder，索引器与检索器共用同一实例。
type ArkEmbedder struct {
	emb arkext.Embedder
}

var _ einoemb.Embedder = (*ArkEmbedder)(nil)

// 新建 Ark 向量嵌入器（使用火山引擎 Ark）
func NewArkEmbedder(apiKey, model, baseURL, region string) (*ArkEmbedder, error) {
	cfg := &arkext.EmbeddingConfig{
		APIKey: apiKey,
		Model:  model,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if region != "" {
		cfg.Region = region
	}
	emb, err := arkext.NewEmbedder(context.Background(), cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err)
	}
	return &ArkEmbedder{emb: *emb}, nil
}

// 生成文本向量
func (a *ArkEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoemb.Option) ([][]float64, error) {
	vecs, err := a.emb.EmbedStrings(ctx, texts, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, err)
	}
	return vecs, nil
}
