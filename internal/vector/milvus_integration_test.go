package vector

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"

	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/internal/embedding"
	"github.com/chongs12/contextual-kb/pkg/config"
)

func TestMilvusStore_IndexAndRetrieve_SkipIfNoEnv(t *testing.T) {
	addr := os.Getenv("MILVUS_ADDR")
	api := os.Getenv("ARK_API_KEY")
	model := os.Getenv("ARK_EMBEDDING_MODEL")
	if addr == "" || api == "" || model == "" {
		t.Skip("skip integration: missing MILVUS_ADDR/ARK_API_KEY/ARK_EMBEDDING_MODEL")
	}
	cli, err := milvus.NewClient(context.Background(), milvus.Config{Address: addr})
	if err != nil {
		t.Fatalf("milvus client: %v", err)
	}
	defer cli.Close()

	emb, err := embedding.NewArkEmbedder(api, model, os.Getenv("ARK_BASE_URL"), os.Getenv("ARK_REGION"))
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	store, err := NewMilvusStore(context.Background(), cli,
		&config.MilvusConfig{Addr: addr, Collection: "documents_test", VectorField: "vector", VectorDim: 1024},
		emb, 5, 0.55)
	if err != nil {
		t.Fatalf("milvus store: %v", err)
	}
	if err := store.EnsureCollection(context.Background(), false); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	chunk := &models.TextChunk{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
		ChunkIndex: 0,
		Enriched:   "The leave policy grants 15 paid vacation days per year.",
		Path:       "docs/policy.md",
	}
	if err := store.IndexChunks(context.Background(), []*models.TextChunk{chunk}); err != nil {
		t.Fatalf("index chunks: %v", err)
	}
	defer func() {
		_ = store.DeleteByIDs(context.Background(), []string{chunk.ID.String()})
	}()
}
