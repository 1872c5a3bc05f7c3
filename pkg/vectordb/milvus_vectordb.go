package vectordb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
)

// MilvusOptions defines config parameters for a Milvus connection.
type MilvusOptions struct {
	Endpoint   string `yaml:"endpoint"`   // e.g. "127.0.0.1:19530"
	Collection string `yaml:"collection"` // e.g. "broker_documents"
	Dim        int    `yaml:"dim"`        // vector dimension
}

// MilvusStore implements VectorStore over a Milvus collection.
type MilvusStore struct {
	client     client.Client
	collection string
	dim        int
}

// NewMilvusStore connects to Milvus and ensures the collection exists,
// is indexed, and is loaded for search.
func NewMilvusStore(options MilvusOptions) (*MilvusStore, error) {
	ctx := context.Background()

	cli, err := client.NewGrpcClient(ctx, options.Endpoint)
	if err != nil {
		logging.Errorf("Milvus connect error: %v", err)
		return nil, err
	}
	logging.Debugf("Connected to Milvus at %s", options.Endpoint)

	m := &MilvusStore{
		client:     cli,
		collection: options.Collection,
		dim:        options.Dim,
	}
	if err := m.ensureCollection(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	return m, nil
}

func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return err
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "Resource broker documents",
			AutoID:         false,
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeInt64,
					PrimaryKey: true,
					AutoID:     false,
				},
				{
					Name:     "vector",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", m.dim),
					},
				},
				{
					Name:     "content",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "4096",
					},
				},
			},
		}

		if err := m.client.CreateCollection(ctx, schema, 1); err != nil {
			logging.Errorf("Error creating Milvus collection: %v", err)
			return err
		}

		idx, err := entity.NewIndexFlat(entity.COSINE)
		if err != nil {
			return err
		}
		if err := m.client.CreateIndex(ctx, m.collection, "vector", idx, false); err != nil {
			logging.Errorf("Error creating Milvus index: %v", err)
			return err
		}

		logging.Infof("Created collection %s (dim=%d)", m.collection, m.dim)
	} else {
		logging.Infof("Collection %s already exists", m.collection)
	}

	return m.client.LoadCollection(ctx, m.collection, false)
}

// Upsert inserts or replaces documents by ID.
func (m *MilvusStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(docs))
	vectors := make([][]float32, 0, len(docs))
	contents := make([]string, 0, len(docs))
	for _, d := range docs {
		if len(d.Vector) != m.dim {
			return fmt.Errorf("document %d: vector dimension %d, want %d", d.ID, len(d.Vector), m.dim)
		}
		ids = append(ids, d.ID)
		vectors = append(vectors, d.Vector)
		contents = append(contents, d.Content)
	}

	_, err := m.client.Upsert(ctx, m.collection, "",
		entity.NewColumnInt64("id", ids),
		entity.NewColumnFloatVector("vector", m.dim, vectors),
		entity.NewColumnVarChar("content", contents),
	)
	if err != nil {
		logging.Errorf("Milvus upsert error: %v", err)
		return err
	}

	logging.Debugf("Upserted %d documents into %s", len(docs), m.collection)
	return nil
}

// Search returns up to topK nearest documents for the query vector.
func (m *MilvusStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	if len(vector) != m.dim {
		return nil, fmt.Errorf("query vector dimension %d, want %d", len(vector), m.dim)
	}

	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, err
	}

	results, err := m.client.Search(ctx, m.collection, nil, "",
		[]string{"content"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector", entity.COSINE, topK, sp)
	if err != nil {
		logging.Errorf("Milvus search error: %v", err)
		return nil, err
	}

	hits := []SearchResult{}
	for _, result := range results {
		idCol, ok := result.IDs.(*entity.ColumnInt64)
		if !ok {
			return nil, fmt.Errorf("unexpected id column type %T", result.IDs)
		}
		contentCol, _ := result.Fields.GetColumn("content").(*entity.ColumnVarChar)

		for i := 0; i < result.ResultCount; i++ {
			hit := SearchResult{Score: result.Scores[i]}
			if hit.ID, err = idCol.ValueByIdx(i); err != nil {
				return nil, err
			}
			if contentCol != nil {
				if hit.Content, err = contentCol.ValueByIdx(i); err != nil {
					return nil, err
				}
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// Delete removes documents by primary key.
func (m *MilvusStore) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.client.DeleteByPks(ctx, m.collection, "", entity.NewColumnInt64("id", ids)); err != nil {
		logging.Errorf("Milvus delete error: %v", err)
		return err
	}
	return nil
}

// Count returns the stored row count from collection statistics.
func (m *MilvusStore) Count(ctx context.Context) (int64, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.collection)
	if err != nil {
		return 0, err
	}
	raw, ok := stats["row_count"]
	if !ok {
		return 0, fmt.Errorf("row_count missing from collection statistics")
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Close releases the Milvus connection.
func (m *MilvusStore) Close() error {
	return m.client.Close()
}
