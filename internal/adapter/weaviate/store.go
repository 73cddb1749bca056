package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chaptr/backend/internal/vector"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const upsertBatchSize = 100

// Index stores each book in its own Weaviate class with cosine distance.
type Index struct {
	client *weaviate.Client
	schema vector.SchemaClient
}

func NewIndex(client *weaviate.Client) *Index {
	return &Index{client: client, schema: vector.NewWeaviateClientAdapter(client)}
}

func (i *Index) EnsureCollection(ctx context.Context, bookID int64, info vector.CollectionInfo) (vector.CollectionInfo, error) {
	return vector.EnsureCollection(ctx, i.schema, bookID, info)
}

func (i *Index) CollectionExists(ctx context.Context, bookID int64) (bool, error) {
	return i.schema.ClassExists(ctx, vector.ClassName(bookID))
}

func (i *Index) Describe(ctx context.Context, bookID int64) (vector.CollectionInfo, error) {
	class, err := i.schema.GetClass(ctx, vector.ClassName(bookID))
	if err != nil {
		return vector.CollectionInfo{}, err
	}
	return vector.DescribeClass(class), nil
}

// objectID derives a stable object UUID so re-upserting a chunk overwrites it.
func objectID(bookID, chunkID int64) strfmt.UUID {
	name := fmt.Sprintf("book:%d:chunk:%d", bookID, chunkID)
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String())
}

func (i *Index) Upsert(ctx context.Context, bookID int64, records []vector.Record) error {
	className := vector.ClassName(bookID)

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		props := map[string]interface{}{
			"chunkId":         r.ChunkID,
			"content":         r.Content,
			"bookId":          r.Metadata.BookID,
			"chunkIndex":      r.Metadata.ChunkIndex,
			"tokenCount":      r.Metadata.TokenCount,
			"chapterTitle":    r.Metadata.ChapterTitle,
			"keywords":        r.Metadata.Keywords,
			"metadataVersion": r.Metadata.Version,
		}
		if r.Metadata.ChapterNumber != nil {
			props["chapterNumber"] = *r.Metadata.ChapterNumber
		}
		objects = append(objects, &models.Object{
			Class:      className,
			ID:         objectID(bookID, r.ChunkID),
			Properties: props,
			Vector:     r.Vector,
		})
	}

	for start := 0; start < len(objects); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(objects))
		resp, err := i.client.Batch().ObjectsBatcher().WithObjects(objects[start:end]...).Do(ctx)
		if err != nil {
			return err
		}
		for _, res := range resp {
			if res.Result != nil && res.Result.Errors != nil && len(res.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch object %s: %s", res.ID, res.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

func (i *Index) Query(ctx context.Context, bookID int64, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	className := vector.ClassName(bookID)

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "content"},
		{Name: "bookId"},
		{Name: "chunkIndex"},
		{Name: "tokenCount"},
		{Name: "chapterTitle"},
		{Name: "chapterNumber"},
		{Name: "keywords"},
		{Name: "metadataVersion"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	nearVector := i.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	q := i.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...)
	if filter.ChapterNumber != nil {
		q = q.WithWhere(filters.Where().
			WithPath([]string{"chapterNumber"}).
			WithOperator(filters.Equal).
			WithValueInt(int64(*filter.ChapterNumber)))
	}

	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if err := graphQLError(res.Errors); err != nil {
		return nil, err
	}

	var matches []vector.Match
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rows, ok := data[className].([]interface{})
	if !ok {
		return nil, nil
	}
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		matches = append(matches, parseMatch(props))
	}
	return matches, nil
}

func parseMatch(props map[string]interface{}) vector.Match {
	m := vector.Match{Distance: 1}
	if v, ok := props["chunkId"].(float64); ok {
		m.ChunkID = int64(v)
	}
	if v, ok := props["content"].(string); ok {
		m.Content = v
	}
	if v, ok := props["bookId"].(float64); ok {
		m.Metadata.BookID = int64(v)
	}
	if v, ok := props["chunkIndex"].(float64); ok {
		m.Metadata.ChunkIndex = int(v)
	}
	if v, ok := props["tokenCount"].(float64); ok {
		m.Metadata.TokenCount = int(v)
	}
	if v, ok := props["chapterTitle"].(string); ok {
		m.Metadata.ChapterTitle = v
	}
	if v, ok := props["chapterNumber"].(float64); ok {
		n := int(v)
		m.Metadata.ChapterNumber = &n
	}
	if v, ok := props["metadataVersion"].(float64); ok {
		m.Metadata.Version = int(v)
	}
	if kws, ok := props["keywords"].([]interface{}); ok {
		for _, k := range kws {
			if s, ok := k.(string); ok {
				m.Metadata.Keywords = append(m.Metadata.Keywords, s)
			}
		}
	}
	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		if d, ok := additional["distance"].(float64); ok {
			m.Distance = d
		}
	}
	return m
}

func (i *Index) Count(ctx context.Context, bookID int64) (int, error) {
	className := vector.ClassName(bookID)
	res, err := i.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if err := graphQLError(res.Errors); err != nil {
		return 0, err
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := data[className].([]interface{}); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]interface{}); ok {
				if meta, ok := row["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

func (i *Index) DeleteCollection(ctx context.Context, bookID int64) error {
	return vector.DeleteCollection(ctx, i.schema, bookID)
}

func (i *Index) Ping(ctx context.Context) error {
	ready, err := i.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("weaviate not ready")
	}
	return nil
}

func graphQLError(errs []*models.GraphQLError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
}
