package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	adapter "chaptr/backend/internal/adapter/weaviate"
	"chaptr/backend/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) *adapter.Index {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	require.NoError(t, err)
	return adapter.NewIndex(client)
}

func TestIndex_Upsert(t *testing.T) {
	chapter := 2
	idx := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Objects, 2)
		assert.Equal(t, "Book_7", body.Objects[0]["class"])

		props := body.Objects[1]["properties"].(map[string]interface{})
		assert.Equal(t, "on the mat", props["content"])
		assert.Equal(t, 2.0, props["chapterNumber"])
		assert.NotContains(t, body.Objects[0]["properties"], "chapterNumber")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"result": map[string]interface{}{}},
			{"result": map[string]interface{}{}},
		})
	})

	err := idx.Upsert(context.Background(), 7, []vector.Record{
		{ChunkID: 1, Content: "a cat sat", Vector: []float32{1, 0}, Metadata: vector.Metadata{BookID: 7}},
		{ChunkID: 2, Content: "on the mat", Vector: []float32{0, 1}, Metadata: vector.Metadata{BookID: 7, ChunkIndex: 1, ChapterNumber: &chapter}},
	})
	assert.NoError(t, err)
}

func TestIndex_UpsertReportsObjectErrors(t *testing.T) {
	idx := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"result": map[string]interface{}{
				"errors": map[string]interface{}{
					"error": []map[string]interface{}{{"message": "vector lengths don't match"}},
				},
			}},
		})
	})

	err := idx.Upsert(context.Background(), 7, []vector.Record{{ChunkID: 1, Vector: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector lengths don't match")
}

func TestIndex_Query(t *testing.T) {
	idx := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		query := body["query"].(string)
		assert.Contains(t, query, "Book_7")
		assert.Contains(t, query, "nearVector")
		assert.Contains(t, query, "chapterNumber")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"Book_7": []interface{}{
						map[string]interface{}{
							"chunkId":       101.0,
							"content":       "a cat sat",
							"bookId":        7.0,
							"chunkIndex":    0.0,
							"chapterNumber": 3.0,
							"keywords":      []interface{}{"cat"},
							"_additional":   map[string]interface{}{"distance": 0.25},
						},
					},
				},
			},
		})
	})

	chapter := 3
	matches, err := idx.Query(context.Background(), 7, []float32{1, 0}, 5, vector.Filter{ChapterNumber: &chapter})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(101), matches[0].ChunkID)
	assert.Equal(t, "a cat sat", matches[0].Content)
	assert.Equal(t, int64(7), matches[0].Metadata.BookID)
	assert.Equal(t, []string{"cat"}, matches[0].Metadata.Keywords)
	require.NotNil(t, matches[0].Metadata.ChapterNumber)
	assert.Equal(t, 3, *matches[0].Metadata.ChapterNumber)
	assert.InDelta(t, 0.25, matches[0].Distance, 1e-9)
}

func TestIndex_QueryGraphQLError(t *testing.T) {
	idx := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"message": "class not found"}},
		})
	})

	_, err := idx.Query(context.Background(), 7, []float32{1}, 5, vector.Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}

func TestIndex_Count(t *testing.T) {
	idx := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					"Book_7": []interface{}{
						map[string]interface{}{"meta": map[string]interface{}{"count": 42.0}},
					},
				},
			},
		})
	})

	count, err := idx.Count(context.Background(), 7)
	assert.NoError(t, err)
	assert.Equal(t, 42, count)
}

func TestIndex_CollectionLifecycle(t *testing.T) {
	var created, deleted bool
	idx := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/schema/Book_9" && r.Method == "GET":
			if created && !deleted {
				json.NewEncoder(w).Encode(map[string]interface{}{"class": "Book_9"})
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/v1/schema" && r.Method == "POST":
			created = true
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/schema/Book_9" && r.Method == "DELETE":
			deleted = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	exists, err := idx.CollectionExists(ctx, 9)
	require.NoError(t, err)
	assert.False(t, exists)

	info, err := idx.EnsureCollection(ctx, 9, vector.CollectionInfo{Model: "m", Dimension: 2})
	require.NoError(t, err)
	assert.Equal(t, "Book_9", info.Name)
	assert.True(t, created)

	require.NoError(t, idx.DeleteCollection(ctx, 9))
	assert.True(t, deleted)

	require.NoError(t, idx.DeleteCollection(ctx, 9), "deleting a missing class is a no-op")
}

func TestIndex_Ping(t *testing.T) {
	idx := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/.well-known/ready", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, idx.Ping(context.Background()))
}
