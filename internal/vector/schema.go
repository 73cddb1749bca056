package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the Weaviate schema operations used for per-book classes.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
	DeleteClass(ctx context.Context, className string) error
}

// ClassName maps a book to its Weaviate class. Class names must start upper-case.
func ClassName(bookID int64) string {
	return fmt.Sprintf("Book_%d", bookID)
}

// ChunkProperties is the property set of every book class.
func ChunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "chunkId", DataType: []string{"int"}},
		{Name: "content", DataType: []string{"text"}},
		{Name: "bookId", DataType: []string{"int"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "tokenCount", DataType: []string{"int"}},
		{Name: "chapterTitle", DataType: []string{"text"}},
		{Name: "chapterNumber", DataType: []string{"int"}},
		{Name: "keywords", DataType: []string{"text[]"}},
		{Name: "metadataVersion", DataType: []string{"int"}},
	}
}

// classDescription is stored as JSON in the class description.
type classDescription struct {
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

func encodeDescription(info CollectionInfo) string {
	b, _ := json.Marshal(classDescription{Model: info.Model, Dimension: info.Dimension, CreatedAt: info.CreatedAt})
	return string(b)
}

// DescribeClass recovers collection info from a class. Unparseable descriptions yield only the name.
func DescribeClass(class *models.Class) CollectionInfo {
	info := CollectionInfo{Name: class.Class}
	var d classDescription
	if err := json.Unmarshal([]byte(class.Description), &d); err == nil {
		info.Model = d.Model
		info.Dimension = d.Dimension
		info.CreatedAt = d.CreatedAt
	}
	return info
}

// EnsureCollection creates the book's class if it does not exist and adds
// any missing properties if it does. It returns the stored collection info.
func EnsureCollection(ctx context.Context, client SchemaClient, bookID int64, info CollectionInfo) (CollectionInfo, error) {
	className := ClassName(bookID)
	info.Name = className

	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return CollectionInfo{}, err
	}

	properties := ChunkProperties()
	if !exists {
		class := &models.Class{
			Class:       className,
			Description: encodeDescription(info),
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: properties,
		}
		if err := client.CreateClass(ctx, class); err != nil {
			return CollectionInfo{}, err
		}
		return info, nil
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return CollectionInfo{}, err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}
	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return CollectionInfo{}, err
			}
		}
	}

	return DescribeClass(class), nil
}

// DeleteCollection removes the book's class if present.
func DeleteCollection(ctx context.Context, client SchemaClient, bookID int64) error {
	className := ClassName(bookID)
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return client.DeleteClass(ctx, className)
}
