// Package documents persists JSON documents grouped in named collections
// under a (user, app) namespace.
package documents

import (
	"context"

	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

// Document is one stored row; Body is the JSON encoding including _id.
type Document struct {
	ID   string
	Body []byte
}

type Repository interface {
	// CreateCollection reports false when the collection already existed.
	CreateCollection(ctx context.Context, ns models.Namespace, name string, createdAt int64) (bool, error)
	// DropCollection removes the collection and its documents; false when absent.
	DropCollection(ctx context.Context, ns models.Namespace, name string) (bool, error)
	CollectionExists(ctx context.Context, ns models.Namespace, name string) (bool, error)
	ListCollections(ctx context.Context, ns models.Namespace) ([]string, error)
	// ListNamespaces returns every namespace owning at least one collection.
	ListNamespaces(ctx context.Context) ([]models.Namespace, error)
	// ListApps returns the app ids of a user that own collections.
	ListApps(ctx context.Context, userDID string) ([]string, error)
	// Scan returns the documents of a collection in insertion order.
	Scan(ctx context.Context, ns models.Namespace, collection string) ([]Document, error)
	Insert(ctx context.Context, ns models.Namespace, collection string, docs []Document) error
	Replace(ctx context.Context, ns models.Namespace, collection string, doc Document) error
	Remove(ctx context.Context, ns models.Namespace, collection string, id string) (bool, error)
	// Size is the store-side byte size of all documents of a user.
	Size(ctx context.Context, userDID string) (int64, error)
	DropUser(ctx context.Context, userDID string) error
}
