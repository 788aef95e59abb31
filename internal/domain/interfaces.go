package domain

import "context"

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Retriever acquires remote content into a workspace
type Retriever interface {
	// Name returns the retriever name
	Name() string
	// Kind returns the source kind this retriever handles
	Kind() SourceKind
	// Retrieve fetches the source described by req into req.Root
	Retrieve(ctx context.Context, req RetrieveRequest) (*RetrievedSource, error)
}

// RetrieveRequest contains the inputs of one retrieval
type RetrieveRequest struct {
	Source SourceDescriptor
	// Root is the canonical workspace root
	Root string
	// MaxBytes bounds the retrieved content, 0 means unbounded
	MaxBytes int64
}
