package search

//go:generate mockgen -source=embedder.go -package=search -destination=embedder_mock.go

import "context"

// Embedder turns text into a vector. *ollama.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}
