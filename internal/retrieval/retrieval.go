package retrieval

import (
	"context"
	"errors"

	"github.com/gradski-asistent/backend/internal/models"
)

var ErrNoResults = errors.New("retrieval: no results")

// Retriever is the document-retrieval collaborator: ranked civic documents
// for a citizen query.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]models.RetrievedDoc, error)
}

func Top3(docs []models.RetrievedDoc) []models.RetrievedDoc {
	if len(docs) > 3 {
		return docs[:3]
	}
	return docs
}
