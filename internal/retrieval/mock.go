package retrieval

import (
	"context"

	"github.com/gradski-asistent/backend/internal/models"
	"github.com/gradski-asistent/backend/internal/utils"
)

var mockCorpus = []models.RetrievedDoc{
	{Title: "Prijava komunalnog problema", Source: "grad.hr/komunalno", Score: 0.91},
	{Title: "Radno vrijeme gradske uprave", Source: "grad.hr/uprava", Score: 0.88},
	{Title: "Raspored odvoza otpada", Source: "grad.hr/otpad", Score: 0.84},
	{Title: "Zahtjev za potvrdu o prebivalištu", Source: "grad.hr/dokumenti", Score: 0.79},
	{Title: "Naknade i gradski porezi", Source: "grad.hr/financije", Score: 0.73},
	{Title: "Parkirne zone i cijene", Source: "grad.hr/promet", Score: 0.68},
}

// MockRetriever returns a deterministic slice of the fixed corpus, rotated
// by the query hash so different questions surface different documents.
type MockRetriever struct{}

func (MockRetriever) Search(ctx context.Context, query string, limit int) ([]models.RetrievedDoc, error) {
	if limit <= 0 || limit > len(mockCorpus) {
		limit = 3
	}
	start := int(utils.HashStringToUint64(query) % uint64(len(mockCorpus)))
	out := make([]models.RetrievedDoc, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, mockCorpus[(start+i)%len(mockCorpus)])
	}
	return out, nil
}
