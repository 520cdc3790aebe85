package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gradski-asistent/backend/internal/retrieval"
	"github.com/gradski-asistent/backend/internal/utils"
)

var mockAnswers = []string{
	"Zahtjev možete predati online ili osobno u gradskoj upravi.",
	"Radno vrijeme gradske uprave je radnim danom od 8 do 16 sati.",
	"Vašu prijavu proslijedit ćemo nadležnoj gradskoj službi.",
	"Za taj postupak potrebna je potvrda o prebivalištu.",
	"Odvoz glomaznog otpada naručuje se putem gradske stranice.",
}

// MockStreamer composes a deterministic frame script for a message and
// serves it through the same Stream implementation the HTTP client uses.
// Used when CHAT_URL is empty and in tests.
type MockStreamer struct {
	ModelVersion string
	Retriever    retrieval.Retriever
}

func (m MockStreamer) StreamChat(ctx context.Context, req ChatRequest) (*Stream, error) {
	h := utils.HashStringToUint64(req.Message)
	answer := mockAnswers[h%uint64(len(mockAnswers))]

	var sb strings.Builder
	for _, word := range strings.Fields(answer) {
		sb.WriteString("data: " + word + " \n\n")
	}

	meta := map[string]any{
		"model":         m.ModelVersion,
		"latency_ms":    int64(h%400 + 120),
		"used_fallback": false,
	}
	if m.Retriever != nil {
		if docs, err := m.Retriever.Search(ctx, req.Message, 3); err == nil {
			meta["retrieved_docs_count"] = len(docs)
			meta["retrieved_docs_top3"] = retrieval.Top3(docs)
		}
	}
	// alternate the flag spelling so both wire forms stay exercised
	if h%2 == 0 {
		meta["needs_human"] = h%5 == 0
	} else {
		meta["needsHuman"] = h%5 == 0
	}
	b, _ := json.Marshal(meta)
	fmt.Fprintf(&sb, "event: meta\ndata: %s\n\n", b)
	sb.WriteString("data: [DONE]\n\n")

	return NewStream(ctx, io.NopCloser(strings.NewReader(sb.String()))), nil
}
