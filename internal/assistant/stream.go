package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/gradski-asistent/backend/internal/models"
	"github.com/gradski-asistent/backend/internal/stream"
)

// Stream is the pull side of one chat response. Recv returns message-frame
// payloads in arrival order and io.EOF when the body ends. A network failure
// surfaces exactly once; after that Recv keeps returning io.EOF.
//
// Cancelling the context aborts the underlying connection without turning
// into a Recv error; the caller is expected to check its own context after
// each token.
type Stream struct {
	// OnMeta runs once per meta frame, before Recv hands out the next
	// token. OnAction is retained for compatibility with older backends
	// that still emit action frames; nothing here acts on it.
	OnMeta   func(models.ConversationMetadata)
	OnAction func(action string)

	ctx     context.Context
	body    io.ReadCloser
	parser  stream.Parser
	pending []stream.Frame
	meta    *models.ConversationMetadata
	readBuf []byte
	readErr error
	done    bool
	failed  bool
}

func NewStream(ctx context.Context, body io.ReadCloser) *Stream {
	return &Stream{
		ctx:     ctx,
		body:    body,
		readBuf: make([]byte, 4096),
	}
}

func (s *Stream) Recv() (string, error) {
	for {
		for len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			switch f.Event {
			case "meta":
				s.ingestMeta(f.Data)
			case "action":
				if s.OnAction != nil {
					s.OnAction(f.Data)
				}
			case stream.DefaultEvent:
				return f.Data, nil
			}
		}

		if s.done {
			if s.readErr != nil && !s.failed {
				s.failed = true
				return "", s.readErr
			}
			return "", io.EOF
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			s.pending = append(s.pending, s.parser.Feed(string(s.readBuf[:n]))...)
		}
		if err != nil {
			s.done = true
			if f, ok := s.parser.Flush(); ok {
				s.pending = append(s.pending, f)
			}
			switch {
			case errors.Is(err, io.EOF):
			case s.ctx.Err() != nil:
				// aborted by the caller, not an error
			default:
				s.readErr = err
			}
		}
	}
}

// Meta returns the last stored metadata snapshot.
func (s *Stream) Meta() (models.ConversationMetadata, bool) {
	if s.meta == nil {
		return models.ConversationMetadata{}, false
	}
	return *s.meta, true
}

func (s *Stream) Close() error {
	return s.body.Close()
}

// metaPayload accepts both spellings of the escalation flag; they collapse
// into one boolean here and nothing downstream sees the wire keys again.
type metaPayload struct {
	Model              *string               `json:"model"`
	LatencyMs          int64                 `json:"latency_ms"`
	RetrievedDocsCount int                   `json:"retrieved_docs_count"`
	RetrievedDocsTop3  []models.RetrievedDoc `json:"retrieved_docs_top3"`
	UsedFallback       bool                  `json:"used_fallback"`
	NeedsHumanSnake    *bool                 `json:"needs_human"`
	NeedsHumanCamel    *bool                 `json:"needsHuman"`
}

func (s *Stream) ingestMeta(data string) {
	var raw metaPayload
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		// malformed meta is dropped like any other protocol noise
		return
	}
	m := models.ConversationMetadata{
		LatencyMs:          raw.LatencyMs,
		RetrievedDocsCount: raw.RetrievedDocsCount,
		RetrievedDocsTop3:  raw.RetrievedDocsTop3,
		UsedFallback:       raw.UsedFallback,
	}
	if raw.Model != nil {
		m.Model = *raw.Model
	}
	if raw.NeedsHumanSnake != nil {
		m.NeedsHuman = *raw.NeedsHumanSnake
	} else if raw.NeedsHumanCamel != nil {
		m.NeedsHuman = *raw.NeedsHumanCamel
	}
	s.meta = &m
	if s.OnMeta != nil {
		s.OnMeta(m)
	}
}
