package stream

import "strings"

// DefaultEvent is the event name assumed for blocks without an "event:" line.
const DefaultEvent = "message"

const (
	doneSentinel        = "[DONE]"
	errorSentinelPrefix = "[ERROR]"
)

// Frame is one (event, data) unit of the streaming protocol.
type Frame struct {
	Event string
	Data  string
}

// Parser turns arbitrarily chunked protocol text into frames. The zero value
// is ready to use. A Parser holds at most one incomplete frame between calls,
// so the same frame sequence comes out no matter where the input is split.
// Malformed lines are dropped; Feed never fails.
type Parser struct {
	buf       string
	event     string
	dataLines []string
}

// Feed consumes the next chunk and returns every frame completed by it.
// Transport sentinels ("[DONE]", "[ERROR]..." payloads) are consumed but
// never returned.
func (p *Parser) Feed(chunk string) []Frame {
	p.buf += chunk

	var frames []Frame
	for {
		i := strings.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(p.buf[:i], "\r")
		p.buf = p.buf[i+1:]

		if line == "" {
			if f, ok := p.emit(); ok {
				frames = append(frames, f)
			}
			continue
		}
		p.consumeLine(line)
	}
	return frames
}

// Flush emits the frame left buffered at stream end, if any. Content after
// the last newline is treated as a final, unterminated line.
func (p *Parser) Flush() (Frame, bool) {
	if p.buf != "" {
		if line := strings.TrimSuffix(p.buf, "\r"); line != "" {
			p.consumeLine(line)
		}
		p.buf = ""
	}
	return p.emit()
}

func (p *Parser) consumeLine(line string) {
	switch {
	case strings.HasPrefix(line, "event: "):
		p.event = line[len("event: "):]
	case strings.HasPrefix(line, "data: "):
		p.dataLines = append(p.dataLines, line[len("data: "):])
	case len(p.dataLines) > 0:
		// an unprefixed line inside a data block continues the payload,
		// seen when a JSON body spans lines without repeating the prefix
		p.dataLines = append(p.dataLines, line)
	}
	// anything else outside a block is protocol noise
}

func (p *Parser) emit() (Frame, bool) {
	if p.event == "" && len(p.dataLines) == 0 {
		return Frame{}, false
	}
	f := Frame{
		Event: p.event,
		Data:  strings.Join(p.dataLines, "\n"),
	}
	p.event = ""
	p.dataLines = nil

	if f.Event == "" {
		f.Event = DefaultEvent
	}
	if f.Data == doneSentinel || strings.HasPrefix(f.Data, errorSentinelPrefix) {
		return Frame{}, false
	}
	return f, true
}
