package consumer

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/tjfontaine/pmdev-translator/internal/api/openai"
)

const (
	// EventPrefix marks a record carrying a payload.
	EventPrefix = "data: "

	// DoneSentinel is the payload the upstream sends last.
	DoneSentinel = "[DONE]"
)

// RecordKind classifies one decoded record.
type RecordKind int

const (
	// RecordIgnored has no event marker (blank separators, comments, other fields).
	RecordIgnored RecordKind = iota
	// RecordDone is the termination sentinel.
	RecordDone
	// RecordParsed is a well-formed chunk. Its Delta may be empty.
	RecordParsed
	// RecordIncomplete is JSON cut off before the value ended.
	RecordIncomplete
	// RecordInvalid is JSON that can never parse.
	RecordInvalid
)

func (k RecordKind) String() string {
	switch k {
	case RecordIgnored:
		return "ignored"
	case RecordDone:
		return "done"
	case RecordParsed:
		return "parsed"
	case RecordIncomplete:
		return "incomplete"
	case RecordInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Record is the parse result of one line.
type Record struct {
	Kind  RecordKind
	Delta string
	Err   error
}

// Malformed reports whether the record was dropped because it did not parse.
func (r Record) Malformed() bool {
	return r.Kind == RecordIncomplete || r.Kind == RecordInvalid
}

// ParseRecord parses one line of the event stream.
func ParseRecord(line string) Record {
	payload, ok := strings.CutPrefix(line, EventPrefix)
	if !ok {
		return Record{Kind: RecordIgnored}
	}
	if payload == DoneSentinel {
		return Record{Kind: RecordDone}
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	var chunk openai.ChatCompletionChunk
	if err := dec.Decode(&chunk); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Record{Kind: RecordIncomplete, Err: err}
		}
		return Record{Kind: RecordInvalid, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{Kind: RecordInvalid, Err: errors.New("trailing data after chunk")}
	}

	content, _ := chunk.Content()
	return Record{Kind: RecordParsed, Delta: content}
}
