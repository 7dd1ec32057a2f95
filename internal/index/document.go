// Package index loads pre-chunked documents into the stores a query reads:
// the term index, the coarse ANN graph, full-dimension vectors and chain
// metadata.
package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 16 << 20

// chunkNamespace seeds deterministic chunk ids for chunks loaded without one.
var chunkNamespace = uuid.MustParse("6f1c4a52-8e0b-4c7e-9d57-3a2b1f9c0e11")

// Document is one JSONL input record.
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags,omitempty"`
	Scheme   string   `json:"scheme,omitempty"`
	Schemes  []string `json:"schemes,omitempty"`
	Language string   `json:"language,omitempty"`

	// Text is shorthand for a single-chunk document.
	Text   string       `json:"text,omitempty"`
	Chunks []InputChunk `json:"chunks,omitempty"`
}

// InputChunk is one chunk of a Document. In JSON it is either an object
// or a bare string.
type InputChunk struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts "text" as well as {"id": ..., "text": ...}.
func (c *InputChunk) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	type plain InputChunk
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = InputChunk(p)
	return nil
}

// ChunkID derives the id of the chunk at sequence seq (1-based) in
// document docID. The same inputs always give the same id.
func ChunkID(docID string, seq int) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s/%d", docID, seq)).String()
}

// prepared is a validated document with its chain ready to write.
type prepared struct {
	doc    store.Document
	chunks []store.Chunk
}

// prepare validates d and builds its chain. Sequences are 1-based in
// input order; empty chunks are dropped before numbering.
func (d Document) prepare() (prepared, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return prepared{}, fmt.Errorf("document id is required")
	}

	inputs := d.Chunks
	if len(inputs) == 0 && d.Text != "" {
		inputs = []InputChunk{{Text: d.Text}}
	}

	schemes := d.Schemes
	if d.Scheme != "" {
		schemes = append([]string{d.Scheme}, schemes...)
	}

	p := prepared{
		doc: store.Document{
			ID:       id,
			Title:    strings.TrimSpace(d.Title),
			Tags:     d.Tags,
			Schemes:  schemes,
			Language: strings.ToLower(strings.TrimSpace(d.Language)),
		},
	}
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			continue
		}
		seq := len(p.chunks) + 1
		chunkID := strings.TrimSpace(in.ID)
		if chunkID == "" {
			chunkID = ChunkID(id, seq)
		}
		if _, dup := seen[chunkID]; dup {
			return prepared{}, fmt.Errorf("document %s: duplicate chunk id %s", id, chunkID)
		}
		seen[chunkID] = struct{}{}
		p.chunks = append(p.chunks, store.Chunk{
			ID:         chunkID,
			DocumentID: id,
			Sequence:   seq,
			Text:       text,
		})
	}
	if len(p.chunks) == 0 {
		return prepared{}, fmt.Errorf("document %s has no text", id)
	}
	return p, nil
}

// ReadJSONL decodes one Document per non-blank line. A malformed line
// fails with its line number. A later record with the same id replaces
// the earlier one.
func ReadJSONL(r io.Reader) ([]Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var docs []Document
	index := make(map[string]int)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput,
				fmt.Sprintf("line %d: invalid JSON", line), err)
		}
		if i, ok := index[d.ID]; ok {
			docs[i] = d
			continue
		}
		index[d.ID] = len(docs)
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, "failed to read input", err)
	}
	return docs, nil
}
