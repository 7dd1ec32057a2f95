package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/lang/de"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/es"
	"github.com/blevesearch/bleve/v2/analysis/lang/fr"
	"github.com/blevesearch/bleve/v2/analysis/lang/it"
	"github.com/blevesearch/bleve/v2/analysis/lang/pt"
	"github.com/blevesearch/bleve/v2/analysis/lang/ru"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	bleveindex "github.com/blevesearch/bleve_index_api"
)

const (
	cjkBigramFilterName = "cjk_bigram_unigram"
	ngramFilterName     = "ngram_2_3"

	// CJKAnalyzerName indexes CJK text as bigrams plus unigrams so single
	// character queries still match.
	CJKAnalyzerName = "amansearch_cjk"
	// NgramAnalyzerName indexes 2-3 character substrings.
	NgramAnalyzerName = "amansearch_ngram"
	// BasicAnalyzerName is unicode word tokens, lowercased, no stemming.
	BasicAnalyzerName = "amansearch_basic"

	fieldDocumentID = "document_id"
)

// stemAnalyzers maps a language code to bleve's stemming analyzer.
var stemAnalyzers = map[string]string{
	"en": en.AnalyzerName,
	"de": de.AnalyzerName,
	"fr": fr.AnalyzerName,
	"es": es.AnalyzerName,
	"pt": pt.AnalyzerName,
	"it": it.AnalyzerName,
	"ru": ru.AnalyzerName,
}

// StemLanguages returns the languages with a stemming analyzer, sorted.
func StemLanguages() []string {
	out := make([]string, 0, len(stemAnalyzers))
	for lang := range stemAnalyzers {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// fieldPart is one of the weighted fields of a chunk.
type fieldPart string

const (
	partTitle fieldPart = "title"
	partTags  fieldPart = "tags"
	partBody  fieldPart = "body"
)

var fieldParts = []fieldPart{partTitle, partTags, partBody}

// fieldName returns the indexed field for a part under a match mode.
func fieldName(part fieldPart, mode MatchMode, lang string) string {
	switch mode {
	case MatchStemmed:
		return string(part) + "_stem_" + lang
	case MatchBigram:
		return string(part) + "_cjk"
	case MatchNgram:
		return string(part) + "_tri"
	default:
		return string(part) + "_basic"
	}
}

// TermIndexConfig configures the bleve term index.
type TermIndexConfig struct {
	// DefaultLanguage is used for chunks whose language has no stemmer.
	DefaultLanguage string
}

// BleveTermIndex implements TermIndex on bleve. Every chunk is indexed
// into four field families: stemmed (its own language only), CJK bigram,
// 2-3 gram substring and basic unicode.
type BleveTermIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config TermIndexConfig
	closed bool
}

var _ TermIndex = (*BleveTermIndex)(nil)

// validateIndexIntegrity checks that an on-disk index has a readable
// index_meta.json. Returns nil if valid or absent.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// OpenBleveTermIndex opens or creates the term index. An empty path
// creates an in-memory index.
func OpenBleveTermIndex(path string, cfg TermIndexConfig) (*BleveTermIndex, error) {
	if _, ok := stemAnalyzers[cfg.DefaultLanguage]; !ok {
		cfg.DefaultLanguage = "en"
	}

	im, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if validErr := validateIndexIntegrity(path); validErr != nil {
			// The term index is derived data; clearing it forces a reload.
			slog.Warn("term_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("term index corrupted at %s and cannot remove: %w", path, removeErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open term index: %w", err)
	}

	return &BleveTermIndex{index: idx, path: path, config: cfg}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomTokenFilter(cjkBigramFilterName, map[string]interface{}{
		"type":           cjk.BigramName,
		"output_unigram": true,
	}); err != nil {
		return nil, fmt.Errorf("cjk bigram filter: %w", err)
	}
	if err := im.AddCustomTokenFilter(ngramFilterName, map[string]interface{}{
		"type": ngram.Name,
		"min":  2.0,
		"max":  3.0,
	}); err != nil {
		return nil, fmt.Errorf("ngram filter: %w", err)
	}

	analyzers := map[string]map[string]interface{}{
		CJKAnalyzerName: {
			"type":          custom.Name,
			"tokenizer":     unicode.Name,
			"token_filters": []string{cjk.WidthName, lowercase.Name, cjkBigramFilterName},
		},
		NgramAnalyzerName: {
			"type":          custom.Name,
			"tokenizer":     single.Name,
			"token_filters": []string{lowercase.Name, ngramFilterName},
		},
		BasicAnalyzerName: {
			"type":          custom.Name,
			"tokenizer":     unicode.Name,
			"token_filters": []string{lowercase.Name},
		},
	}
	for name, def := range analyzers {
		if err := im.AddCustomAnalyzer(name, def); err != nil {
			return nil, fmt.Errorf("analyzer %s: %w", name, err)
		}
	}

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false

	textField := func(analyzer string) *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = analyzer
		fm.Store = false
		fm.IncludeInAll = false
		return fm
	}
	for _, part := range fieldParts {
		for lang, analyzer := range stemAnalyzers {
			doc.AddFieldMappingsAt(fieldName(part, MatchStemmed, lang), textField(analyzer))
		}
		doc.AddFieldMappingsAt(fieldName(part, MatchBigram, ""), textField(CJKAnalyzerName))
		doc.AddFieldMappingsAt(fieldName(part, MatchNgram, ""), textField(NgramAnalyzerName))
		doc.AddFieldMappingsAt(fieldName(part, MatchBasic, ""), textField(BasicAnalyzerName))
	}

	docID := bleve.NewKeywordFieldMapping()
	docID.Store = true
	doc.AddFieldMappingsAt(fieldDocumentID, docID)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = BasicAnalyzerName
	im.ScoringModel = bleveindex.BM25Scoring
	return im, nil
}

// stemLanguage picks the stemmed field family a chunk is indexed under.
func (b *BleveTermIndex) stemLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := stemAnalyzers[lang]; ok {
		return lang
	}
	return b.config.DefaultLanguage
}

func (b *BleveTermIndex) document(c IndexedChunk) map[string]interface{} {
	values := map[fieldPart]string{
		partTitle: c.Title,
		partTags:  strings.Join(c.Tags, " "),
		partBody:  c.Text,
	}
	lang := b.stemLanguage(c.Language)

	doc := map[string]interface{}{fieldDocumentID: c.DocumentID}
	for part, v := range values {
		if v == "" {
			continue
		}
		doc[fieldName(part, MatchStemmed, lang)] = v
		doc[fieldName(part, MatchBigram, "")] = v
		doc[fieldName(part, MatchNgram, "")] = v
		doc[fieldName(part, MatchBasic, "")] = v
	}
	return doc
}

// Index adds or replaces chunks.
func (b *BleveTermIndex) Index(ctx context.Context, chunks []IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("term index is closed")
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(c.ChunkID, b.document(c)); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Delete removes chunks.
func (b *BleveTermIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("term index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Search runs a boolean term query. A query without Must clauses or a
// restricted query with no eligible chunks matches nothing.
func (b *BleveTermIndex) Search(ctx context.Context, q TermQuery) ([]TermHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("term index is closed")
	}

	if len(q.Must) == 0 || (q.Restricted && len(q.ChunkIDs) == 0) {
		return []TermHit{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	bq, ok := b.buildQuery(q)
	if !ok {
		return []TermHit{}, nil
	}

	req := bleve.NewSearchRequestOptions(bq, limit, 0, false)
	req.Fields = []string{fieldDocumentID}
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("term search failed: %w", err)
	}

	hits := make([]TermHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		docID, _ := h.Fields[fieldDocumentID].(string)
		hits = append(hits, TermHit{ChunkID: h.ID, DocumentID: docID, Score: h.Score})
	}
	SortTermHits(hits)
	return hits, nil
}

// SortTermHits orders hits by score descending, then document id and
// chunk id ascending.
func SortTermHits(hits []TermHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func (b *BleveTermIndex) buildQuery(q TermQuery) (query.Query, bool) {
	fields := q.Fields
	if fields == (FieldWeights{}) {
		fields = DefaultFieldWeights()
	}

	clauses := make([]query.Query, 0, len(q.Must))
	for _, c := range q.Must {
		ops := make([]query.Query, 0, len(c.Any))
		for _, op := range c.Any {
			if oq := b.operandQuery(op, fields); oq != nil {
				ops = append(ops, oq)
			}
		}
		if len(ops) == 0 {
			// A clause that cannot match makes the conjunction unsatisfiable.
			return nil, false
		}
		clauses = append(clauses, bleve.NewDisjunctionQuery(ops...))
	}

	must := []query.Query{bleve.NewConjunctionQuery(clauses...)}
	if q.Restricted {
		must = append(must, bleve.NewDocIDQuery(q.ChunkIDs))
	}

	bq := bleve.NewBooleanQuery()
	bq.AddMust(must...)
	for _, op := range q.MustNot {
		// Exclusions match on any field regardless of weight.
		if nq := b.operandQuery(op, FieldWeights{Title: 1, Tags: 1, Body: 1}); nq != nil {
			bq.AddMustNot(nq)
		}
	}
	return bq, true
}

// operandQuery matches one operand against title, tags and body of its
// field family, boosted by the field weights.
func (b *BleveTermIndex) operandQuery(op TermOperand, fields FieldWeights) query.Query {
	text := strings.TrimSpace(op.Text)
	if text == "" {
		return nil
	}
	lang := b.stemLanguage(op.Language)
	weights := map[fieldPart]float64{
		partTitle: fields.Title,
		partTags:  fields.Tags,
		partBody:  fields.Body,
	}

	var per []query.Query
	for _, part := range fieldParts {
		w := weights[part]
		if w <= 0 {
			continue
		}
		field := fieldName(part, op.Mode, lang)
		if op.Phrase && (op.Mode == MatchStemmed || op.Mode == MatchBasic) {
			pq := bleve.NewMatchPhraseQuery(text)
			pq.SetField(field)
			pq.SetBoost(w)
			per = append(per, pq)
			continue
		}
		// Bigram and n-gram tokens carry no usable positions, so phrases
		// there require every gram instead.
		mq := bleve.NewMatchQuery(text)
		mq.SetField(field)
		mq.SetBoost(w)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		per = append(per, mq)
	}
	if len(per) == 0 {
		return nil
	}
	return bleve.NewDisjunctionQuery(per...)
}

// Missing returns the ids that have no indexed document.
func (b *BleveTermIndex) Missing(ctx context.Context, chunkIDs []string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("term index is closed")
	}
	var missing []string
	for _, id := range chunkIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := b.index.Document(id)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", id, err)
		}
		if doc == nil {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Count returns the number of indexed chunks.
func (b *BleveTermIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("term index is closed")
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count: %w", err)
	}
	return int(n), nil
}

// Close closes the index.
func (b *BleveTermIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
