package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/events"
)

// indexedRecord is the document shape stored in bleve.
type indexedRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// BleveIndex implements RecordIndex using Bleve. Record bodies are converted to
// markdown before indexing so markup does not pollute the term dictionary.
type BleveIndex struct {
	index     bleve.Index
	converter *md.Converter
	logger    *zap.Logger // optional; when set, logs indexing failures from Handle
}

// Option configures a BleveIndex.
type Option func(*BleveIndex)

// WithLogger sets a logger for indexing failures reported by Handle.
func WithLogger(l *zap.Logger) Option {
	return func(b *BleveIndex) { b.logger = l }
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string, opts ...Option) (*BleveIndex, error) {
	b := &BleveIndex{converter: md.NewConverter("", true, nil)}
	for _, opt := range opts {
		opt(b)
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		b.index = index
		return b, nil
	}

	index, err := bleve.New(path, indexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	return b, nil
}

func indexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	return im
}

// IndexRecord indexes (or re-indexes) a record's title and body.
func (b *BleveIndex) IndexRecord(ctx context.Context, recordID int64, title, bodyHTML string) error {
	content, err := b.converter.ConvertString(bodyHTML)
	if err != nil {
		return fmt.Errorf("convert record %d body: %w", recordID, err)
	}
	id := docID(recordID)
	return b.index.Index(id, indexedRecord{ID: id, Title: title, Content: content})
}

// Handle is an events.Handler that keeps the index in step with record.created and
// record.updated events.
func (b *BleveIndex) Handle(ctx context.Context, e events.Event) {
	p, ok := e.Payload.(events.RecordPayload)
	if !ok {
		return
	}
	if err := b.IndexRecord(ctx, p.RecordID, p.Title, p.BodyHTML); err != nil && b.logger != nil {
		b.logger.Warn("keyword index failed", zap.Int64("record_id", p.RecordID), zap.Error(err))
	}
}

// Search runs a match query over title and content and returns up to limit results.
// When opts.TitleBoost > 1, title matches outweigh content matches.
// When opts.FuzzyEnabled is true, fuzzy matching is used for typo tolerance.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	titleBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var q blevequery.Query
	switch {
	case fuzzyEnabled:
		q = bleve.NewDisjunctionQuery(
			fieldQuery(buildFuzzyQuery(query, fuzziness, "title"), titleBoost),
			buildFuzzyQuery(query, fuzziness, "content"),
		)
	case titleBoost > 1.0:
		tq := bleve.NewMatchQuery(query)
		tq.SetField("title")
		tq.SetBoost(titleBoost)
		cq := bleve.NewMatchQuery(query)
		cq.SetField("content")
		q = bleve.NewDisjunctionQuery(tq, cq)
	default:
		q = bleve.NewMatchQuery(query)
	}

	search := bleve.NewSearchRequestOptions(q, limit, 0, false)
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := parseDocID(hit.ID)
		if err != nil {
			continue
		}
		out = append(out, &Result{RecordID: id, Score: hit.Score})
	}
	return out, nil
}

// fieldQuery applies boost to q when it supports boosting.
func fieldQuery(q blevequery.Query, boost float64) blevequery.Query {
	if bq, ok := q.(blevequery.BoostableQuery); ok && boost > 1.0 {
		bq.SetBoost(boost)
	}
	return q
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query,
// restricted to field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 1 {
		fq := bleve.NewFuzzyQuery(terms[0])
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		return fq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a record from the index.
func (b *BleveIndex) Delete(ctx context.Context, recordID int64) error {
	return b.index.Delete(docID(recordID))
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of records in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

func docID(recordID int64) string {
	return "record:" + strconv.FormatInt(recordID, 10)
}

func parseDocID(id string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(id, "record:"), 10, 64)
}
