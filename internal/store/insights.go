// Package store holds the persistence layers around the pipeline: the
// Elasticsearch insight archive and the Redis conversation memory.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	stderrors "vendora/internal/common/errors"
)

// InsightDocument is the archived form of a processed insight. Ingested
// report documents share the same index with Kind "report".
type InsightDocument struct {
	TaskID             string                 `json:"task_id,omitempty"`
	DealershipID       string                 `json:"dealership_id"`
	Kind               string                 `json:"kind"`
	Summary            string                 `json:"summary"`
	DetailedInsight    string                 `json:"detailed_insight,omitempty"`
	Recommendations    []string               `json:"recommendations,omitempty"`
	QualityScore       float64                `json:"quality_score,omitempty"`
	Complexity         string                 `json:"complexity,omitempty"`
	Metrics            map[string]interface{} `json:"metrics,omitempty"`
	ProcessedTimestamp time.Time              `json:"processed_timestamp"`
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// InsightArchive stores processed insights in Elasticsearch and serves the
// recent-insight context consumed by the specialists.
type InsightArchive struct {
	client *elasticsearch.Client
	index  string
	logger Logger
}

func NewInsightArchive(client *elasticsearch.Client, index string, logger Logger) *InsightArchive {
	return &InsightArchive{client: client, index: index, logger: logger}
}

// Store indexes one document.
func (a *InsightArchive) Store(ctx context.Context, doc InsightDocument) error {
	if doc.ProcessedTimestamp.IsZero() {
		doc.ProcessedTimestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return stderrors.NewArchiveUnavailableError(err)
	}

	res, err := a.client.Index(
		a.index,
		bytes.NewReader(payload),
		a.client.Index.WithContext(ctx),
	)
	if err != nil {
		return stderrors.NewArchiveUnavailableError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return stderrors.NewArchiveUnavailableError(fmt.Errorf("index returned %s", res.Status()))
	}
	return nil
}

// ListRecent returns the newest documents for one dealership, newest first.
func (a *InsightArchive) ListRecent(ctx context.Context, dealershipID string, limit int) ([]InsightDocument, error) {
	if limit <= 0 {
		limit = 5
	}

	queryBody := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"dealership_id": dealershipID,
			},
		},
		"sort": []map[string]interface{}{
			{"processed_timestamp": map[string]string{"order": "desc"}},
		},
	}

	payload, err := json.Marshal(queryBody)
	if err != nil {
		return nil, stderrors.NewArchiveUnavailableError(err)
	}

	res, err := a.client.Search(
		a.client.Search.WithContext(ctx),
		a.client.Search.WithIndex(a.index),
		a.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, stderrors.NewArchiveUnavailableError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, stderrors.NewArchiveUnavailableError(fmt.Errorf("search returned %s", res.Status()))
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				Source InsightDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, stderrors.NewArchiveUnavailableError(err)
	}

	docs := make([]InsightDocument, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}
