package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	stderrors "vendora/internal/common/errors"
	"vendora/internal/store"
)

// CSVProcessor turns tabular report attachments into archive documents.
// Numeric columns are summarized; everything else only contributes to the
// row count.
type CSVProcessor struct{}

func NewCSVProcessor() *CSVProcessor { return &CSVProcessor{} }

func (p *CSVProcessor) CanProcess(att Attachment) bool {
	if strings.HasSuffix(strings.ToLower(att.Filename), ".csv") {
		return true
	}
	return strings.Contains(att.ContentType, "text/csv")
}

func (p *CSVProcessor) Process(ctx context.Context, dealershipID string, att Attachment) (store.InsightDocument, error) {
	reader := csv.NewReader(bytes.NewReader(att.Data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return store.InsightDocument{}, stderrors.NewIngestParseFailedError(att.Filename, err)
	}
	if len(records) < 2 {
		return store.InsightDocument{}, stderrors.NewIngestParseFailedError(att.Filename, fmt.Errorf("no data rows"))
	}

	header := records[0]
	rows := records[1:]

	metrics := map[string]interface{}{
		"row_count": len(rows),
		"source":    att.Filename,
	}
	for col, name := range header {
		sum, count := 0.0, 0
		for _, row := range rows {
			if col >= len(row) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			if err != nil {
				continue
			}
			sum += v
			count++
		}
		// A column counts as numeric when most of its values parse.
		if count*2 > len(rows) {
			key := normalizeColumn(name)
			metrics[key+"_total"] = sum
			metrics[key+"_avg"] = sum / float64(count)
		}
	}

	return store.InsightDocument{
		DealershipID: dealershipID,
		Kind:         "report",
		Summary:      fmt.Sprintf("Emailed report %s: %d rows across %d columns.", att.Filename, len(rows), len(header)),
		Metrics:      metrics,
	}, nil
}

func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
