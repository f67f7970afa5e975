package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kmoravec/querypilot/pkg/models"
)

// LoadPairs reads a suspended-queries CSV export and returns one work item
// per unique query/country pair. The expected columns are the query name
// followed by the reporter field, which embeds the ISO3 code as a standalone
// 3-letter token (e.g. "United States USA").
func LoadPairs(path string) ([]models.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pairs file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var items []models.WorkItem
	seen := make(map[string]bool)
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read pairs file: %w", err)
		}
		line++
		if line == 1 && looksLikeHeader(record) {
			continue
		}
		if len(record) < 2 {
			continue
		}

		query := strings.TrimSpace(record[0])
		reporter := strings.TrimSpace(record[1])
		iso3 := extractISO3(reporter)
		if query == "" || iso3 == "" {
			continue
		}

		id := models.PairID(query, iso3)
		if seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, models.WorkItem{ID: id, Payload: reporter})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("pairs file %s contains no usable rows", path)
	}
	return items, nil
}

func looksLikeHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(record[0]))
	return first == "query" || first == "query_name" || first == "name"
}

// extractISO3 returns the last 3-uppercase-letter token of the reporter
// field, or "" when none is present.
func extractISO3(reporter string) string {
	fields := strings.Fields(reporter)
	for i := len(fields) - 1; i >= 0; i-- {
		if validISO3(fields[i]) {
			return fields[i]
		}
	}
	return ""
}
