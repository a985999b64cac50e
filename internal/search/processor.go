package search

import (
	"strings"

	"github.com/hyperjump/personsearch/internal/models"
)

// ProcessQuery trims the query text, normalizes the dataset filter and validates the query.
// Blank and repeated dataset names are dropped; the caller's slice is left untouched.
func ProcessQuery(query *models.SearchQuery, maxTopK int) error {
	query.Text = strings.TrimSpace(query.Text)
	if len(query.DatasetFilter) > 0 {
		seen := make(map[string]bool, len(query.DatasetFilter))
		names := make([]string, 0, len(query.DatasetFilter))
		for _, name := range query.DatasetFilter {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		query.DatasetFilter = names
	}
	if err := query.Validate(maxTopK); err != nil {
		return &Error{Kind: KindValidation, Err: err}
	}
	return nil
}
