package search

import (
	"context"
	"testing"

	"github.com/hyperjump/personsearch/internal/embedding"
	"github.com/hyperjump/personsearch/internal/models"
)

func BenchmarkMockOracle_EmbedText(b *testing.B) {
	o := embedding.NewMockOracle(512)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = o.EmbedText(ctx, "man in a red jacket carrying a backpack")
	}
}

func BenchmarkProcessQuery(b *testing.B) {
	for i := 0; i < b.N; i++ {
		q := &models.SearchQuery{
			Modality:      models.ModalityText,
			Text:          "  red jacket ",
			TopK:          5,
			DatasetFilter: []string{"PRCC", " PRCC", "", "LTCC"},
		}
		_ = ProcessQuery(q, 100)
	}
}
