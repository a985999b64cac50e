package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr string
	}{
		{"valid text", &SearchQuery{Modality: ModalityText, Text: "red jacket", TopK: 5}, ""},
		{"whitespace text", &SearchQuery{Modality: ModalityText, Text: "   ", TopK: 5}, "text is required"},
		{"zero top_k", &SearchQuery{Modality: ModalityText, Text: "x", TopK: 0}, "top_k must be a positive integer"},
		{"negative top_k", &SearchQuery{Modality: ModalityText, Text: "x", TopK: -3}, "top_k must be a positive integer"},
		{"top_k above cap", &SearchQuery{Modality: ModalityText, Text: "x", TopK: 101}, "top_k must not exceed 100"},
		{"valid image", &SearchQuery{Modality: ModalityImage, Image: []byte{1}, ContentType: "image/png", TopK: 1}, ""},
		{"image without content type", &SearchQuery{Modality: ModalityImage, Image: []byte{1}, TopK: 1}, ""},
		{"text/plain upload", &SearchQuery{Modality: ModalityImage, Image: []byte{1}, ContentType: "text/plain", TopK: 1}, "file must be an image"},
		{"empty upload", &SearchQuery{Modality: ModalityImage, ContentType: "image/jpeg", TopK: 1}, "file is required"},
		{"unknown modality", &SearchQuery{Modality: "audio", TopK: 1}, `unknown modality "audio"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(100)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSearchQuery_Validate_noCap(t *testing.T) {
	q := &SearchQuery{Modality: ModalityText, Text: "x", TopK: 1 << 20}
	if err := q.Validate(0); err != nil {
		t.Errorf("maxTopK 0 should disable the cap: %v", err)
	}
}
