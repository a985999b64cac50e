package models

import (
	"fmt"
	"strings"
)

// Modality is the kind of content a query carries.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// SearchQuery represents a text or image search request.
type SearchQuery struct {
	Modality    Modality `json:"modality"`
	Text        string   `json:"text,omitempty"`
	Image       []byte   `json:"-"`
	ContentType string   `json:"content_type,omitempty"`
	TopK        int      `json:"top_k"`
	// DatasetFilter restricts results to these dataset names. Empty means no restriction.
	DatasetFilter []string `json:"dataset_names,omitempty"`
}

// Validate checks the caller-supplied fields. maxTopK <= 0 disables the upper bound.
// Image bytes are only checked for presence; decoding is done by the caller.
func (q *SearchQuery) Validate(maxTopK int) error {
	switch q.Modality {
	case ModalityText:
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("text is required")
		}
	case ModalityImage:
		if q.ContentType != "" && !strings.HasPrefix(q.ContentType, "image/") {
			return fmt.Errorf("file must be an image")
		}
		if len(q.Image) == 0 {
			return fmt.Errorf("file is required")
		}
	default:
		return fmt.Errorf("unknown modality %q", q.Modality)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("top_k must be a positive integer")
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		return fmt.Errorf("top_k must not exceed %d", maxTopK)
	}
	return nil
}
