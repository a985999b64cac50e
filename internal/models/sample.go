// Package models defines core data structures for samples, points, queries, results, and indexing reports.
package models

// Metadata keys extracted positionally from a sample filename stem.
const (
	KeyPersonID   = "person_id"
	KeyLocationID = "location_id"
	KeyClothesID  = "clothes_id"
	KeyFrameID    = "frame_id"
)

// MetadataKeys lists the recognized metadata keys in filename field order.
var MetadataKeys = []string{KeyPersonID, KeyLocationID, KeyClothesID, KeyFrameID}

// SampleDescriptor is one labeled image found by the crawler.
type SampleDescriptor struct {
	SourcePath  string            `json:"source_path"`
	DatasetName string            `json:"dataset_name"`
	Metadata    map[string]string `json:"metadata"`
}
