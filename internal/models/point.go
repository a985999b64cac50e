package models

// Payload is the data stored next to each vector.
type Payload struct {
	Path        string            `json:"path"`
	DatasetName string            `json:"dataset_name"`
	Metadata    map[string]string `json:"metadata"`
}

// PayloadFor builds the payload for a sample.
func PayloadFor(s SampleDescriptor) Payload {
	return Payload{Path: s.SourcePath, DatasetName: s.DatasetName, Metadata: s.Metadata}
}

// Point is one stored unit in a vector store.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"-"`
	Payload Payload   `json:"payload"`
}
