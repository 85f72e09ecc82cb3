package types

import "context"

// Unrecognized is the label reported for detections that match no gallery entry.
const Unrecognized = "unrecognized"

// EmbeddingDim is the vector length produced by the face_recognition worker.
const EmbeddingDim = 128

// FrameTask represents a single frame sent to a worker for processing
type FrameTask struct {
	Index int
	Data  []byte
}

// Embedding is a face descriptor. Euclidean distance between two embeddings
// approximates how different the two faces are.
type Embedding []float64

// Box is a face bounding box in face_recognition order.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Detection is one face found in a frame.
type Detection struct {
	Box Box       `json:"box"`
	Vec Embedding `json:"vec"`
}

// MatchResult is the outcome of matching one detection against the gallery.
// Index is the gallery index of the nearest entry, or -1 when the gallery is empty.
type MatchResult struct {
	Detection Detection `json:"detection"`
	Matched   bool      `json:"matched"`
	Label     string    `json:"label"`
	Distance  float64   `json:"distance"`
	Index     int       `json:"index"`
}

// Extractor turns one JPEG frame into zero or more face detections.
type Extractor interface {
	Extract(ctx context.Context, frame []byte) ([]Detection, error)
}
