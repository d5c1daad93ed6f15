package types

import (
	"fmt"
	"math"
	"time"
)

// FrameTask represents a single admitted camera frame waiting for analysis
type FrameTask struct {
	Index int
	Data  []byte
}

// FaceResult is a single face as decoded from the inference worker protocol
type FaceResult struct {
	Loc        [4]int    `json:"loc"` // [x1, y1, x2, y2]
	Confidence float64   `json:"confidence"`
	Vec        []float32 `json:"vec"`
}

// Analysis is everything the detector/embedder reports about one frame
type Analysis struct {
	Width  int
	Height int
	Faces  []FaceResult
}

// Observation is one analyzed frame, ready for the tracker.
type Observation struct {
	Width      int
	Height     int
	Detections []Detection
}

// Point is a position in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Valid reports whether both coordinates are finite numbers.
func (p Point) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// BBox is a corner-format bounding box.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the centroid of the box.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Detection is one face found in one frame. It lives for a single frame cycle.
type Detection struct {
	Center     Point
	Width      float64
	Height     float64
	BBox       BBox
	Embedding  []float32
	Confidence float64
}

// DetectionFromFace converts a worker face into a Detection.
func DetectionFromFace(f FaceResult) Detection {
	box := BBox{X1: float64(f.Loc[0]), Y1: float64(f.Loc[1]), X2: float64(f.Loc[2]), Y2: float64(f.Loc[3])}
	return Detection{
		Center:     box.Center(),
		Width:      box.X2 - box.X1,
		Height:     box.Y2 - box.Y1,
		BBox:       box,
		Embedding:  f.Vec,
		Confidence: f.Confidence,
	}
}

// Validate rejects detections the tracker cannot reason about.
func (d Detection) Validate() error {
	if !d.Center.Valid() {
		return &InputError{Reason: fmt.Sprintf("invalid centroid (%v, %v)", d.Center.X, d.Center.Y)}
	}
	return ValidateEmbedding(d.Embedding)
}

// ValidateEmbedding checks that a vector is non-empty and finite.
func ValidateEmbedding(vec []float32) error {
	if len(vec) == 0 {
		return &InputError{Reason: "empty embedding"}
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &InputError{Reason: fmt.Sprintf("non-finite embedding value at index %d", i)}
		}
	}
	return nil
}

// Unknown is the identity id reported when nothing matched.
const Unknown = 0

// UnknownName is the display name of an unmatched face.
const UnknownName = "unknown"

// Match is the outcome of matching one embedding against the gallery.
type Match struct {
	IdentityID int     `json:"identity_id"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
}

// Known reports whether the match resolved to an enrolled identity.
func (m Match) Known() bool {
	return m.IdentityID != Unknown
}

// Label returns the identity name, or "unknown".
func (m Match) Label() string {
	if !m.Known() {
		return UnknownName
	}
	return m.Name
}

// SameIdentity compares identities, ignoring the score.
func (m Match) SameIdentity(o Match) bool {
	return m.IdentityID == o.IdentityID
}

// Identity is an enrolled person with one or more reference embeddings.
type Identity struct {
	ID         int
	Name       string
	Embeddings [][]float32
}

// EventKind distinguishes greetings from farewells.
type EventKind string

const (
	Entry EventKind = "ENTRY"
	Exit  EventKind = "EXIT"
)

// Event is an emitted greet/farewell decision.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       EventKind `json:"kind"`
	IdentityID int       `json:"identity_id"`
	Name       string    `json:"name"`
	TrackID    int64     `json:"track_id"`
	Score      float64   `json:"score"`
	Forced     bool      `json:"forced,omitempty"`
	Text       string    `json:"text"`
}

// Job returns the speech work item for this event.
func (e Event) Job() GreetingJob {
	return GreetingJob{Name: e.Name, Kind: e.Kind, Text: e.Text}
}

// GreetingJob is one utterance waiting for the speech worker.
type GreetingJob struct {
	Name string
	Kind EventKind
	Text string
}

// Side is the position of a centroid relative to the door line.
type Side int

const (
	SideUnknown Side = iota
	Outside
	Inside
)

func (s Side) String() string {
	switch s {
	case Outside:
		return "outside"
	case Inside:
		return "inside"
	default:
		return "unknown"
	}
}
