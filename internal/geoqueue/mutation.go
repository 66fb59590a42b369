package geoqueue

import "strings"

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func ParseOperation(raw string) (Operation, bool) {
	switch Operation(strings.ToLower(strings.TrimSpace(raw))) {
	case OpCreate:
		return OpCreate, true
	case OpUpdate:
		return OpUpdate, true
	case OpDelete:
		return OpDelete, true
	default:
		return "", false
	}
}

type GeometryType string

const (
	GeometryPoint    GeometryType = "point"
	GeometryPolyline GeometryType = "polyline"
	GeometryPolygon  GeometryType = "polygon"
)

type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is the structural form of a spatial shape: a type tag plus the
// coordinate payload for that kind. Exactly one payload field is populated.
type Geometry struct {
	Type  GeometryType   `json:"type"`
	Point *Coordinate    `json:"point,omitempty"`
	Paths [][]Coordinate `json:"paths,omitempty"`
	Rings [][]Coordinate `json:"rings,omitempty"`
}

func (g Geometry) Valid() bool {
	switch g.Type {
	case GeometryPoint:
		return g.Point != nil && g.Paths == nil && g.Rings == nil
	case GeometryPolyline:
		return g.Point == nil && len(g.Paths) > 0 && g.Rings == nil
	case GeometryPolygon:
		return g.Point == nil && g.Paths == nil && len(g.Rings) > 0
	default:
		return false
	}
}

func PointGeometry(x, y float64) Geometry {
	return Geometry{Type: GeometryPoint, Point: &Coordinate{X: x, Y: y}}
}

func PolylineGeometry(paths [][]Coordinate) Geometry {
	return Geometry{Type: GeometryPolyline, Paths: paths}
}

func PolygonGeometry(rings [][]Coordinate) Geometry {
	return Geometry{Type: GeometryPolygon, Rings: rings}
}

// Mutation is one pending feature edit. Once queued it is never modified;
// identity for dedup purposes is the canonical encoded record, not object
// identity. RemoteID carries the backend-assigned feature id and is empty
// for creates.
type Mutation struct {
	Operation  Operation `json:"op"`
	LayerID    string    `json:"layerId"`
	RemoteID   string    `json:"remoteId,omitempty"`
	Geometry   Geometry  `json:"geometry"`
	Attributes *string   `json:"attributes,omitempty"`
}

// OutcomeRecord is the result of one replay (or direct) submission.
type OutcomeRecord struct {
	LayerID       string       `json:"layerId"`
	RemoteID      string       `json:"remoteId,omitempty"`
	Operation     Operation    `json:"op"`
	Succeeded     bool         `json:"succeeded"`
	GeometryType  GeometryType `json:"geometryType"`
	Timestamp     string       `json:"timestamp"`
	CorrelationID string       `json:"correlationId,omitempty"`
	Error         string       `json:"error,omitempty"`
}
