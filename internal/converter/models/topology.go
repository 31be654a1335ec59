package models

// ============================================================
// Visualization topology
// ============================================================

type Vertex struct {
	ID    string   `json:"id"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Edges []string `json:"edges"`
}

// Edge - прямой участок сегмента между двумя вершинами.
type Edge struct {
	ID        string    `json:"id"`
	SegmentID string    `json:"segmentId"`
	Vertices  [2]string `json:"vertices"`
}

type Topology struct {
	Vertices map[string]Vertex `json:"vertices"`
	Edges    map[string]Edge   `json:"edges"`
}

// Hit - ближайший к точке сегмент.
type Hit struct {
	SegmentID string  `json:"segmentId"`
	Distance  float64 `json:"distance"`
	Offset    float64 `json:"offset"` // расстояние вдоль сегмента от первой точки
	Point     Point   `json:"point"`
}

// WallPair - две параллельные грани одной стены.
type WallPair struct {
	PrimaryID     string  `json:"primaryId"`
	SecondaryID   string  `json:"secondaryId"`
	Distance      float64 `json:"distance"`
	OverlapLength float64 `json:"overlapLength"`
	OverlapStart  Point   `json:"overlapStart"`
	OverlapEnd    Point   `json:"overlapEnd"`
}
