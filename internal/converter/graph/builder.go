package graph

import (
	"fmt"
	"math"
	"sort"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Graph Builder
// ============================================================

// Options - допуски построения графа в единицах чертежа.
type Options struct {
	VertexTolerance   float64 // объединение близких концов в одну вершину
	ConnectTolerance  float64 // допуск поиска T-примыканий и снаппинга
	MergeTolerance    float64 // радиус склейки близких вершин после разрезания сегментов
	AxisSnapTolerance float64 // насколько отойти от оси, чтобы зафиксировать координату; 0 - не выравнивать
}

func DefaultOptions() Options {
	return Options{
		VertexTolerance:   2.0,
		ConnectTolerance:  15,
		MergeTolerance:    8.0,
		AxisSnapTolerance: 4.0,
	}
}

// axisEpsilon - участок считается горизонтальным/вертикальным.
const axisEpsilon = 1e-6

type GraphBuilder struct {
	opts     Options
	vertices map[string]models.Vertex
	edges    map[string]models.Edge
	grid     map[cell][]string
	pieces   []piece
	vertexID int
}

func NewGraphBuilder(opts Options) *GraphBuilder {
	def := DefaultOptions()
	if opts.VertexTolerance <= 0 {
		opts.VertexTolerance = def.VertexTolerance
	}
	if opts.ConnectTolerance < 0 {
		opts.ConnectTolerance = 0
	}
	if opts.MergeTolerance < opts.VertexTolerance {
		opts.MergeTolerance = opts.VertexTolerance
	}
	g := &GraphBuilder{opts: opts}
	g.reset()
	return g
}

// Build строит граф вершин и ребер из геометрии сегментов.
func (g *GraphBuilder) Build(segs []models.WallSegment) *models.Topology {
	g.reset()

	for _, s := range segs {
		g.addSegment(s)
	}

	g.buildConnectedGraph()
	return &models.Topology{Vertices: g.vertices, Edges: g.edges}
}

func (g *GraphBuilder) addSegment(s models.WallSegment) {
	n := len(s.Points)
	if n < 2 {
		return
	}
	count := n - 1
	if s.Closed {
		count = n
	}

	for i := range count {
		p1, p2 := s.Points[i], s.Points[(i+1)%n]
		if p1 == p2 {
			continue
		}
		id := s.ID
		if count > 1 {
			id = fmt.Sprintf("%s_%d", s.ID, i+1)
		}
		g.pieces = append(g.pieces, piece{id: id, segmentID: s.ID, p1: p1, p2: p2})
	}
}

func (g *GraphBuilder) findOrCreateVertex(p models.Point) string {
	// Ищем существующую близкую точку
	c := cellOf(p, g.opts.VertexTolerance)
	for _, n := range c.neighbours() {
		for _, id := range g.grid[n] {
			v := g.vertices[id]
			if distance(p, models.Point{X: v.X, Y: v.Y}) < g.opts.VertexTolerance {
				return id
			}
		}
	}

	// Создаем новую вершину
	g.vertexID++
	id := fmt.Sprintf("v%d", g.vertexID)
	g.vertices[id] = models.Vertex{ID: id, X: p.X, Y: p.Y, Edges: []string{}}
	g.grid[c] = append(g.grid[c], id)
	return id
}

func distance(p1, p2 models.Point) float64 {
	dx := p1.X - p2.X
	dy := p1.Y - p2.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// ============================================================
// Spatial grid
// ============================================================

type cell struct{ x, y int64 }

func cellOf(p models.Point, size float64) cell {
	return cell{int64(math.Floor(p.X / size)), int64(math.Floor(p.Y / size))}
}

func (c cell) neighbours() [9]cell {
	var out [9]cell
	i := 0
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			out[i] = cell{c.x + dx, c.y + dy}
			i++
		}
	}
	return out
}

// ============================================================
// Wall segments connection
// ============================================================

type piece struct {
	id        string
	segmentID string
	p1        models.Point
	p2        models.Point
}

type axis int

const (
	diagonal axis = iota
	horizontal
	vertical
)

type segmentInfo struct {
	piece       piece
	axis        axis
	start       float64
	end         float64
	constant    float64
	splitPoints []float64
}

func (g *GraphBuilder) reset() {
	g.vertices = make(map[string]models.Vertex)
	g.edges = make(map[string]models.Edge)
	g.grid = make(map[cell][]string)
	g.pieces = g.pieces[:0]
	g.vertexID = 0
}

func (g *GraphBuilder) buildConnectedGraph() {
	pieces := g.splitSegments(g.pieces)

	for _, p := range pieces {
		v1ID := g.findOrCreateVertex(p.p1)
		v2ID := g.findOrCreateVertex(p.p2)
		if v1ID == v2ID {
			continue
		}

		g.edges[p.id] = models.Edge{ID: p.id, SegmentID: p.segmentID, Vertices: [2]string{v1ID, v2ID}}
		g.attachEdgeToVertex(v1ID, p.id)
		g.attachEdgeToVertex(v2ID, p.id)
	}

	g.mergeCloseVertices()
	g.snapAxisAligned()
}

// splitSegments разрезает горизонтальные и вертикальные участки в точках
// T-примыканий, чтобы стены соединялись общими вершинами.
func (g *GraphBuilder) splitSegments(pieces []piece) []piece {
	if len(pieces) == 0 {
		return nil
	}

	infos := make([]*segmentInfo, 0, len(pieces))
	for _, p := range pieces {
		info := &segmentInfo{piece: p}
		switch {
		case math.Abs(p.p1.Y-p.p2.Y) <= axisEpsilon:
			info.axis = horizontal
			info.start, info.end, info.constant = p.p1.X, p.p2.X, p.p1.Y
		case math.Abs(p.p1.X-p.p2.X) <= axisEpsilon:
			info.axis = vertical
			info.start, info.end, info.constant = p.p1.Y, p.p2.Y, p.p1.X
		}
		if info.start > info.end {
			info.start, info.end = info.end, info.start
		}
		info.splitPoints = []float64{info.start, info.end}
		infos = append(infos, info)
	}

	if g.opts.ConnectTolerance > 0 {
		for i := 0; i < len(infos); i++ {
			for j := i + 1; j < len(infos); j++ {
				a, b := infos[i], infos[j]
				if a.axis == diagonal || b.axis == diagonal || a.axis == b.axis {
					continue
				}
				h, v := a, b
				if a.axis == vertical {
					h, v = b, a
				}
				g.tryAddIntersection(h, v)
			}
		}
	}

	var result []piece
	for _, info := range infos {
		if info.axis == diagonal {
			result = append(result, info.piece)
			continue
		}

		points := append([]float64{}, info.splitPoints...)
		sort.Float64s(points)
		points = uniquePoints(points)
		if len(points) < 2 {
			continue
		}

		parts := len(points) - 1
		counter := 0
		for idx := 0; idx < parts; idx++ {
			start, end := points[idx], points[idx+1]
			if almostEqual(start, end) {
				continue
			}

			var p1, p2 models.Point
			if info.axis == horizontal {
				p1 = models.Point{X: start, Y: info.constant}
				p2 = models.Point{X: end, Y: info.constant}
			} else {
				p1 = models.Point{X: info.constant, Y: start}
				p2 = models.Point{X: info.constant, Y: end}
			}

			counter++
			id := info.piece.id
			if parts > 1 {
				id = fmt.Sprintf("%s.%d", info.piece.id, counter)
			}
			result = append(result, piece{id: id, segmentID: info.piece.segmentID, p1: p1, p2: p2})
		}
	}

	return result
}

func (g *GraphBuilder) tryAddIntersection(h, v *segmentInfo) {
	vx := v.constant
	hy := h.constant
	tol := g.opts.ConnectTolerance

	if vx < h.start-tol || vx > h.end+tol {
		return
	}
	if hy < v.start-tol || hy > v.end+tol {
		return
	}

	h.splitPoints = append(h.splitPoints, clamp(vx, h.start, h.end))
	v.splitPoints = append(v.splitPoints, clamp(hy, v.start, v.end))
}

func uniquePoints(points []float64) []float64 {
	if len(points) == 0 {
		return points
	}
	out := points[:1]
	for i := 1; i < len(points); i++ {
		if !almostEqual(points[i], out[len(out)-1]) {
			out = append(out, points[i])
		}
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// mergeCloseVertices объединяет вершины, которые находятся совсем рядом после разрезания сегментов.
func (g *GraphBuilder) mergeCloseVertices() {
	if len(g.vertices) == 0 {
		return
	}

	ids := make([]string, 0, len(g.vertices))
	grid := make(map[cell][]string)
	for id, v := range g.vertices {
		ids = append(ids, id)
		c := cellOf(models.Point{X: v.X, Y: v.Y}, g.opts.MergeTolerance)
		grid[c] = append(grid[c], id)
	}
	sort.Strings(ids)

	rep := make(map[string]string, len(ids))
	for _, id := range ids {
		if _, ok := rep[id]; ok {
			continue
		}
		rep[id] = id
		base := g.vertices[id]
		bp := models.Point{X: base.X, Y: base.Y}

		for _, n := range cellOf(bp, g.opts.MergeTolerance).neighbours() {
			for _, otherID := range grid[n] {
				if _, ok := rep[otherID]; ok {
					continue
				}
				other := g.vertices[otherID]
				if distance(bp, models.Point{X: other.X, Y: other.Y}) <= g.opts.MergeTolerance {
					rep[otherID] = id
				}
			}
		}
	}

	newEdges := make(map[string]models.Edge, len(g.edges))
	for id, e := range g.edges {
		v1, v2 := rep[e.Vertices[0]], rep[e.Vertices[1]]
		if v1 == v2 {
			continue
		}
		e.Vertices = [2]string{v1, v2}
		newEdges[id] = e
	}

	newVertices := make(map[string]models.Vertex)
	for id, v := range g.vertices {
		if rep[id] != id {
			continue
		}
		v.Edges = []string{}
		newVertices[id] = v
	}

	// Пересобираем ссылки на ребра
	edgeIDs := make([]string, 0, len(newEdges))
	for id := range newEdges {
		edgeIDs = append(edgeIDs, id)
	}
	sort.Strings(edgeIDs)
	for _, edgeID := range edgeIDs {
		for _, vid := range newEdges[edgeID].Vertices {
			v := newVertices[vid]
			v.Edges = appendUnique(v.Edges, edgeID)
			newVertices[vid] = v
		}
	}

	g.vertices = newVertices
	g.edges = newEdges
}

// snapAxisAligned фиксирует координаты вершин по осям для почти горизонтальных/вертикальных ребер.
func (g *GraphBuilder) snapAxisAligned() {
	if len(g.edges) == 0 || g.opts.AxisSnapTolerance <= 0 {
		return
	}

	type agg struct {
		sumX float64
		cntX int
		sumY float64
		cntY int
	}

	aggMap := make(map[string]*agg)
	get := func(vid string) *agg {
		a := aggMap[vid]
		if a == nil {
			a = &agg{}
			aggMap[vid] = a
		}
		return a
	}

	for _, e := range g.edges {
		v1 := g.vertices[e.Vertices[0]]
		v2 := g.vertices[e.Vertices[1]]

		dx := v1.X - v2.X
		dy := v1.Y - v2.Y

		if math.Abs(dy) <= g.opts.AxisSnapTolerance && math.Abs(dx) > math.Abs(dy) {
			targetY := (v1.Y + v2.Y) / 2
			for _, vid := range e.Vertices {
				a := get(vid)
				a.sumY += targetY
				a.cntY++
			}
		} else if math.Abs(dx) <= g.opts.AxisSnapTolerance && math.Abs(dy) > math.Abs(dx) {
			targetX := (v1.X + v2.X) / 2
			for _, vid := range e.Vertices {
				a := get(vid)
				a.sumX += targetX
				a.cntX++
			}
		}
	}

	for vid, a := range aggMap {
		v := g.vertices[vid]
		if a.cntX > 0 {
			v.X = a.sumX / float64(a.cntX)
		}
		if a.cntY > 0 {
			v.Y = a.sumY / float64(a.cntY)
		}
		g.vertices[vid] = v
	}
}

// ============================================================
// Helpers
// ============================================================

func (g *GraphBuilder) attachEdgeToVertex(vertexID, edgeID string) {
	vertex := g.vertices[vertexID]
	vertex.Edges = appendUnique(vertex.Edges, edgeID)
	g.vertices[vertexID] = vertex
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, src ...string) []string {
	for _, s := range src {
		if !contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
