// Package inputformat loads a vertex input split from a dataset, grounded
// on the teacher's updateVertex line-scanning loop: whitespace-separated
// "from to" edge records, one per line, with "#"-prefixed lines ignored.
package inputformat

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/szhu33/bspgraph/internal/graph"
)

// ReadEdgeList parses path into a slice of vertices, one per distinct
// endpoint id seen, with graph.Edge.Value left nil. Nothing fills in edge
// values later: loading the vertices into partitions keeps them nil.
func ReadEdgeList(path string) ([]*graph.Vertex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inputformat: open %s: %w", path, err)
	}
	defer f.Close()
	return readEdgeList(f)
}

func readEdgeList(r io.Reader) ([]*graph.Vertex, error) {
	byID := make(map[graph.VertexID]*graph.Vertex)
	order := make([]graph.VertexID, 0)

	get := func(id graph.VertexID) *graph.Vertex {
		v, ok := byID[id]
		if !ok {
			v = &graph.Vertex{ID: id}
			byID[id] = v
			order = append(order, id)
		}
		return v
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("inputformat: line %d: expected \"from to\", got %q", lineNo, line)
		}
		from, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inputformat: line %d: parse source id: %w", lineNo, err)
		}
		to, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inputformat: line %d: parse target id: %w", lineNo, err)
		}

		fromV := get(graph.VertexID(from))
		fromV.Edges = append(fromV.Edges, graph.Edge{Target: graph.VertexID(to)})
		get(graph.VertexID(to))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("inputformat: scan: %w", err)
	}

	vertices := make([]*graph.Vertex, len(order))
	for i, id := range order {
		vertices[i] = byID[id]
	}
	return vertices, nil
}
