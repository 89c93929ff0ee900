package graphstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"stratum/pkg/apperror"
	"stratum/pkg/domain"
)

// Формат cold-start снапшота: JSON lines, сначала узлы, затем рёбра.
// Строки различаются по полю "record".
type snapshotLine struct {
	Record string       `json:"record"` // node | edge
	Node   *domain.Node `json:"node,omitempty"`
	Edge   *domain.Edge `json:"edge,omitempty"`
}

// SaveFile сохраняет текущий граф в файл JSON lines
func (s *Store) SaveFile(path string) error {
	snap := s.Snapshot()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "failed to create snapshot directory")
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to create snapshot file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	for _, id := range snap.SortedNodeIDs() {
		if err := enc.Encode(snapshotLine{Record: "node", Node: snap.Nodes[id]}); err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "failed to encode node")
		}
	}

	keys := make([]domain.EdgeKey, 0, len(snap.Edges))
	for key := range snap.Edges {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Src != keys[j].Src {
			return keys[i].Src < keys[j].Src
		}
		return keys[i].Dst < keys[j].Dst
	})
	for _, key := range keys {
		if err := enc.Encode(snapshotLine{Record: "edge", Edge: snap.Edges[key]}); err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "failed to encode edge")
		}
	}

	if err := w.Flush(); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to flush snapshot file")
	}

	s.log.Info("graph snapshot saved",
		"path", path, "nodes", len(snap.Nodes), "edges", len(snap.Edges))
	return nil
}

// LoadFile загружает граф из файла JSON lines в пустое хранилище
func (s *Store) LoadFile(path string) error {
	if nodes, edges := s.Counts(); nodes > 0 || edges > 0 {
		return apperror.New(apperror.CodeConflict, "store is not empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeNotFound, "failed to open snapshot file")
	}
	defer f.Close()

	var nodes, edges int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line snapshotLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return apperror.Wrap(err, apperror.CodeInvalidRequest,
				fmt.Sprintf("malformed snapshot line %d", lineNo))
		}

		switch line.Record {
		case "node":
			if line.Node == nil {
				return apperror.New(apperror.CodeInvalidRequest,
					fmt.Sprintf("snapshot line %d: node record without node", lineNo))
			}
			if err := s.AddNode(line.Node); err != nil {
				return err
			}
			nodes++
		case "edge":
			if line.Edge == nil {
				return apperror.New(apperror.CodeInvalidRequest,
					fmt.Sprintf("snapshot line %d: edge record without edge", lineNo))
			}
			if err := s.AddEdge(line.Edge); err != nil {
				return err
			}
			edges++
		default:
			return apperror.New(apperror.CodeInvalidRequest,
				fmt.Sprintf("snapshot line %d: unknown record type %q", lineNo, line.Record))
		}
	}
	if err := scanner.Err(); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to read snapshot file")
	}

	s.log.Info("graph snapshot loaded", "path", path, "nodes", nodes, "edges", edges)
	return nil
}
