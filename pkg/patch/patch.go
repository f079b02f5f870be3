// Package patch implements the ordered state patch operations applied to an
// intent's free-form JSON state tree.
package patch

import (
	"fmt"
	"strings"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// Operation names.
const (
	OpSet    = "set"
	OpAppend = "append"
	OpRemove = "remove"
)

// Op is a single patch operation. Path is a /-separated key sequence into
// the state tree.
type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Apply runs the patch list left-to-right against state and returns the new
// tree. The input is never mutated: any error rejects the whole list and the
// caller keeps its original state. set creates intermediate maps as needed
// and overwrites the leaf. append requires (or creates) a sequence at the
// leaf. remove deletes the leaf and is a no-op when the path is absent.
func Apply(state models.JSONMap, ops []Op) (models.JSONMap, error) {
	next := state.Clone()
	for i, op := range ops {
		if err := applyOne(next, op); err != nil {
			return nil, fmt.Errorf("patch %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return next, nil
}

// Validate checks the structural shape of a patch list without applying it.
func Validate(ops []Op) error {
	if len(ops) == 0 {
		return fmt.Errorf("patch list is empty")
	}
	for i, op := range ops {
		switch op.Op {
		case OpSet, OpAppend, OpRemove:
		default:
			return fmt.Errorf("patch %d: unknown op %q", i, op.Op)
		}
		if _, err := splitPath(op.Path); err != nil {
			return fmt.Errorf("patch %d: %w", i, err)
		}
	}
	return nil
}

func applyOne(root map[string]any, op Op) error {
	segs, err := splitPath(op.Path)
	if err != nil {
		return err
	}
	parents, leaf := segs[:len(segs)-1], segs[len(segs)-1]

	switch op.Op {
	case OpSet:
		parent, err := descendCreate(root, parents)
		if err != nil {
			return err
		}
		parent[leaf] = op.Value
		return nil

	case OpAppend:
		parent, err := descendCreate(root, parents)
		if err != nil {
			return err
		}
		switch cur := parent[leaf].(type) {
		case nil:
			parent[leaf] = []any{op.Value}
		case []any:
			parent[leaf] = append(cur, op.Value)
		default:
			return fmt.Errorf("cannot append to %T", cur)
		}
		return nil

	case OpRemove:
		parent, ok := descend(root, parents)
		if !ok {
			return nil
		}
		delete(parent, leaf)
		return nil

	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

// descendCreate walks the parent segments, creating intermediate maps where
// keys are absent. A present non-map intermediate is an error.
func descendCreate(root map[string]any, segs []string) (map[string]any, error) {
	cur := root
	for _, s := range segs {
		switch v := cur[s].(type) {
		case nil:
			m := map[string]any{}
			cur[s] = m
			cur = m
		case map[string]any:
			cur = v
		case models.JSONMap:
			cur = v
		default:
			return nil, fmt.Errorf("segment %q is not an object", s)
		}
	}
	return cur, nil
}

// descend walks the parent segments without creating anything; the second
// return is false when the path does not lead to an object.
func descend(root map[string]any, segs []string) (map[string]any, bool) {
	cur := root
	for _, s := range segs {
		switch v := cur[s].(type) {
		case map[string]any:
			cur = v
		case models.JSONMap:
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("path is empty")
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return segs, nil
}
