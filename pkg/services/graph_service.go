package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// maxGraphNodes bounds every traversal so a pathological graph cannot pin
// a request.
const maxGraphNodes = 10000

// GraphService answers read-only questions about the parent/child tree and
// the depends_on DAG.
type GraphService struct {
	db  *database.Client
	acl *ACLService
}

// NewGraphService creates a GraphService.
func NewGraphService(db *database.Client, aclSvc *ACLService) *GraphService {
	return &GraphService{db: db, acl: aclSvc}
}

func (s *GraphService) root(ctx context.Context, id, principal string) (*models.Intent, error) {
	intent, err := getIntentDB(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Require(ctx, intent, principal, models.PermissionRead); err != nil {
		return nil, err
	}
	return intent, nil
}

// Children returns the intents whose parent is id.
func (s *GraphService) Children(ctx context.Context, id, principal string) ([]*models.Intent, error) {
	if _, err := s.root(ctx, id, principal); err != nil {
		return nil, err
	}
	return s.childrenOf(ctx, []string{id})
}

// Descendants returns the transitive children of id, breadth first.
func (s *GraphService) Descendants(ctx context.Context, id, principal string) ([]*models.Intent, error) {
	if _, err := s.root(ctx, id, principal); err != nil {
		return nil, err
	}

	out := []*models.Intent{}
	seen := map[string]bool{id: true}
	frontier := []string{id}
	for len(frontier) > 0 {
		batch, err := s.childrenOf(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range batch {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			if len(seen) > maxGraphNodes {
				return nil, NewValidationError("id", "descendant graph too large")
			}
			out = append(out, child)
			frontier = append(frontier, child.ID)
		}
	}
	return out, nil
}

// Ancestors walks the parent chain from id upward, nearest first.
func (s *GraphService) Ancestors(ctx context.Context, id, principal string) ([]*models.Intent, error) {
	intent, err := s.root(ctx, id, principal)
	if err != nil {
		return nil, err
	}

	out := []*models.Intent{}
	seen := map[string]bool{id: true}
	for intent.ParentIntentID != nil {
		parentID := *intent.ParentIntentID
		if seen[parentID] {
			break
		}
		seen[parentID] = true

		parent, err := getIntentDB(ctx, s.db, parentID)
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		intent = parent
	}
	return out, nil
}

// Dependencies resolves the intent's depends_on ids to rows, in list order.
func (s *GraphService) Dependencies(ctx context.Context, id, principal string) ([]*models.Intent, error) {
	intent, err := s.root(ctx, id, principal)
	if err != nil {
		return nil, err
	}
	if len(intent.DependsOn) == 0 {
		return []*models.Intent{}, nil
	}

	rows, err := s.intentsByID(ctx, intent.DependsOn)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Intent, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	out := make([]*models.Intent, 0, len(intent.DependsOn))
	for _, depID := range intent.DependsOn {
		if dep, ok := byID[depID]; ok {
			out = append(out, dep)
		}
	}
	return out, nil
}

// Dependents returns the intents whose depends_on contains id.
func (s *GraphService) Dependents(ctx context.Context, id, principal string) ([]*models.Intent, error) {
	if _, err := s.root(ctx, id, principal); err != nil {
		return nil, err
	}

	var query string
	var arg any
	switch s.db.Dialect() {
	case database.DialectPostgres:
		query = `SELECT * FROM intents WHERE depends_on @> ?::jsonb ORDER BY created_at, id`
		arg = fmt.Sprintf(`[%q]`, id)
	default:
		query = `SELECT * FROM intents WHERE depends_on LIKE ? ORDER BY created_at, id`
		arg = fmt.Sprintf(`%%%q%%`, id)
	}

	out := []*models.Intent{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), arg); err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	return out, nil
}

// Ready returns the children of id whose every dependency is completed.
func (s *GraphService) Ready(ctx context.Context, id, principal string) ([]*models.Intent, error) {
	ready, _, err := s.partitionChildren(ctx, id, principal)
	return ready, err
}

// Blocked returns the children of id with at least one unmet dependency.
func (s *GraphService) Blocked(ctx context.Context, id, principal string) ([]*models.Intent, error) {
	_, blocked, err := s.partitionChildren(ctx, id, principal)
	return blocked, err
}

func (s *GraphService) partitionChildren(ctx context.Context, id, principal string) (ready, blocked []*models.Intent, err error) {
	if _, err := s.root(ctx, id, principal); err != nil {
		return nil, nil, err
	}
	children, err := s.childrenOf(ctx, []string{id})
	if err != nil {
		return nil, nil, err
	}

	depIDs := []string{}
	seen := map[string]bool{}
	for _, child := range children {
		for _, depID := range child.DependsOn {
			if !seen[depID] {
				seen[depID] = true
				depIDs = append(depIDs, depID)
			}
		}
	}

	statusByID := map[string]models.IntentStatus{}
	if len(depIDs) > 0 {
		deps, err := s.intentsByID(ctx, depIDs)
		if err != nil {
			return nil, nil, err
		}
		for _, dep := range deps {
			statusByID[dep.ID] = dep.Status
		}
	}

	ready, blocked = []*models.Intent{}, []*models.Intent{}
	for _, child := range children {
		met := true
		for _, depID := range child.DependsOn {
			if statusByID[depID] != models.StatusCompleted {
				met = false
				break
			}
		}
		if met {
			ready = append(ready, child)
		} else {
			blocked = append(blocked, child)
		}
	}
	return ready, blocked, nil
}

// Graph returns the nodes and edges reachable from id over parent->child
// and depends_on edges, with the aggregate status of the spanned nodes.
func (s *GraphService) Graph(ctx context.Context, id, principal string) (*models.IntentGraph, error) {
	rootIntent, err := s.root(ctx, id, principal)
	if err != nil {
		return nil, err
	}

	nodes := []*models.Intent{}
	edges := []models.GraphEdge{}
	seen := map[string]bool{}

	frontier := []*models.Intent{rootIntent}
	for len(frontier) > 0 {
		current := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if seen[current.ID] {
			continue
		}
		seen[current.ID] = true
		if len(seen) > maxGraphNodes {
			return nil, NewValidationError("id", "graph too large")
		}
		nodes = append(nodes, current)

		children, err := s.childrenOf(ctx, []string{current.ID})
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			edges = append(edges, models.GraphEdge{From: current.ID, To: child.ID, Kind: "child"})
			if !seen[child.ID] {
				frontier = append(frontier, child)
			}
		}

		if len(current.DependsOn) > 0 {
			deps, err := s.intentsByID(ctx, current.DependsOn)
			if err != nil {
				return nil, err
			}
			for _, dep := range deps {
				edges = append(edges, models.GraphEdge{From: current.ID, To: dep.ID, Kind: "depends_on"})
				if !seen[dep.ID] {
					frontier = append(frontier, dep)
				}
			}
		}
	}

	graph := &models.IntentGraph{
		Nodes:           make([]models.GraphNode, len(nodes)),
		Edges:           edges,
		AggregateStatus: models.Aggregate(nodes),
	}
	for i, n := range nodes {
		graph.Nodes[i] = models.GraphNode{ID: n.ID, Title: n.Title, Status: n.Status}
	}
	return graph, nil
}

func (s *GraphService) childrenOf(ctx context.Context, parentIDs []string) ([]*models.Intent, error) {
	query, args, err := sqlx.In(
		`SELECT * FROM intents WHERE parent_intent_id IN (?) ORDER BY created_at, id`, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build children query: %w", err)
	}

	out := []*models.Intent{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	return out, nil
}

func (s *GraphService) intentsByID(ctx context.Context, ids []string) ([]*models.Intent, error) {
	query, args, err := sqlx.In(`SELECT * FROM intents WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build intent query: %w", err)
	}

	out := []*models.Intent{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	return out, nil
}
