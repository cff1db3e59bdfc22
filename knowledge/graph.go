// Package knowledge mirrors hearing documents into Neo4j as a graph of
// proceedings, documents, parties and regulatory citations.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/logger"
)

const defaultRelatedLimit = 10

// Related is a document that cites at least one regulation in common with
// another document.
type Related struct {
	DocumentID      string   `json:"document_id"`
	Title           string   `json:"title"`
	ProceedingID    string   `json:"proceeding_id"`
	SharedCitations []string `json:"shared_citations"`
}

type Graph struct {
	driver neo4j.DriverWithContext
	logger *logger.Logger
}

func NewGraph(driver neo4j.DriverWithContext, log *logger.Logger) *Graph {
	if log == nil {
		log = logger.NewNop()
	}
	return &Graph{driver: driver, logger: log.With("component", "knowledge_graph")}
}

// SyncDocument upserts the document node and replaces its proceeding, party
// and citation relationships.
func (g *Graph) SyncDocument(ctx context.Context, meta document.Metadata) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":         meta.ID,
		"proceeding": meta.ProceedingID,
		"title":      meta.Title,
		"type":       string(meta.DocumentType),
		"level":      string(document.StoredLevel(string(meta.ConfidentialityLevel))),
		"citation":   meta.CanonicalCitation,
		"parties":    partyRows(meta.Parties),
		"citations":  nonEmpty(meta.RegulatoryCitations),
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.title = $title,
			    d.document_type = $type,
			    d.confidentiality_level = $level,
			    d.abaer_citation = $citation,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:IN_PROCEEDING|NAMES|CITES]->()
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("clear document relations: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			MERGE (p:Proceeding {id: $proceeding})
			MERGE (d)-[:IN_PROCEEDING]->(p)
		`, params); err != nil {
			return nil, fmt.Errorf("link proceeding: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			UNWIND $parties AS party
			MERGE (p:Party {name: party.name})
			MERGE (d)-[r:NAMES]->(p)
			SET r.role = party.role
		`, params); err != nil {
			return nil, fmt.Errorf("link parties: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			UNWIND $citations AS text
			MERGE (c:Citation {text: text})
			MERGE (d)-[:CITES]->(c)
		`, params); err != nil {
			return nil, fmt.Errorf("link citations: %w", err)
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	if _, cleanupErr := session.Run(ctx, `
		MATCH (n)
		WHERE (n:Citation OR n:Party) AND NOT (n)<--(:Document)
		DELETE n
	`, nil); cleanupErr != nil {
		g.logger.Warn("graph orphan cleanup failed", "document_id", meta.ID, "error", cleanupErr)
	}
	return nil
}

// RelatedByCitation lists documents sharing citations with documentID, most
// shared citations first. Callers filter the result for access.
func (g *Graph) RelatedByCitation(ctx context.Context, documentID string, limit int) ([]Related, error) {
	if g.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if limit <= 0 {
		limit = defaultRelatedLimit
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document {id: $id})-[:CITES]->(c:Citation)<-[:CITES]-(other:Document)
		WHERE other.id <> d.id
		OPTIONAL MATCH (other)-[:IN_PROCEEDING]->(p:Proceeding)
		WITH other, p, collect(DISTINCT c.text) AS shared
		RETURN other.id AS id,
		       coalesce(other.title, '') AS title,
		       coalesce(p.id, '') AS proceeding,
		       shared
		ORDER BY size(shared) DESC, id
		LIMIT $limit
	`, map[string]any{"id": documentID, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("run related documents query: %w", err)
	}

	var related []Related
	for result.Next(ctx) {
		record := result.Record()
		idVal, _ := record.Get("id")
		titleVal, _ := record.Get("title")
		proceedingVal, _ := record.Get("proceeding")
		sharedVal, _ := record.Get("shared")
		id, ok := idVal.(string)
		if !ok || id == "" {
			continue
		}
		title, _ := titleVal.(string)
		proceeding, _ := proceedingVal.(string)
		related = append(related, Related{
			DocumentID:      id,
			Title:           title,
			ProceedingID:    proceeding,
			SharedCitations: convertStringSlice(sharedVal),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("related documents result error: %w", err)
	}
	return related, nil
}

// Purge deletes every node the graph sync created.
func (g *Graph) Purge(ctx context.Context) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, `
		MATCH (n)
		WHERE n:Document OR n:Proceeding OR n:Party OR n:Citation
		DETACH DELETE n
	`, nil); err != nil {
		return fmt.Errorf("purge graph: %w", err)
	}
	return nil
}

func partyRows(parties []document.Party) []any {
	rows := make([]any, 0, len(parties))
	for _, p := range parties {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		rows = append(rows, map[string]any{"name": name, "role": string(p.Role)})
	}
	return rows
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}
