package resolver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jRunner adapts a neo4j.DriverWithContext to the Runner interface via
// neo4j.ExecuteQuery, the driver's recommended entry point since v5 — no
// manual session lifecycle management, automatic retries on transient
// errors.
type Neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jRunner returns a Runner backed by driver, targeting database
// (empty string uses the server's configured default database).
func NewNeo4jRunner(driver neo4j.DriverWithContext, database string) *Neo4jRunner {
	return &Neo4jRunner{driver: driver, database: database}
}

func (n *Neo4jRunner) Run(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if n.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(n.database))
	}
	result, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("resolver: cypher query: %w", err)
	}

	rows := make([]Row, 0, len(result.Records))
	for _, record := range result.Records {
		rows = append(rows, Row(record.AsMap()))
	}
	return rows, nil
}
