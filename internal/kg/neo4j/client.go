package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/circuitbreaker"
	"github.com/support-rag/backend/pkg/logger"
	"github.com/support-rag/backend/pkg/retry"
)

// Client performs read-only entity-relationship lookups.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeRead,
			})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// EdgesForEntity returns edges touching the entity, matched case-insensitively on name.
func (c *Client) EdgesForEntity(ctx context.Context, name string, limit int) ([]models.GraphEdge, error) {
	var edges []models.GraphEdge

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		edges = edges[:0]

		query := `
			MATCH (s:Entity)-[r]->(o:Entity)
			WHERE toLower(s.name) = toLower($name) OR toLower(o.name) = toLower($name)
			RETURN s.name AS source_name, coalesce(s.type, '') AS source_type,
			       coalesce(r.type, type(r)) AS relation,
			       o.name AS target_name, coalesce(o.type, '') AS target_type
			LIMIT $limit
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"name":  name,
			"limit": limit,
		})
		if err != nil {
			return fmt.Errorf("failed to query edges: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			edges = append(edges, models.GraphEdge{
				SourceName: recordString(record, "source_name"),
				SourceType: recordString(record, "source_type"),
				Relation:   recordString(record, "relation"),
				TargetName: recordString(record, "target_name"),
				TargetType: recordString(record, "target_type"),
			})
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("KG edge lookup completed",
		zap.String("entity", name),
		zap.Int("edges", len(edges)),
	)

	return edges, nil
}

func recordString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
