package neo4j

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/require"

	"github.com/zettel-agent/backend/internal/storage"
	"github.com/zettel-agent/backend/internal/storage/storagetest"
	"github.com/zettel-agent/backend/pkg/config"
)

// These tests need a disposable database; every note in it is deleted.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	uri := os.Getenv("ZETTEL_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("ZETTEL_TEST_NEO4J_URI not set")
	}

	client, err := NewClient(config.Neo4jConfig{
		URI:      uri,
		Username: os.Getenv("ZETTEL_TEST_NEO4J_USERNAME"),
		Password: os.Getenv("ZETTEL_TEST_NEO4J_PASSWORD"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	t.Cleanup(func() { _ = client.Close(ctx) })

	require.NoError(t, client.Setup(ctx))
	require.NoError(t, client.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, `MATCH (n:Note) DETACH DELETE n`, nil)
		if err != nil {
			return err
		}
		_, err = result.Consume(ctx)
		return err
	}))
	return client
}

func TestClientContract(t *testing.T) {
	storagetest.RunContractTests(t, func(t *testing.T) storage.NoteStore {
		return newTestClient(t)
	})
}
