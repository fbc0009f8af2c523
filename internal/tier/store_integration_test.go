//go:build ignore

// This file requires a running DynamoDB and S3 endpoint (e.g. localstack)
// and is excluded from the default build, mirroring the teacher's
// infrastructure/dynamodb/tests/integration_test.go convention for tests
// that need a real backend rather than a fake.
package tier

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain/memory"
	"memcore/internal/tier/cold"
	"memcore/internal/tier/hot"
	"memcore/internal/tier/warm"
)

func TestStorePutGetArchiveRoundtrip(t *testing.T) {
	endpoint := os.Getenv("MEMCORE_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("MEMCORE_TEST_DYNAMODB_ENDPOINT not set")
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	require.NoError(t, err)

	ddb := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) { o.BaseEndpoint = aws.String(endpoint) })
	s3c := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true })
	logger := zap.NewNop()

	store := New(Config{
		Hot:           hot.NewLocal(1000, 1<<20, logger),
		Warm:          warm.NewMemoryStore(ddb, "memcore_test", "GSI1", "GSI2", logger),
		Relationships: warm.NewRelationshipStore(ddb, "memcore_test"),
		Cold:          cold.NewArchive(s3c, "memcore-test-bucket"),
		DefaultHotTTL: time.Minute,
		Logger:        logger,
	})

	e, err := memory.New(memory.Draft{
		ServiceID: "svc", AgentID: "agent", Domain: "dom",
		Kind: memory.KindWorking, Payload: memory.Value{"k": "v"},
	})
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), e, true))

	got, err := store.Get(context.Background(), "svc", "agent", "dom", e.ID)
	require.NoError(t, err)
	require.Equal(t, e.ID, got.ID)

	require.NoError(t, store.Archive(context.Background(), e))
	archived, err := store.GetArchived(context.Background(), "svc", "dom", e.ID)
	require.NoError(t, err)
	require.Equal(t, e.ID, archived.ID)
}
