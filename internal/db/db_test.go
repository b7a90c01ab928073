//go:build integration

// Package db provides integration tests for the SurrealDB blob store.
package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/brieflow/internal/checkpoint"
	"github.com/raphaelgruber/brieflow/internal/models"
	"github.com/raphaelgruber/brieflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)
	os.Exit(code)
}

func resetBlobs(t *testing.T) *BlobStore {
	t.Helper()
	ctx := context.Background()
	b := NewBlobStore(testDB)
	infos, err := b.List(ctx, "")
	require.NoError(t, err)
	for _, info := range infos {
		require.NoError(t, b.Delete(ctx, info.Key))
	}
	return b
}

func TestBlobStoreMissingKeys(t *testing.T) {
	ctx := context.Background()
	b := resetBlobs(t)

	_, err := b.Get(ctx, "missing/key.json")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, b.Delete(ctx, "missing/key.json"), store.ErrNotFound)
}

func TestBlobStorePutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	b := resetBlobs(t)

	require.NoError(t, b.Put(ctx, "a/one.json", []byte(`{"n":1}`)))
	got, err := b.Get(ctx, "a/one.json")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(got))

	infos, err := b.List(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	created := infos[0].CreatedAt

	require.NoError(t, b.Put(ctx, "a/one.json", []byte(`{"n":22}`)))
	got, err = b.Get(ctx, "a/one.json")
	require.NoError(t, err)
	assert.Equal(t, `{"n":22}`, string(got))

	infos, err = b.List(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int64(8), infos[0].Size)
	assert.True(t, infos[0].CreatedAt.Equal(created), "creation time survives overwrite")
}

func TestBlobStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	b := resetBlobs(t)

	for _, key := range []string{"checkpoints/s1/b.json", "checkpoints/s1/a.json", "checkpoints/s10/a.json", "evidence/c1/queue.json"} {
		require.NoError(t, b.Put(ctx, key, []byte("x")))
	}

	infos, err := b.List(ctx, "checkpoints/s1/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "checkpoints/s1/a.json", infos[0].Key)
	assert.Equal(t, "checkpoints/s1/b.json", infos[1].Key)

	all, err := b.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, b.Delete(ctx, "checkpoints/s1/a.json"))
	infos, err = b.List(ctx, "checkpoints/s1/")
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestBlobStoreBacksCheckpoints(t *testing.T) {
	ctx := context.Background()
	b := resetBlobs(t)

	mgr, err := checkpoint.New(b, checkpoint.WithKeepCount(2))
	require.NoError(t, err)

	session := &models.WorkflowSession{
		SessionID:     "s-db",
		CaseID:        "c-db",
		CaseName:      "Doe v. Acme",
		CurrentPhase:  models.PhaseIntake,
		OverallStatus: models.SessionActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	for range 3 {
		_, err := mgr.Create(ctx, session)
		require.NoError(t, err)
	}
	mgr.Wait()

	infos, err := mgr.List(ctx, "s-db")
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	restored, err := mgr.Restore(ctx, "s-db", nil)
	require.NoError(t, err)
	assert.Equal(t, "Doe v. Acme", restored.CaseName)
}

func TestSchemaIsIdempotent(t *testing.T) {
	require.NoError(t, testDB.InitSchema(context.Background()))
}

func TestConnectionStaysUsable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b := resetBlobs(t)

	require.NoError(t, b.Put(ctx, "idle/before.json", []byte("1")))
	time.Sleep(2 * time.Second)
	require.NoError(t, b.Put(ctx, "idle/after.json", []byte("2")))

	infos, err := b.List(ctx, "idle/")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}
