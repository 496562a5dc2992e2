package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"marketplace-elt/models"
)

func TestPostgresRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "scraper",
				"POSTGRES_PASSWORD": "scraper123",
				"POSTGRES_DB":       "marketplace",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(context.Background()) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("host=%s port=%s user=scraper password=scraper123 dbname=marketplace sslmode=disable", host, port.Port())

	s, err := Open(ctx, "postgres", dsn, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer s.Close()

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertRaw(ctx, &models.RawListing{RunID: "r", Title: "A", RawPrice: "R$ 10,00", URL: "a", ScrapedAt: at}))

	raw, err := s.FetchRaw(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	require.Equal(t, "R$ 10,00", raw[0].RawPrice)

	require.NoError(t, s.ReplaceListings(ctx, []*models.Listing{{RawID: raw[0].ID, URL: "a", Title: "A", Price: 10, ScrapedAt: at}}))
	got, err := s.FetchListings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Nil(t, got[0].Rating)

	ready, err := s.ProcessedReady(ctx)
	require.NoError(t, err)
	require.True(t, ready)
}
