//go:build container

package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"crmsync/internal/config"
	"crmsync/internal/db"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) (string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("terminate %s: %v", req.Image, err)
		}
	})
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, req.ExposedPorts[0])
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, port.Port()
}

// OpenPostgres starts a throwaway Postgres and returns a migrated handle.
func OpenPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "crmsync",
			"POSTGRES_PASSWORD": "crmsync",
			"POSTGRES_DB":       "crmsync",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	})
	conn, err := db.Open(config.DBConfig{
		DSN:          fmt.Sprintf("host=%s port=%s user=crmsync password=crmsync dbname=crmsync sslmode=disable", host, port),
		MaxOpenConns: 8,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if err := db.SetTimezone(conn, "UTC"); err != nil {
		t.Fatalf("set timezone: %v", err)
	}
	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn.Gorm
}

// StartRedis starts a throwaway Redis and returns its address.
func StartRedis(t *testing.T) string {
	t.Helper()
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})
	return host + ":" + port
}
