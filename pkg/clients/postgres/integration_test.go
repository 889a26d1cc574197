//go:build integration

// Package postgres_test exercises the PostgreSQL state store against a
// real database. Run locally with:
//
//	go test -v -race -tags=integration ./pkg/clients/postgres/...
package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/StricklySoft/agent-lifecycle/internal/testutil/containers"
	"github.com/StricklySoft/agent-lifecycle/internal/testutil/fixtures"
	"github.com/StricklySoft/agent-lifecycle/pkg/clients/postgres"
	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
	"github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"
	"github.com/StricklySoft/agent-lifecycle/pkg/store/memory"
)

// setupContainer starts PostgreSQL, connects a client, and creates the
// state table. Everything is cleaned up when the test completes.
func setupContainer(t *testing.T, table string) *postgres.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	result, err := containers.StartPostgres(ctx)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := result.Terminate(ctx); termErr != nil {
			t.Logf("failed to terminate postgres container: %v", termErr)
		}
	})

	client, err := postgres.NewClient(ctx, postgres.Config{URI: result.ConnString, Table: table})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	t.Cleanup(client.Close)

	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}
	return client
}

// TestIntegration_FileStoreContract verifies the round trip, listing, and
// missing-row semantics against a live table.
func TestIntegration_FileStoreContract(t *testing.T) {
	client := setupContainer(t, "")
	ctx := context.Background()

	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema() error: %v", err)
	}

	path := "agent_states/scraper-1.json"
	if err := client.Put(ctx, path, []byte(fixtures.ValidStateJSON)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := client.Put(ctx, "agent_states/archive/old.json", []byte("{}")); err != nil {
		t.Fatalf("Put(nested) error: %v", err)
	}
	if err := client.Put(ctx, "agent_statesX/other.json", []byte("{}")); err != nil {
		t.Fatalf("Put(sibling) error: %v", err)
	}

	got, err := client.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got) != fixtures.ValidStateJSON {
		t.Errorf("Get() body changed in storage:\n%s", got)
	}

	paths, err := client.List(ctx, "agent_states")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(paths) != 1 || paths[0] != path {
		t.Errorf("List() = %v, want [%s]", paths, path)
	}

	if err := client.Delete(ctx, path); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := client.Delete(ctx, path); err != nil {
		t.Fatalf("second Delete() error: %v", err)
	}
	ok, err := client.Exists(ctx, path)
	if err != nil || ok {
		t.Errorf("Exists() after delete = %v, %v; want false, nil", ok, err)
	}
	_, err = client.Get(ctx, path)
	if !sserr.HasCode(err, sserr.CodeNotFoundKey) {
		t.Errorf("Get() after delete error = %v, want %s", err, sserr.CodeNotFoundKey)
	}
}

// TestIntegration_ConcurrentUpserts verifies the last writer wins without
// unique violations.
func TestIntegration_ConcurrentUpserts(t *testing.T) {
	client := setupContainer(t, "fleet_states")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]int{"n": n})
			errs <- client.Put(ctx, "fleet/shared.json", body)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Put() error: %v", err)
		}
	}

	got, err := client.Get(ctx, "fleet/shared.json")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	var doc map[string]int
	if err := json.Unmarshal(got, &doc); err != nil {
		t.Fatalf("stored body is not JSON: %v", err)
	}
}

// TestIntegration_HealthDeadline verifies an expired context is reported
// as unavailable.
func TestIntegration_HealthDeadline(t *testing.T) {
	client := setupContainer(t, "")

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	err := client.Health(ctx)
	if err == nil {
		t.Fatal("Health() with expired context returned nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Logf("Health() error does not wrap DeadlineExceeded: %v", err)
	}
	if !sserr.IsUnavailable(err) {
		t.Errorf("Health() error = %v, want UNAVAIL category", err)
	}
}

// TestIntegration_RegistryRestore verifies that state persisted by one
// registry is restored by another with a cold cache.
func TestIntegration_RegistryRestore(t *testing.T) {
	client := setupContainer(t, "")
	ctx := context.Background()

	writer := lifecycle.NewRegistry(memory.NewCache(), client)
	if err := writer.RegisterAgent(ctx, fixtures.AgentID, fixtures.AgentType, fixtures.AgentConfig()); err != nil {
		t.Fatalf("RegisterAgent() error: %v", err)
	}

	reader := lifecycle.NewRegistry(memory.NewCache(), client)
	if n := reader.LoadAllStates(ctx); n != 1 {
		t.Fatalf("LoadAllStates() = %d, want 1", n)
	}
	state, ok := reader.AgentState(fixtures.AgentID)
	if !ok {
		t.Fatalf("AgentState(%q) not found after restore", fixtures.AgentID)
	}
	if state.Status != lifecycle.StatusInitializing {
		t.Errorf("restored status = %q, want %q", state.Status, lifecycle.StatusInitializing)
	}
	if state.Type != fixtures.AgentType {
		t.Errorf("restored type = %q, want %q", state.Type, fixtures.AgentType)
	}
}
