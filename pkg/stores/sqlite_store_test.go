package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudlift/cloudlift/pkg/lifecycle"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testDeployment(id string) *lifecycle.Deployment {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &lifecycle.Deployment{
		ID:           id,
		Name:         "demo",
		AppID:        "base-vm",
		LaunchStatus: lifecycle.StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestDeploymentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("dep-1")
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := store.GetDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "demo" || got.AppID != "base-vm" || got.LaunchStatus != lifecycle.StatusCreated {
		t.Errorf("unexpected deployment: %+v", got)
	}
	if got.LaunchResult != nil {
		t.Error("expected no launch result yet")
	}
}

func TestUpdateDeploymentWithLaunchResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("dep-1")
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatal(err)
	}

	d.LaunchStatus = lifecycle.StatusHealthy
	d.LaunchResult = &lifecycle.ProvisionResult{
		CloudLaunch: map[string]interface{}{
			"instance": map[string]interface{}{"id": "i-99"},
		},
		Host: lifecycle.HostInfo{Address: "198.51.100.9", PrivateKey: "PEM", User: "ubuntu"},
	}
	d.UpdatedAt = time.Now().UTC()
	if err := store.UpdateDeployment(ctx, d); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := store.GetDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LaunchStatus != lifecycle.StatusHealthy {
		t.Errorf("unexpected status: %s", got.LaunchStatus)
	}
	if got.LaunchResult == nil {
		t.Fatal("expected launch result to persist")
	}
	if got.LaunchResult.InstanceID() != "i-99" {
		t.Errorf("unexpected instance ID: %s", got.LaunchResult.InstanceID())
	}
	if got.LaunchResult.Host.Address != "198.51.100.9" {
		t.Errorf("unexpected host address: %s", got.LaunchResult.Host.Address)
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetDeployment(context.Background(), "ghost")
	if !errors.Is(err, ErrDeploymentNotFound) {
		t.Errorf("expected ErrDeploymentNotFound, got %v", err)
	}

	d := testDeployment("ghost")
	if err := store.UpdateDeployment(context.Background(), d); !errors.Is(err, ErrDeploymentNotFound) {
		t.Errorf("expected ErrDeploymentNotFound on update, got %v", err)
	}
}

func TestCreateDeploymentDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err == nil {
		t.Error("expected duplicate create to fail")
	}
}

func TestListDeploymentsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"dep-a", "dep-b", "dep-c"} {
		d := testDeployment(id)
		d.CreatedAt = base.Add(time.Duration(i) * time.Second)
		d.UpdatedAt = d.CreatedAt
		if err := store.CreateDeployment(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListDeployments(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 deployments, got %d", len(got))
	}
	if got[0].ID != "dep-c" || got[2].ID != "dep-a" {
		t.Errorf("unexpected order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestEventLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, msg := range []string{"creating key pair", "creating instance", "instance ready"} {
		ev := lifecycle.DeploymentEvent{
			ID:           msg,
			DeploymentID: "dep-1",
			Stage:        "provisioning",
			Message:      msg,
			Timestamp:    base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	events, err := store.ListEvents(ctx, "dep-1")
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Message != "creating key pair" || events[2].Message != "instance ready" {
		t.Errorf("unexpected order: %+v", events)
	}

	other, err := store.ListEvents(ctx, "dep-2")
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no events for unknown deployment, got %d", len(other))
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}
