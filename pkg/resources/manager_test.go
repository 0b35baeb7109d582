package resources

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/autograph/gnnsearch/pkg/models"
)

func TestResourceManager(t *testing.T) {
	manager := NewManager(Capacity{CPUs: 4, GPUs: 1})
	claim := models.ResourceClaim{CPU: 1, GPU: 0.3}

	for i := 0; i < 3; i++ {
		if err := manager.Reserve(fmt.Sprintf("t%d", i), claim); err != nil {
			t.Fatalf("Failed to reserve resources for t%d: %v", i, err)
		}
	}

	cpu, gpu := manager.Available()
	if cpu != 1 {
		t.Errorf("Expected 1 available CPU, got %.2f", cpu)
	}
	if gpu > 0.11 || gpu < 0.09 {
		t.Errorf("Expected ~0.1 available GPU, got %.2f", gpu)
	}

	// A fourth 0.3 GPU share does not fit
	if err := manager.Reserve("t3", claim); err == nil {
		t.Error("Expected error when reserving more GPU than available")
	}

	// Duplicate reservation
	if err := manager.Reserve("t0", models.ResourceClaim{CPU: 0.1}); err == nil {
		t.Error("Expected error for duplicate reservation")
	}

	if err := manager.Release("t0"); err != nil {
		t.Fatalf("Failed to release resources: %v", err)
	}
	if err := manager.Release("t0"); err == nil {
		t.Error("Expected error releasing twice")
	}
	if err := manager.Reserve("t3", claim); err != nil {
		t.Errorf("Reserve after release failed: %v", err)
	}

	if n := manager.ReleaseAll(); n != 3 {
		t.Errorf("ReleaseAll released %d, want 3", n)
	}
	cpu, gpu = manager.Available()
	if cpu != 4 || gpu != 1 {
		t.Errorf("Expected full capacity after ReleaseAll, got cpu=%.2f gpu=%.2f", cpu, gpu)
	}
	if len(manager.Reservations()) != 0 {
		t.Error("Expected no reservations after ReleaseAll")
	}
}

func TestGetReservationReturnsCopy(t *testing.T) {
	manager := NewManager(Capacity{CPUs: 2})
	if err := manager.Reserve("t0", models.ResourceClaim{CPU: 1}); err != nil {
		t.Fatal(err)
	}
	res, ok := manager.GetReservation("t0")
	if !ok {
		t.Fatal("reservation not found")
	}
	res.Claim.CPU = 100
	again, _ := manager.GetReservation("t0")
	if again.Claim.CPU != 1 {
		t.Error("GetReservation leaked internal state")
	}
	if _, ok := manager.GetReservation("missing"); ok {
		t.Error("expected missing reservation")
	}
}

func TestConcurrentReserveNeverOvercommits(t *testing.T) {
	manager := NewManager(Capacity{CPUs: 3, GPUs: 1})
	claim := models.ResourceClaim{CPU: 1, GPU: 0.3}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := manager.Reserve(fmt.Sprintf("t%d", i), claim); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if granted != 3 {
		t.Errorf("granted %d reservations, want 3", granted)
	}
}

func TestDetectCapacityWithProbe(t *testing.T) {
	probe := func(ctx context.Context) ([]string, error) {
		return []string{"Tesla T4"}, nil
	}
	c, err := DetectCapacity(context.Background(), probe)
	if err != nil {
		t.Fatalf("DetectCapacity: %v", err)
	}
	if c.CPUs < 1 {
		t.Errorf("expected at least one CPU, got %v", c.CPUs)
	}
	if c.GPUs != 1 || c.GPUNames[0] != "Tesla T4" {
		t.Errorf("unexpected GPU capacity: %+v", c)
	}

	noGPU := func(ctx context.Context) ([]string, error) { return nil, ErrNoGPU }
	c, err = DetectCapacity(context.Background(), noGPU)
	if err != nil {
		t.Fatalf("DetectCapacity: %v", err)
	}
	if c.HasGPU() {
		t.Errorf("expected CPU-only capacity, got %+v", c)
	}
}
