package integration_tests

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/modrelay/pkg/content"
	"github.com/guido-cesarano/modrelay/pkg/queue"
)

// setupIntegrationRedis connects to the local Redis instance.
// Requires docker-compose up -d to be running.
func setupIntegrationRedis(t *testing.T) *queue.Client {
	// Check if Redis is reachable
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	// Clear the moderation keyspace for clean state
	keys, err := rdb.Keys(context.Background(), "moderation:*").Result()
	if err != nil {
		t.Fatalf("Failed to list moderation keys: %v", err)
	}
	if len(keys) > 0 {
		rdb.Del(context.Background(), keys...)
	}

	return queue.NewClient("localhost:6379")
}

func TestIntegrationFlow(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx := context.Background()

	// 1. Enqueue entry
	entry, err := client.Enqueue(ctx, content.TypePost, "integration-1")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// 2. Claim it
	claimed, err := client.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("Expected 1 claimed entry, got %d", len(claimed))
	}
	if claimed[0].ID != entry.ID {
		t.Errorf("Expected ID %d, got %d", entry.ID, claimed[0].ID)
	}

	// 3. Complete it
	if err := client.MarkCompleted(ctx, entry.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	// Verify the working queues are empty
	depths := client.Depths(ctx)
	if depths["pending"] != 0 {
		t.Errorf("Expected pending empty, got %d", depths["pending"])
	}
	if depths["processing"] != 0 {
		t.Errorf("Expected processing empty, got %d", depths["processing"])
	}
	if depths["completed"] != 1 {
		t.Errorf("Expected 1 completed entry, got %d", depths["completed"])
	}
}

func TestIntegrationRetryExhaustion(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx := context.Background()

	entry, err := client.Enqueue(ctx, content.TypeActivity, "integration-retry")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for i := 1; i <= queue.MaxRetries; i++ {
		claimed, err := client.ClaimBatch(ctx, 1)
		if err != nil {
			t.Fatalf("ClaimBatch failed: %v", err)
		}
		if len(claimed) != 1 {
			t.Fatalf("Attempt %d: expected 1 claimed entry, got %d", i, len(claimed))
		}

		terminal, err := client.MarkFailedAttempt(ctx, entry.ID, "simulated vendor outage")
		if err != nil {
			t.Fatalf("MarkFailedAttempt failed: %v", err)
		}
		if wantTerminal := i == queue.MaxRetries; terminal != wantTerminal {
			t.Errorf("Attempt %d: terminal = %v, want %v", i, terminal, wantTerminal)
		}
	}

	got, err := client.Entry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.Retries != queue.MaxRetries {
		t.Errorf("Expected %d retries, got %d", queue.MaxRetries, got.Retries)
	}
}

func TestIntegrationDecisionCache(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx := context.Background()

	if err := client.StoreDecision(ctx, "integration-dec", map[string]string{"action": "hide"}); err != nil {
		t.Fatalf("StoreDecision failed: %v", err)
	}

	raw, err := client.LastDecision(ctx, "integration-dec")
	if err != nil {
		t.Fatalf("LastDecision failed: %v", err)
	}
	if raw == "" {
		t.Error("Expected cached decision payload")
	}
}
