// Package main provides a benchmark tool for the moderation queue to measure
// enqueue and drain throughput against a running Redis.
//
// Usage:
//
//	go run benchmark/main.go -entries 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/modrelay/pkg/content"
	"github.com/guido-cesarano/modrelay/pkg/queue"
)

func main() {
	numEntries := flag.Int("entries", 100000, "Number of entries to enqueue")
	numWorkers := flag.Int("workers", 10, "Number of concurrent enqueuers")
	batchSize := flag.Int("batch", 50, "Claim batch size for the drain phase")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	client := queue.NewClient(*redisAddr)
	ctx := context.Background()

	fmt.Printf("Moderation Queue Benchmark\n")
	fmt.Printf("==========================\n")
	fmt.Printf("Entries to enqueue: %d\n", *numEntries)
	fmt.Printf("Concurrent enqueuers: %d\n\n", *numWorkers)

	// Enqueue phase
	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	entriesPerWorker := *numEntries / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < entriesPerWorker; j++ {
				contentID := fmt.Sprintf("bench-%d-%d", workerID, j)
				if _, err := client.Enqueue(ctx, content.TypePost, contentID); err != nil {
					fmt.Printf("Error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("✓ Enqueued %d entries in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f entries/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	// Drain phase: claim batches and complete them, simulating sweeps with a
	// zero-cost submission step.
	fmt.Printf("Starting drain phase...\n")
	startDrain := time.Now()

	var drained int64
	for {
		entries, err := client.ClaimBatch(ctx, *batchSize)
		if err != nil {
			fmt.Printf("Error claiming batch: %v\n", err)
			return
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if err := client.MarkCompleted(ctx, e.ID); err != nil {
				fmt.Printf("Error completing entry %d: %v\n", e.ID, err)
				return
			}
			drained++
		}
		if drained%10000 == 0 {
			depths := client.Depths(ctx)
			fmt.Printf("  Remaining: %d entries\n", depths["pending"]+depths["processing"])
		}
	}

	drainTime := time.Since(startDrain)

	fmt.Printf("\n✓ Drained %d entries in %s\n", drained, drainTime)
	fmt.Printf("  Throughput: %.2f entries/sec\n", float64(drained)/drainTime.Seconds())

	totalTime := enqueueTime + drainTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f entries/sec\n", float64(*numEntries)/totalTime.Seconds())
}
