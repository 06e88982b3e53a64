package sequence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryCounters struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMemoryCounters() *memoryCounters {
	return &memoryCounters{counters: make(map[string]int64)}
}

func (m *memoryCounters) NextValue(ctx context.Context, prefix, periodKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefix + ":" + periodKey
	m.counters[key]++
	return m.counters[key], nil
}

func TestNextFormatsNumber(t *testing.T) {
	gen := NewGenerator(newMemoryCounters(), 6)
	ctx := context.Background()

	first, err := gen.Next(ctx, "MT", "202609")
	require.NoError(t, err)
	require.Equal(t, "MT-202609-000001", first)

	second, err := gen.Next(ctx, "mt", "202609")
	require.NoError(t, err)
	require.Equal(t, "MT-202609-000002", second)

	other, err := gen.Next(ctx, "MT", "202610")
	require.NoError(t, err)
	require.Equal(t, "MT-202610-000001", other)
}

func TestNextRejectsEmptyKey(t *testing.T) {
	gen := NewGenerator(newMemoryCounters(), 0)
	_, err := gen.Next(context.Background(), "", "202609")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = gen.Next(context.Background(), "SE", "  ")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestNextConcurrentCallersGetDistinctNumbers(t *testing.T) {
	gen := NewGenerator(newMemoryCounters(), 6)
	ctx := context.Background()

	const callers = 50
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := gen.Next(ctx, "SE", "202609")
			require.NoError(t, err)
			results <- number
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, callers)
	for number := range results {
		require.False(t, seen[number], "number %s issued twice", number)
		seen[number] = true
	}
	require.Len(t, seen, callers)
}

func TestPeriodKey(t *testing.T) {
	at := time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "202609", PeriodKey(at))
	require.Equal(t, fmt.Sprintf("%04d%02d", 2026, 12), PeriodKey(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)))
}
