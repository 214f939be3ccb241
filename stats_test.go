package redis

import (
	"sync"
	"testing"

	"github.com/pior/redis/internal/testutils"
	"github.com/stretchr/testify/require"
)

func TestClientStats(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)

	mustDo(t, client, "SET", "a", 1)
	mustDo(t, client, "GET", "a")
	_, err := client.Do(ctx, "NOPE")
	require.Error(t, err)

	p := client.Pipeline()
	p.Do(ctx, "GET", "a")
	p.Do(ctx, "GET", "b")
	_, err = p.Flush(ctx)
	require.NoError(t, err)

	stats := client.Stats()
	require.Equal(t, ClientStats{
		Commands:          3,
		Pipelines:         1,
		PipelinedCommands: 2,
		Errors:            1,
		Connects:          1,
	}, stats)
}

func TestClientStatsCollectorConcurrent(t *testing.T) {
	c := newClientStatsCollector()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.recordCommand()
				c.recordMessage()
				c.recordPipeline(3)
			}
		}()
	}
	wg.Wait()

	stats := c.snapshot()
	require.Equal(t, uint64(1000), stats.Commands)
	require.Equal(t, uint64(1000), stats.Messages)
	require.Equal(t, uint64(1000), stats.Pipelines)
	require.Equal(t, uint64(3000), stats.PipelinedCommands)
}
