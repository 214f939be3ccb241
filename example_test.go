package redis_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pior/redis"
)

func Example() {
	ctx := context.Background()

	client, err := redis.Dial(ctx, redis.Options{
		Hostname: "localhost",
		Port:     6379,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	if _, err := client.Do(ctx, "SET", "greeting", "hello", "EX", 60); err != nil {
		log.Printf("SET failed: %v", err)
		return
	}

	reply, err := client.Do(ctx, "GET", "greeting")
	if err != nil {
		log.Printf("GET failed: %v", err)
		return
	}
	fmt.Println(reply.Text())
}

func ExampleClient_Pipeline() {
	ctx := context.Background()
	client := redis.NewClient(redis.Options{})
	defer client.Close()

	p := client.Pipeline()
	p.Do(ctx, "INCR", "visits")
	p.Do(ctx, "EXPIRE", "visits", 3600)

	replies, err := p.Flush(ctx)
	if err != nil {
		log.Printf("pipeline failed: %v", err)
		return
	}
	for _, reply := range replies {
		// server errors are returned in place
		if err := reply.Err(); err != nil {
			log.Printf("command failed: %v", err)
			continue
		}
		fmt.Println(reply)
	}
}

func ExampleClient_Tx() {
	ctx := context.Background()
	client := redis.NewClient(redis.Options{})
	defer client.Close()

	tx := client.Tx()
	tx.Do(ctx, "DECRBY", "account:1", 100)
	tx.Do(ctx, "INCRBY", "account:2", 100)

	replies, err := tx.Flush(ctx)
	if err != nil {
		log.Printf("transaction failed: %v", err)
		return
	}

	// MULTI, QUEUED, QUEUED, then the EXEC reply
	fmt.Println(replies[len(replies)-1])
}

func ExampleClient_Subscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := redis.NewClient(redis.Options{})

	sub, err := client.Subscribe(ctx, "events")
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()

	for msg, err := range sub.Messages(ctx) {
		if err != nil {
			log.Printf("subscription ended: %v", err)
			return
		}
		fmt.Printf("%s: %s\n", msg.Channel, msg.Payload)
	}
}

func ExampleNewPool() {
	ctx := context.Background()

	pool, err := redis.NewPool(redis.Options{
		HealthCheckInterval: 30 * time.Second,
		NewCircuitBreaker:   redis.NewCircuitBreakerConfig(3, time.Minute, 10*time.Second),
	}, 8)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	reply, err := pool.Do(ctx, "PING")
	if err != nil {
		log.Printf("PING failed: %v", err)
		return
	}
	fmt.Println(reply)

	stats := pool.Stats()
	fmt.Printf("clients: %d total, %d idle\n", stats.TotalConns, stats.IdleConns)
}
