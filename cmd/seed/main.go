// Command seed fills a gateway database with synthetic traffic for local
// development: users, tokens, channels, logs, top-ups and redemption codes.
// It refuses to run without an explicit -dsn so it can never touch the DSN
// configured in the environment by accident.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gatescope/gatescope/internal/config"
	"github.com/gatescope/gatescope/internal/database"
)

var (
	dsn    string
	engine string
	users  int
	days   int
	seed   int64
)

var modelPool = []string{
	"gpt-4o", "gpt-4o-mini", "claude-sonnet",
	"deepseek-chat", "gemini-flash", "qwen-max",
}

var ipPool = []string{
	"203.0.113.10", "203.0.113.11", "203.0.113.12",
	"198.51.100.7", "198.51.100.8", "192.0.2.55", "192.0.2.56",
}

func main() {
	flag.StringVar(&dsn, "dsn", "", "gateway database DSN (required)")
	flag.StringVar(&engine, "engine", "postgres", "database engine: postgres or mysql")
	flag.IntVar(&users, "users", 25, "number of users to create")
	flag.IntVar(&days, "days", 7, "days of log history")
	flag.Int64Var(&seed, "seed", 42, "random seed")
	flag.Parse()

	if dsn == "" {
		log.Fatal("refusing to seed without an explicit -dsn")
	}

	gw, err := database.OpenGateway(config.GatewayConfig{
		Engine:       engine,
		DSN:          dsn,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		QueryTimeout: time.Minute,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer gw.Close()

	rng := rand.New(rand.NewSource(seed))
	ctx := context.Background()

	if err := seedAll(ctx, gw, rng); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seeded %d users with %d days of logs", users, days)
}

func seedAll(ctx context.Context, gw *database.Gateway, rng *rand.Rand) error {
	now := time.Now().Unix()
	groupCol := gw.Engine().QuoteIdent("group")
	keyCol := gw.Engine().QuoteIdent("key")

	for c := 1; c <= 3; c++ {
		if _, err := gw.Execute(ctx,
			`INSERT INTO channels (id, name, status, created_time) VALUES (?, ?, 1, ?)`,
			c, fmt.Sprintf("channel-%d", c), now); err != nil {
			return fmt.Errorf("channel %d: %w", c, err)
		}
	}

	for u := 1; u <= users; u++ {
		setting := ""
		if u%2 == 0 {
			setting = `{"record_ip_log": true}`
		}
		inviter := 0
		if u > 5 && rng.Intn(3) == 0 {
			inviter = 1 + rng.Intn(5)
		}
		if _, err := gw.Execute(ctx, fmt.Sprintf(
			`INSERT INTO users (id, username, display_name, email, status, %s,
			                    quota, used_quota, request_count, inviter_id, setting)
			 VALUES (?, ?, ?, ?, 1, 'default', ?, 0, 0, ?, ?)`, groupCol),
			u, fmt.Sprintf("user%03d", u), fmt.Sprintf("User %03d", u),
			fmt.Sprintf("user%03d@example.com", u),
			100000+rng.Intn(900000), inviter, setting); err != nil {
			return fmt.Errorf("user %d: %w", u, err)
		}

		for t := 0; t < 2; t++ {
			tokenID := u*10 + t
			if _, err := gw.Execute(ctx, fmt.Sprintf(
				`INSERT INTO tokens (id, user_id, %s, name, status, created_time)
				 VALUES (?, ?, ?, ?, 1, ?)`, keyCol),
				tokenID, u, fmt.Sprintf("sk-%024d%08d", rng.Int63(), tokenID),
				fmt.Sprintf("token-%d-%d", u, t), now); err != nil {
				return fmt.Errorf("token %d: %w", tokenID, err)
			}
		}
	}

	if err := seedLogs(ctx, gw, rng); err != nil {
		return err
	}

	for i := 1; i <= 10; i++ {
		status := "success"
		if i%4 == 0 {
			status = "pending"
		}
		if _, err := gw.Execute(ctx,
			`INSERT INTO top_ups (id, user_id, amount, money, status, create_time)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			i, 1+rng.Intn(users), 1000*(1+rng.Intn(10)), 1+rng.Intn(10),
			status, now-int64(rng.Intn(days*86400))); err != nil {
			return fmt.Errorf("top-up %d: %w", i, err)
		}
	}

	for i := 1; i <= 5; i++ {
		if _, err := gw.Execute(ctx, fmt.Sprintf(
			`INSERT INTO redemptions (id, %s, name, quota, status, created_time)
			 VALUES (?, ?, ?, ?, 1, ?)`, keyCol),
			i, fmt.Sprintf("SEED%028d", i), fmt.Sprintf("seed-batch-%d", i),
			100*(1+rng.Intn(50)), now); err != nil {
			return fmt.Errorf("redemption %d: %w", i, err)
		}
	}

	return nil
}

// seedLogs writes consume (type 2) and error (type 5) rows spread over the
// requested history, weighted so a handful of users dominate the rankings.
func seedLogs(ctx context.Context, gw *database.Gateway, rng *rand.Rand) error {
	now := time.Now().Unix()
	id := 0
	for day := 0; day < days; day++ {
		for u := 1; u <= users; u++ {
			count := 2 + rng.Intn(8)
			if u <= 3 {
				count *= 5
			}
			for i := 0; i < count; i++ {
				id++
				createdAt := now - int64(day*86400) - int64(rng.Intn(86400))
				logType := 2
				if rng.Intn(12) == 0 {
					logType = 5
				}
				model := modelPool[rng.Intn(len(modelPool))]
				tokenID := u*10 + rng.Intn(2)
				if _, err := gw.Execute(ctx,
					`INSERT INTO logs (id, user_id, token_id, token_name, model_name, channel_id,
					                   quota, prompt_tokens, completion_tokens, use_time, type, ip, created_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					id, u, tokenID, fmt.Sprintf("token-%d-%d", u, tokenID%10),
					model, 1+rng.Intn(3),
					10+rng.Intn(500), 50+rng.Intn(2000), 20+rng.Intn(1500),
					1+rng.Intn(30), logType,
					ipPool[rng.Intn(len(ipPool))], createdAt); err != nil {
					return fmt.Errorf("log %d: %w", id, err)
				}
			}
		}
	}
	return nil
}
