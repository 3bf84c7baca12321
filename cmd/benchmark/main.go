// Load generator for the two-phase transfer flow. Reads seeded accounts
// straight from the database, mints a token per user and hammers
// initiate/complete pairs, reporting throughput and conflict aborts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
)

var (
	targetURL   string
	dsn         string
	jwtSecret   string
	concurrency int
	duration    time.Duration
	workload    string
)

var (
	totalRequests uint64
	completed     uint64
	replays       uint64
	conflicts     uint64
	failOther     uint64
)

type account struct {
	userID int64
	number string
	token  string
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&dsn, "dsn", os.Getenv("COREBANK_DB_DSN"), "Database DSN for account discovery")
	flag.StringVar(&jwtSecret, "secret", os.Getenv("COREBANK_JWT_SECRET"), "JWT signing secret")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	if dsn == "" || jwtSecret == "" {
		log.Fatal("both -dsn and -secret are required")
	}

	accounts := loadAccounts()
	if len(accounts) < 2 {
		log.Fatal("need at least two seeded active checking accounts")
	}
	log.Printf("Starting Benchmark: %s | Accounts: %d | Workers: %d | Duration: %s",
		workload, len(accounts), concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, accounts)
	}
	wg.Wait()

	printResults(time.Since(start))
}

func loadAccounts() []account {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx,
		`SELECT user_id, account_number FROM accounts
		 WHERE account_type = 'CHECKING' AND status = 'ACTIVE' AND NOT is_deleted
		 ORDER BY id`)
	if err != nil {
		log.Fatalf("Account discovery failed: %v", err)
	}
	defer rows.Close()

	var accounts []account
	for rows.Next() {
		var a account
		if err := rows.Scan(&a.userID, &a.number); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		a.token = mintToken(a.userID)
		accounts = append(accounts, a)
	}
	return accounts
}

func mintToken(userID int64) string {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(2 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		log.Fatalf("Token signing failed: %v", err)
	}
	return signed
}

func worker(wg *sync.WaitGroup, start time.Time, accounts []account) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickPair(accounts)

		intentID, ok := post(client, from.token, "/api/v1/transfers", "", map[string]any{
			"from_account_number": from.number,
			"to_account_number":   to.number,
		})
		if !ok || intentID == "" {
			continue
		}

		key := fmt.Sprintf("bench-%s-%d", intentID, time.Now().UnixNano())
		post(client, from.token, "/api/v1/transfers/"+intentID+"/complete", key, map[string]any{
			"amount":      "1.00",
			"description": "benchmark",
		})
	}
}

// post fires one request and classifies the outcome; returns the intent id
// when the response carries one.
func post(client *http.Client, token, path, idemKey string, payload map[string]any) (string, bool) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, targetURL+path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return "", false
	}
	defer resp.Body.Close()
	atomic.AddUint64(&totalRequests, 1)

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		if resp.Header.Get("X-Idempotency-Replayed") == "true" {
			atomic.AddUint64(&replays, 1)
		} else {
			atomic.AddUint64(&completed, 1)
		}
	case resp.StatusCode == http.StatusConflict:
		atomic.AddUint64(&conflicts, 1)
		return "", false
	default:
		atomic.AddUint64(&failOther, 1)
		return "", false
	}

	var parsed struct {
		IntentID string `json:"intent_id"`
	}
	json.NewDecoder(resp.Body).Decode(&parsed)
	return parsed.IntentID, true
}

func pickPair(accounts []account) (account, account) {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		// Hotspot: 90% of traffic hits the first two accounts
		if rand.Float32() < 0.5 {
			return accounts[0], accounts[1]
		}
		return accounts[1], accounts[0]
	}

	a := rand.Intn(len(accounts))
	b := rand.Intn(len(accounts))
	for a == b {
		b = rand.Intn(len(accounts))
	}
	return accounts[a], accounts[b]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	results := map[string]any{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"completed":       atomic.LoadUint64(&completed),
		"replays":         atomic.LoadUint64(&replays),
		"aborts_conflict": atomic.LoadUint64(&conflicts),
		"errors":          atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		log.Printf("Could not write results file: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
