package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/pkg/logger"
)

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "ledger HTTP address")
	total := flag.Int("n", 100000, "number of deposits")
	concurrency := flag.Int("c", 200, "concurrent requests")
	account := flag.String("account", "", "account id (random when empty)")
	timeout := flag.Duration("timeout", 120*time.Second, "overall timeout")
	flag.Parse()

	log := logger.New("info", "console")

	id := uuid.New()
	if *account != "" {
		parsed, err := uuid.Parse(*account)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid account id")
		}
		id = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency,
			MaxIdleConnsPerHost: *concurrency,
		},
	}

	before, err := getBalance(ctx, client, *addr, id)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read initial balance")
	}

	var wg sync.WaitGroup
	var failed atomic.Int64
	sem := make(chan struct{}, *concurrency)
	body := []byte(`{"amount":"1"}`)
	url := fmt.Sprintf("%s/accounts/%s/deposit", *addr, id)

	startTime := time.Now()
	for i := 0; i < *total; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := deposit(ctx, client, url, body); err != nil {
				failed.Add(1)
				if idx%10000 == 0 {
					log.Warn().Err(err).Int("request", idx).Msg("Deposit failed")
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	after, err := getBalance(ctx, client, *addr, id)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read final balance")
	}

	succeeded := int64(*total) - failed.Load()
	delta := after.Sub(before)
	fmt.Printf("Completed %d requests in %v (%d failed)\n", *total, elapsed, failed.Load())
	fmt.Printf("TPS: %.2f\n", float64(*total)/elapsed.Seconds())
	fmt.Printf("Balance %s -> %s (delta %s)\n", before, after, delta)

	if !delta.Equal(decimal.NewFromInt(succeeded)) {
		log.Error().
			Stringer("delta", delta).
			Int64("succeeded", succeeded).
			Msg("Lost updates detected")
		os.Exit(1)
	}
}

func deposit(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func getBalance(ctx context.Context, client *http.Client, addr string, id uuid.UUID) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/accounts/%s/balance", addr, id), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}
