package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Run drives synthetic validation traffic at a license server so the
// rate-limit and session-ceiling behavior can be observed under load.

type Config struct {
	BaseURL     string
	LicenseKey  string
	ProductCode string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		return Result{}, fmt.Errorf("base url is required")
	}
	if cfg.LicenseKey == "" {
		return Result{}, fmt.Errorf("license key is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	profile := normalizeProfile(cfg.Profile)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()

	var (
		mu     sync.Mutex
		result = Result{StatusClasses: make(map[string]int)}
		tokens []string
	)

	record := func(status int, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		result.TotalRequests++
		if failed {
			result.Failures++
		}
		result.StatusClasses[classifyStatusClass(status)]++
	}

	jobs := make(chan int64)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seed := range jobs {
				rng := rand.New(rand.NewSource(seed))
				kind := profile
				if kind == "mixed" {
					if rng.Intn(2) == 0 {
						kind = "validate"
					} else {
						kind = "heartbeat"
					}
				}
				switch kind {
				case "heartbeat":
					mu.Lock()
					n := len(tokens)
					var token string
					if n > 0 {
						token = tokens[rng.Intn(n)]
					}
					mu.Unlock()
					if token == "" {
						// No session yet, fall through to a validate.
						token, _ = validateOnce(ctx, client, cfg, rng, record)
						if token != "" {
							mu.Lock()
							tokens = append(tokens, token)
							mu.Unlock()
						}
						continue
					}
					heartbeatOnce(ctx, client, cfg, token, rng, record)
				default:
					token, _ := validateOnce(ctx, client, cfg, rng, record)
					if token != "" {
						mu.Lock()
						tokens = append(tokens, token)
						mu.Unlock()
					}
				}
			}
		}()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			select {
			case jobs <- rng.Int63():
			case <-ctx.Done():
				break loop
			}
		}
	}
	close(jobs)
	wg.Wait()

	return result, nil
}

func validateOnce(ctx context.Context, client *http.Client, cfg Config, rng *rand.Rand, record func(int, bool)) (string, error) {
	instance := fmt.Sprintf("load-%d", rng.Intn(8))
	body, _ := json.Marshal(map[string]any{
		"license_key":     cfg.LicenseKey,
		"ea_product_code": cfg.ProductCode,
		"ea_instance_id":  instance,
		"mt5_account":     "00000000",
		"hardware_info":   map[string]string{"cpu_id": "loadgen-cpu"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/license/validate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		record(0, true)
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	record(resp.StatusCode, resp.StatusCode >= 500)

	var payload struct {
		Valid        bool   `json:"valid"`
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Valid {
		return payload.SessionToken, nil
	}
	return "", nil
}

func heartbeatOnce(ctx context.Context, client *http.Client, cfg Config, token string, rng *rand.Rand, record func(int, bool)) {
	body, _ := json.Marshal(map[string]string{
		"session_token":  token,
		"ea_instance_id": fmt.Sprintf("load-%d", rng.Intn(8)),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/license/heartbeat", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		record(0, true)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	record(resp.StatusCode, resp.StatusCode >= 500)
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	switch p {
	case "validate", "heartbeat", "mixed":
		return p
	default:
		return "mixed"
	}
}
