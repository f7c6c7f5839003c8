// Command health_check checks the pieces the trading core depends on and
// exits non-zero when any of them is unhealthy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grisha2077/vortex-trader-pro/internal/persistence"
	"github.com/grisha2077/vortex-trader-pro/pkg/config"
	"github.com/grisha2077/vortex-trader-pro/pkg/db"
	futures "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/binance/futures_usdt"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

const (
	healthy   = "HEALTHY"
	degraded  = "DEGRADED"
	unhealthy = "UNHEALTHY"
)

func main() {
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{Overall: healthy}
	report.Services = append(report.Services,
		checkConfig(cfg),
		checkJournal(ctx, cfg),
		checkVenue(ctx, cfg),
		checkRedis(ctx, cfg),
		checkAPIServer(ctx, cfg),
	)

	for _, svc := range report.Services {
		if svc.Status == unhealthy {
			report.Overall = unhealthy
			break
		} else if svc.Status == degraded {
			report.Overall = degraded
		}
	}

	if *asJSON {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, svc := range report.Services {
			icon := "✓"
			switch svc.Status {
			case unhealthy:
				icon = "✗"
			case degraded:
				icon = "⚠"
			}
			fmt.Printf("%s %-14s %-9s %s\n", icon, svc.Service, svc.Status, svc.Message)
		}
		fmt.Printf("\nOverall Status: %s\n", report.Overall)
	}

	if report.Overall == unhealthy {
		os.Exit(1)
	}
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: healthy, Timestamp: time.Now()}
}

func checkConfig(cfg *config.Config) HealthStatus {
	status := newStatus("Configuration")
	status.Message = fmt.Sprintf("port=%s symbols=%v", cfg.Port, cfg.BinanceSymbols)
	switch {
	case cfg.BinanceUSDTKey == "" || cfg.BinanceUSDTSecret == "":
		status.Status = degraded
		status.Message = "BINANCE_USDT_KEY/SECRET not set, orders will be rejected"
	case cfg.JWTSecret == "":
		status.Status = degraded
		status.Message = "JWT_SECRET not set, API is unauthenticated"
	}
	return status
}

func checkJournal(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Journal")

	database, err := db.New(cfg.DBPath)
	if err != nil {
		status.Status = unhealthy
		status.Message = fmt.Sprintf("open failed: %v", err)
		return status
	}
	defer database.Close()

	if err := database.Ping(ctx); err != nil {
		status.Status = unhealthy
		status.Message = fmt.Sprintf("ping failed: %v", err)
		return status
	}
	journal := persistence.NewJournal(database, time.Minute, nil)
	defer journal.Close()
	sum, err := journal.Summary(ctx)
	if err != nil {
		status.Status = degraded
		status.Message = fmt.Sprintf("schema not migrated: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("%d trades, %d wins, pnl %.2f", sum.Count, sum.Wins, sum.TotalPnL)
	return status
}

func checkVenue(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Binance USD-M")

	client := futures.NewClient(futures.Config{
		APIKey:    cfg.BinanceUSDTKey,
		APISecret: cfg.BinanceUSDTSecret,
		Testnet:   cfg.BinanceTestnet,
	}, nil, nil)

	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		status.Status = unhealthy
		status.Message = fmt.Sprintf("unreachable: %v", err)
		return status
	}
	network := "MAINNET"
	if cfg.BinanceTestnet {
		network = "TESTNET"
	}
	skew := time.Since(time.UnixMilli(serverTime))
	status.Message = fmt.Sprintf("%s skew=%s", network, skew.Round(time.Millisecond))
	if skew.Abs() > time.Second {
		status.Status = degraded
	}
	return status
}

func checkRedis(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Redis")
	if cfg.RedisAddr == "" {
		status.Message = "disabled"
		return status
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The core runs without fan-out when Redis is down.
		status.Status = degraded
		status.Message = fmt.Sprintf("ping failed: %v", err)
		return status
	}
	status.Message = cfg.RedisAddr
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("API Server")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", cfg.Port), nil)
	if err != nil {
		status.Status = unhealthy
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = unhealthy
		status.Message = fmt.Sprintf("not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = degraded
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}
	status.Message = "running"
	return status
}
