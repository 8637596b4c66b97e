// cmd/botctl is the operator's read-only inspection CLI against a running
// server: list bots and positions as tables, the same -table rendering
// polybot's notify.Console applies to scan results, pointed at the HTTP
// API instead of an in-process scanner result set.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
)

func main() {
	baseURL := flag.String("url", envOr("BOTCTL_BASE_URL", "http://localhost:8080"), "dlmmbot server base url")
	token := flag.String("token", os.Getenv("BOTCTL_TOKEN"), "bearer access token")
	flag.Parse()

	if *token == "" {
		slog.Error("no access token provided (-token or BOTCTL_TOKEN)")
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: botctl <bots|positions> [botId]")
		os.Exit(1)
	}

	client := &apiClient{http: &http.Client{Timeout: 10 * time.Second}, baseURL: *baseURL, token: *token}

	var err error
	switch args[0] {
	case "bots":
		err = printBots(client)
	case "positions":
		botID := ""
		if len(args) > 1 {
			botID = args[1]
		}
		err = printPositions(client, botID)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(1)
	}
	if err != nil {
		slog.Error("botctl command failed", "err", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type apiClient struct {
	http    *http.Client
	baseURL string
	token   string
}

func (c *apiClient) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type botSummary struct {
	BotID            string `json:"bot_id"`
	Name             string `json:"name"`
	Mode             string `json:"mode"`
	Status           string `json:"status"`
	StrategyMode     string `json:"strategy_mode"`
	TotalTrades      int    `json:"total_trades"`
	WinningTrades    int    `json:"winning_trades"`
	TotalPnlLamports int64  `json:"total_pnl_lamports"`
}

func printBots(c *apiClient) error {
	var bots []botSummary
	if err := c.get("/bot/list", &bots); err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Bot ID", "Name", "Mode", "Status", "Strategy", "Trades", "Win Rate", "PnL (SOL)")
	for _, b := range bots {
		winRate := "—"
		if b.TotalTrades > 0 {
			winRate = fmt.Sprintf("%.1f%%", float64(b.WinningTrades)/float64(b.TotalTrades)*100)
		}
		table.Append(
			shortID(b.BotID), b.Name, b.Mode, b.Status, b.StrategyMode,
			fmt.Sprintf("%d", b.TotalTrades), winRate,
			fmt.Sprintf("%.4f", float64(b.TotalPnlLamports)/1e9),
		)
	}
	table.Render()
	return nil
}

type positionSummary struct {
	PositionID            string  `json:"position_id"`
	BotID                 string  `json:"bot_id"`
	Status                string  `json:"status"`
	PoolName              string  `json:"pool_name"`
	EntryPricePerToken    float64 `json:"entry_price_per_token"`
	CurrentPricePerToken  float64 `json:"current_price_per_token"`
	UnrealizedPnlLamports int64   `json:"unrealized_pnl_lamports"`
}

func printPositions(c *apiClient, botID string) error {
	path := "/position/active"
	if botID != "" {
		path = "/position/bot/" + botID
	}
	var positions []positionSummary
	if err := c.get(path, &positions); err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Position ID", "Bot ID", "Pool", "Status", "Entry Price", "Current Price", "Unrealized PnL (SOL)")
	for _, p := range positions {
		table.Append(
			shortID(p.PositionID), shortID(p.BotID), p.PoolName, p.Status,
			fmt.Sprintf("%.6f", p.EntryPricePerToken), fmt.Sprintf("%.6f", p.CurrentPricePerToken),
			fmt.Sprintf("%.4f", float64(p.UnrealizedPnlLamports)/1e9),
		)
	}
	table.Render()
	return nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
