package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// searchRequest mirrors the regscout API request model.
type searchRequest struct {
	Query        string `json:"query"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// searchResponse mirrors the regscout API response model.
type searchResponse struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"`
	Query        string `json:"query"`
	Jurisdiction string `json:"jurisdiction"`
	Records      []struct {
		FileNumber string `json:"file_number"`
		EntityName string `json:"entity_name"`
	} `json:"records"`
	Count        int    `json:"count"`
	Reason       string `json:"reason"`
	DiagnosticID string `json:"diagnostic_id"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// healthResponse mirrors the parts of the health response the tool shows.
type healthResponse struct {
	Status string `json:"status"`
	Probe  *struct {
		Jurisdiction string `json:"jurisdiction"`
		Reachable    bool   `json:"reachable"`
		StatusCode   int    `json:"status_code"`
		Title        string `json:"title"`
		Blocked      bool   `json:"blocked"`
		BlockReason  string `json:"block_reason"`
		LatencyMs    int64  `json:"latency_ms"`
		Error        string `json:"error"`
	} `json:"probe"`
}

func main() {
	apiURL := os.Getenv("REGSCOUT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("REGSCOUT_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "REGSCOUT_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"regscout",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	searchTool := mcp.NewTool("search_registry",
		mcp.WithDescription("Search a government business-entity registry by entity name and return the matching file numbers and names. Drives a real browser, so a call takes several seconds."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Entity name or name fragment, e.g. 'acme holdings'"),
		),
		mcp.WithString("jurisdiction",
			mcp.Description("Two-letter registry code (default: 'DE')"),
		),
	)
	s.AddTool(searchTool, handleSearch(apiURL, apiKey))

	checkTool := mcp.NewTool("check_registry",
		mcp.WithDescription("Check whether a registry's search page is reachable and not serving an anti-bot interstitial, without running a search."),
		mcp.WithString("jurisdiction",
			mcp.Description("Two-letter registry code (default: 'DE')"),
		),
	)
	s.AddTool(checkTool, handleCheck(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the regscout API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleSearch(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/search", searchRequest{
			Query:        query,
			Jurisdiction: request.GetString("jurisdiction", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var sr searchResponse
		if err := json.Unmarshal(respBody, &sr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		return formatSearch(sr)
	}
}

// formatSearch renders a search response as tool output. Blocked and
// failed searches are tool errors so the model can decide to retry.
func formatSearch(sr searchResponse) (*mcp.CallToolResult, error) {
	switch sr.Status {
	case "success":
		var b strings.Builder
		fmt.Fprintf(&b, "%d record(s) in %s for %q:\n\n", sr.Count, sr.Jurisdiction, sr.Query)
		b.WriteString("| File number | Entity name |\n|---|---|\n")
		for _, r := range sr.Records {
			fmt.Fprintf(&b, "| %s | %s |\n", r.FileNumber, r.EntityName)
		}
		return mcp.NewToolResultText(b.String()), nil
	case "no_results":
		return mcp.NewToolResultText(fmt.Sprintf("No records in %s for %q.", sr.Jurisdiction, sr.Query)), nil
	case "blocked":
		return mcp.NewToolResultError(fmt.Sprintf("registry blocked the search (%s); retry later", sr.Reason)), nil
	}
	msg := "search failed"
	if sr.Error != nil {
		msg = fmt.Sprintf("[%s] %s", sr.Error.Code, sr.Error.Message)
	}
	return mcp.NewToolResultError(msg), nil
}

func handleCheck(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := "/api/v1/health?deep=1"
		if j := request.GetString("jurisdiction", ""); j != "" {
			path += "&jurisdiction=" + j
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}
		resp, err := client.Do(req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		var hr healthResponse
		if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if hr.Probe == nil {
			return mcp.NewToolResultError("server has no probe configured"), nil
		}

		p := hr.Probe
		switch {
		case !p.Reachable:
			return mcp.NewToolResultText(fmt.Sprintf("%s registry unreachable: %s", p.Jurisdiction, p.Error)), nil
		case p.Blocked:
			return mcp.NewToolResultText(fmt.Sprintf("%s registry is blocking (%s), HTTP %d, %dms", p.Jurisdiction, p.BlockReason, p.StatusCode, p.LatencyMs)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s registry reachable: %q, HTTP %d, %dms", p.Jurisdiction, p.Title, p.StatusCode, p.LatencyMs)), nil
	}
}
