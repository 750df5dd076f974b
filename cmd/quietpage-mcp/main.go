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

// settleRequest mirrors the quietpage API request model.
type settleRequest struct {
	URL          string      `json:"url"`
	IdleMs       int         `json:"idle_ms,omitempty"`
	TimeoutMs    int         `json:"timeout_ms,omitempty"`
	CSSSelector  string      `json:"css_selector,omitempty"`
	OutputFormat string      `json:"output_format,omitempty"`
	ExtractMode  string      `json:"extract_mode,omitempty"`
	Records      *recordSpec `json:"records,omitempty"`
}

type recordSpec struct {
	Item   string            `json:"item"`
	Fields map[string]string `json:"fields"`
}

// settleResponse mirrors the quietpage API response model.
type settleResponse struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"status_code"`
	FinalURL   string          `json:"final_url"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Records    json.RawMessage `json:"records"`
	Quiescence *struct {
		SettledBy        string `json:"settled_by"`
		ElapsedMs        int64  `json:"elapsed_ms"`
		RequestsObserved int64  `json:"requests_observed"`
		InFlight         int64  `json:"in_flight"`
	} `json:"quiescence"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("QUIETPAGE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("QUIETPAGE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "QUIETPAGE_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"quietpage",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	settleTool := mcp.NewTool("settle_page",
		mcp.WithDescription("Load a web page in a headless browser, wait until its network requests and DOM changes have gone quiet, and return the rendered content. Use for single-page apps that keep loading after the initial page load."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to load"),
		),
		mcp.WithNumber("idle_ms",
			mcp.Description("Quiet window in milliseconds (default 800)"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Maximum wait for quiescence in milliseconds (default 25000); the page is read as-is when it expires"),
		),
		mcp.WithString("css_selector",
			mcp.Description("Only return elements matching this CSS selector"),
		),
		mcp.WithString("output_format",
			mcp.Description("Output format: 'markdown' (default), 'text' or 'html'"),
			mcp.Enum("markdown", "text", "html"),
		),
		mcp.WithString("extract_mode",
			mcp.Description("'raw' (whole page, default) or 'readability' (main article only)"),
			mcp.Enum("raw", "readability"),
		),
		mcp.WithString("record_item",
			mcp.Description("CSS selector for repeated items; enables record extraction"),
		),
		mcp.WithString("record_fields",
			mcp.Description("Record fields as name=selector pairs separated by commas, e.g. 'title=h2,price=.price'"),
		),
	)

	s.AddTool(settleTool, handleSettlePage(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleSettlePage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 180 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := settleRequest{
			URL:          url,
			IdleMs:       int(request.GetFloat("idle_ms", 0)),
			TimeoutMs:    int(request.GetFloat("timeout_ms", 0)),
			CSSSelector:  request.GetString("css_selector", ""),
			OutputFormat: request.GetString("output_format", "markdown"),
			ExtractMode:  request.GetString("extract_mode", ""),
		}
		if item := request.GetString("record_item", ""); item != "" {
			fields, err := parseFields(request.GetString("record_fields", ""))
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			payload.Records = &recordSpec{Item: item, Fields: fields}
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/settle", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("settle request failed: %v", err)), nil
		}

		var resp settleResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			errMsg := "settle failed"
			if resp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(formatResult(&resp)), nil
	}
}

func formatResult(resp *settleResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nSource: %s\nStatus: %d\n", resp.Title, resp.FinalURL, resp.StatusCode)
	if q := resp.Quiescence; q != nil {
		fmt.Fprintf(&b, "Settled by: %s after %dms (%d requests observed, %d still in flight)\n",
			q.SettledBy, q.ElapsedMs, q.RequestsObserved, q.InFlight)
	}
	b.WriteString("\n")
	b.WriteString(resp.Content)

	if len(resp.Records) > 0 && string(resp.Records) != "null" {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, resp.Records, "", "  "); err != nil {
			pretty.Write(resp.Records)
		}
		b.WriteString("\n\n---\nRecords:\n")
		b.WriteString(pretty.String())
	}
	return b.String()
}

// parseFields parses "name=selector,name2=selector2".
func parseFields(raw string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, sel, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(sel) == "" {
			return nil, fmt.Errorf("record_fields: %q is not name=selector", pair)
		}
		fields[strings.TrimSpace(name)] = strings.TrimSpace(sel)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("record_fields is required with record_item")
	}
	return fields, nil
}

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
