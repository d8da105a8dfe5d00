package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const defaultWebFetchMaxChars = 10000

// WebToolsConfig configures the built-in web_search/web_fetch tools,
// mirroring internal/config's WebSearchConfig/WebFetchConfig/
// ToolExecutionConfig shapes without importing that package directly —
// the Dispatcher stays agnostic of how its caller loads configuration.
type WebToolsConfig struct {
	SearchProvider string
	SearchURL      string
	BraveAPIKey    string
	FetchMaxChars  int
	Timeout        time.Duration
}

type webSearchArgs struct {
	Query string `json:"query"`
}

// webSearchTool is gated by Permissions.WebAccess like web_fetch. With a
// BraveAPIKey configured it queries the Brave Search API directly;
// otherwise it falls back to scraping DuckDuckGo's HTML results page and
// extracting readable text, which needs no API key but is best-effort.
type webSearchTool struct {
	provider    string
	url         string
	braveAPIKey string
	maxChars    int
	client      *http.Client
}

func (t *webSearchTool) Name() string { return "web_search" }

func (t *webSearchTool) httpClient() *http.Client {
	if t.client != nil {
		return t.client
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (t *webSearchTool) maxContentChars() int {
	if t.maxChars > 0 {
		return t.maxChars
	}
	return defaultWebFetchMaxChars
}

func (t *webSearchTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	var args webSearchArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("web_search: invalid args: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return Result{Content: "web_search requires a query", IsError: true}, nil
	}

	if t.provider == "brave" && t.braveAPIKey != "" {
		return t.executeBrave(ctx, args.Query)
	}
	return t.executeDuckDuckGo(ctx, args.Query)
}

func (t *webSearchTool) executeBrave(ctx context.Context, query string) (Result, error) {
	endpoint := "https://api.search.brave.com/res/v1/web/search?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.braveAPIKey)

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return Result{Content: fmt.Sprintf("web_search failed: %v", err), IsError: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Content: fmt.Sprintf("web_search: brave search returned %s", resp.Status), IsError: true}, nil
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{Content: fmt.Sprintf("web_search: could not parse brave response: %v", err), IsError: true}, nil
	}

	var sb strings.Builder
	for _, r := range parsed.Web.Results {
		fmt.Fprintf(&sb, "%s\n%s\n%s\n\n", r.Title, r.URL, r.Description)
	}
	content := sb.String()
	if len(content) > t.maxContentChars() {
		content = content[:t.maxContentChars()]
	}
	return Result{Content: content}, nil
}

func (t *webSearchTool) executeDuckDuckGo(ctx context.Context, query string) (Result, error) {
	base := t.url
	if base == "" {
		base = "https://duckduckgo.com/html/"
	}
	endpoint := base + "?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := t.httpClient().Do(req)
	if err != nil {
		return Result{Content: fmt.Sprintf("web_search failed: %v", err), IsError: true}, nil
	}
	defer resp.Body.Close()

	article, err := readability.FromReader(resp.Body, req.URL)
	if err != nil {
		return Result{Content: fmt.Sprintf("web_search: could not parse results: %v", err), IsError: true}, nil
	}
	content := article.TextContent
	if len(content) > t.maxContentChars() {
		content = content[:t.maxContentChars()]
	}
	return Result{Content: content}, nil
}

type webFetchArgs struct {
	URL string `json:"url"`
}

// webFetchTool fetches a URL and extracts readable article text with
// go-shiori/go-readability, so the agent sees prose instead of raw HTML.
type webFetchTool struct {
	maxChars int
	client   *http.Client
}

func (t *webFetchTool) Name() string { return "web_fetch" }

func (t *webFetchTool) httpClient() *http.Client {
	if t.client != nil {
		return t.client
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (t *webFetchTool) maxContentChars() int {
	if t.maxChars > 0 {
		return t.maxChars
	}
	return defaultWebFetchMaxChars
}

func (t *webFetchTool) Execute(ctx context.Context, in CallInput) (Result, error) {
	var args webFetchArgs
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return Result{}, fmt.Errorf("web_fetch: invalid args: %w", err)
	}
	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{Content: fmt.Sprintf("web_fetch: invalid url %q", args.URL), IsError: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := t.httpClient().Do(req)
	if err != nil {
		return Result{Content: fmt.Sprintf("web_fetch failed: %v", err), IsError: true}, nil
	}
	defer resp.Body.Close()

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return Result{Content: fmt.Sprintf("web_fetch: extraction failed: %v", err), IsError: true}, nil
	}

	content := article.TextContent
	if len(content) > t.maxContentChars() {
		content = content[:t.maxContentChars()]
	}
	return Result{Content: content}, nil
}
