package ai

import (
	"fmt"
	"strconv"
	"strings"

	serp "github.com/ericgreene/go-serp"
)

// SearchConfig holds configuration for web search.
type SearchConfig struct {
	APIKey     string
	MaxResults int
	SafeSearch bool
}

// DefaultSearchConfig returns standard search configuration.
func DefaultSearchConfig(apiKey string) SearchConfig {
	return SearchConfig{
		APIKey:     apiKey,
		MaxResults: 5,
		SafeSearch: true,
	}
}

// ResearchSnippets runs a web search for the given query and returns a
// compact findings block suitable for prompt injection. Used to ground
// replies in current events before generation.
func ResearchSnippets(query string, cfg SearchConfig) (string, error) {
	if cfg.APIKey == "" {
		return "", fmt.Errorf("search API key not configured")
	}

	parameter := map[string]string{
		"q":   query,
		"key": cfg.APIKey,
		"num": strconv.Itoa(cfg.MaxResults),
	}
	if cfg.SafeSearch {
		parameter["safe"] = "active"
	}

	search := serp.NewGoogleSearch(parameter)
	results, err := search.GetJSON()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, result := range results.OrganicResults {
		fmt.Fprintf(&sb, "- %s\n  %s\n", result.Title, result.Snippet)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
