package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"policy-claims/backend/internal/retrieval"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
)

const systemPrompt = "You are a helpful assistant. Always reply in valid JSON."

// Config holds OpenAI configuration parameters.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	// Temperature defaults to 0.2 when nil; 0 asks for deterministic decoding.
	Temperature *float64
	MaxTokens   int
	// Parallelism bounds concurrent summarization calls.
	Parallelism int
}

// Client implements Reasoner against an OpenAI-compatible chat completions API.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	parallelism int
}

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	temp := 0.2
	if cfg.Temperature != nil && *cfg.Temperature >= 0 {
		temp = *cfg.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
		parallelism: cfg.Parallelism,
	}, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Summarize asks the model for a one-sentence summary of each clause. Calls run
// in parallel; the result keeps the order of clauses. A reply that is not the
// expected JSON becomes the summary verbatim.
func (c *Client) Summarize(ctx context.Context, clauses []retrieval.Clause) ([]ClauseSummary, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	out := make([]ClauseSummary, len(clauses))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, clause := range clauses {
		g.Go(func() error {
			reply, err := c.complete(ctx, buildSummaryPrompt(clause))
			if err != nil {
				return fmt.Errorf("summarize clause %d: %w", clause.ClauseID, err)
			}
			out[i] = summaryFromReply(clause.ClauseID, reply)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Decide asks the model for a reasoning trace, a verdict and a payout amount.
// A reply that cannot be decoded yields an unknown decision whose trace is the
// raw reply.
func (c *Client) Decide(ctx context.Context, summaries []ClauseSummary, s slots.Set, domain string) (rules.Decision, error) {
	if !c.Enabled() {
		return rules.Decision{}, ErrDisabled
	}
	reply, err := c.complete(ctx, buildDecisionPrompt(summaries, s, domain))
	if err != nil {
		return rules.Decision{}, fmt.Errorf("decide: %w", err)
	}
	return decisionFromReply(reply), nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openai empty response")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func buildSummaryPrompt(clause retrieval.Clause) string {
	builder := &strings.Builder{}
	builder.WriteString("Given the following insurance policy clause, write a one-sentence summary of the core rule or exclusion, in valid JSON as:\n")
	fmt.Fprintf(builder, "{\n  \"clause_id\": %d,\n  \"summary\": \"<one-sentence summary>\"\n}\n", clause.ClauseID)
	builder.WriteString("Clause:\n\"\"\"\n")
	builder.WriteString(clause.Text)
	builder.WriteString("\n\"\"\"\n")
	return builder.String()
}

func buildDecisionPrompt(summaries []ClauseSummary, s slots.Set, domain string) string {
	if strings.TrimSpace(domain) == "" {
		domain = "insurance"
	}
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "You are a decision engine for %s claims.\n", domain)
	builder.WriteString("Given these extracted slot values (facts about the case):\n\n")
	if len(s) == 0 {
		builder.WriteString("- none extracted\n")
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(builder, "- %s: %v\n", k, s[k])
	}
	builder.WriteString("\nAnd the following clause summaries (policy rules or exclusions):\n\n")
	for _, summary := range summaries {
		fmt.Fprintf(builder, "- [clause %d] %s\n", summary.ClauseID, summary.Summary)
	}
	builder.WriteString("\n1. List your reasoning steps as an array, referencing clause_ids and slot facts.\n")
	builder.WriteString("2. Output your final decision as \"approved\" or \"rejected\".\n")
	builder.WriteString("3. Output the amount (numeric payout, or null if not applicable).\n\n")
	builder.WriteString("Return ONLY valid JSON as:\n")
	builder.WriteString("{\n  \"reasoning_trace\": [ \"...\" ],\n  \"decision\": \"approved\"|\"rejected\",\n  \"amount\": <number|null>\n}\n")
	return builder.String()
}

func summaryFromReply(clauseID int, reply string) ClauseSummary {
	parsed := ParseJSON[ClauseSummary](reply)
	if value, ok := parsed.Get(); ok && strings.TrimSpace(value.Summary) != "" {
		return ClauseSummary{ClauseID: clauseID, Summary: strings.TrimSpace(value.Summary)}
	}
	return ClauseSummary{ClauseID: clauseID, Summary: parsed.Raw}
}

type decisionReply struct {
	ReasoningTrace any    `json:"reasoning_trace"`
	Decision       string `json:"decision"`
	Amount         any    `json:"amount"`
}

func decisionFromReply(reply string) rules.Decision {
	parsed := ParseJSON[decisionReply](reply)
	value, ok := parsed.Get()
	if !ok {
		return rules.Decision{
			ReasoningTrace: []string{parsed.Raw},
			Decision:       rules.Unknown,
		}
	}
	return rules.Decision{
		ReasoningTrace: traceLines(value.ReasoningTrace),
		Decision:       rules.ParseVerdict(value.Decision),
		Amount:         sanitizeAmount(value.Amount),
	}
}

func traceLines(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}
		}
		return []string{strings.TrimSpace(t)}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			line := strings.TrimSpace(fmt.Sprint(item))
			if line != "" {
				out = append(out, line)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// sanitizeAmount keeps finite, non-negative amounts. Strings such as
// "50,000" or "$50000" are accepted.
func sanitizeAmount(v any) *float64 {
	var amount float64
	switch t := v.(type) {
	case float64:
		amount = t
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "", "₹", "").Replace(strings.TrimSpace(t))
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		amount = parsed
	default:
		return nil
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return nil
	}
	return &amount
}
