package namematch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

const oracleSystemPrompt = "You are a product-catalog data specialist for a vape and e-liquid distributor. " +
	"You turn the trailing attribute fragment of a vendor product name into structured attributes. " +
	"Respond with strict JSON only."

const oracleSchemaPrompt = `Required JSON schema:
{
  "attributes": {"<attribute_key>": "string value"}
}
Known attribute keys: flavor, nicotine_mg, volume_ml, resistance_ohm, coil_type, color, wattage_w, capacity_mah, pack_count.
Use a known key when it applies; introduce a new lowercase snake_case key only when none fits.
Numeric values must be plain numbers with no unit suffix ("3", not "3mg").
Return {"attributes": {}} if the text carries no attribute information.`

type llmFailureClass int

const (
	failureNone llmFailureClass = iota
	failureParse
	failureSchema
	failureEmpty
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

type LLMCaller interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey)}, nil
}

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:   1024,
		System:      []anthropic.TextBlockParam{{Text: oracleSystemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

type AttemptMetrics struct {
	Attempts       int
	ContentRetries int
}

// PromptExecutor drives one JSON exchange with up to three attempts,
// feeding validation failures back into the next prompt.
type PromptExecutor struct {
	caller LLMCaller
}

func NewPromptExecutor(caller LLMCaller) *PromptExecutor {
	return &PromptExecutor{caller: caller}
}

func (e *PromptExecutor) Run(ctx context.Context, name, prompt string, out any, validate func() error) (AttemptMetrics, error) {
	metrics := AttemptMetrics{}
	feedback := ""
	for attempt := 1; attempt <= 3; attempt++ {
		metrics.Attempts = attempt
		fullPrompt := prompt + "\n\nRespond with only valid JSON matching the schema."
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		raw, err := e.caller.GenerateJSON(ctx, fullPrompt)
		if err != nil {
			class := classifyTransportError(err)
			if class == failureTimeout || class == failureRateLimit || class == failureServer {
				if attempt < 3 {
					time.Sleep(backoffDelay(attempt))
					continue
				}
			}
			return metrics, fmt.Errorf("%s transport failure: %w", name, err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = "Your previous response was empty. Respond with valid JSON."
				continue
			}
			return metrics, fmt.Errorf("%s failed: empty response", name)
		}

		clean := stripCodeFences(raw)
		if err := json.Unmarshal([]byte(clean), out); err != nil {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = "Your previous response was not valid JSON. Respond with only valid JSON."
				continue
			}
			return metrics, fmt.Errorf("%s failed json parse: %w", name, err)
		}
		if err := validate(); err != nil {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = fmt.Sprintf("Your response failed validation: %s. Fix these issues.", err)
				continue
			}
			return metrics, fmt.Errorf("%s failed validation: %w", name, err)
		}
		return metrics, nil
	}
	return metrics, fmt.Errorf("%s failed after retries", name)
}

// Oracle resolves one attribute text the deterministic rules could not
// account for. Implementations fail per call; the classifier isolates each
// failure to its record.
type Oracle interface {
	Resolve(ctx context.Context, attributeText string) (AttributeSet, AttemptMetrics, error)
}

// LLMOracle consumes the Anthropic API, one attribute text per call, with
// client-side rate limiting shared across concurrent resolvers.
type LLMOracle struct {
	exec    *PromptExecutor
	limiter *rate.Limiter
}

func NewLLMOracle(caller LLMCaller, callsPerSecond float64) *LLMOracle {
	if callsPerSecond <= 0 {
		callsPerSecond = 2
	}
	return &LLMOracle{
		exec:    NewPromptExecutor(caller),
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1),
	}
}

type oracleResponse struct {
	Attributes map[string]string `json:"attributes"`
}

func (o *LLMOracle) Resolve(ctx context.Context, attributeText string) (AttributeSet, AttemptMetrics, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, AttemptMetrics{}, err
	}
	out := oracleResponse{}
	prompt := fmt.Sprintf(
		"Extract product attributes from this fragment of a vendor product name.\n\n%s\n\nFragment:\n%s",
		oracleSchemaPrompt,
		attributeText,
	)
	m, err := o.exec.Run(ctx, "oracle", prompt, &out, func() error { return validateOracleResponse(out) })
	if err != nil {
		return nil, m, err
	}
	attrs := AttributeSet{}
	for k, v := range out.Attributes {
		attrs[strings.TrimSpace(strings.ToLower(k))] = strings.TrimSpace(v)
	}
	return attrs, m, nil
}

func validateOracleResponse(out oracleResponse) error {
	if out.Attributes == nil {
		return fmt.Errorf("attributes object missing")
	}
	if len(out.Attributes) > 8 {
		return fmt.Errorf("too many attributes (%d), a product fragment carries at most 8", len(out.Attributes))
	}
	for k, v := range out.Attributes {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("empty attribute key")
		}
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("attribute %q has an empty value", k)
		}
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func classifyTransportError(err error) llmFailureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, " 5") || strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, " 4") || strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}
