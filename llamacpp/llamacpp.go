// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package llamacpp implements a client for the llama-server native API, not
// the OpenAI compatible one.
//
// It is described at
// https://github.com/ggerganov/llama.cpp/blob/master/examples/server/README.md#api-endpoints
package llamacpp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/httpjson"
)

// healthResponse is documented at
// https://github.com/ggerganov/llama.cpp/blob/master/examples/server/README.md#api-endpoints
type healthResponse struct {
	Status          string
	SlotsIdle       int64 `json:"slots_idle"`
	SlotsProcessing int64 `json:"slots_processing"`
}

// https://github.com/ggml-org/llama.cpp/blob/master/examples/server/README.md#post-completion-given-a-prompt-it-returns-the-predicted-completion
type CompletionRequest struct {
	// TODO: Prompt can be a string, a list of tokens or a mix.
	Prompt              string   `json:"prompt"`
	Temperature         float64  `json:"temperature,omitempty"`
	DynaTempRange       float64  `json:"dynatemp_range,omitempty"`
	DynaTempExponent    float64  `json:"dynatemp_exponent,omitempty"`
	TopK                int64    `json:"top_k,omitempty"`
	TopP                float64  `json:"top_p,omitempty"`
	MinP                float64  `json:"min_p,omitempty"`
	NPredict            int64    `json:"n_predict,omitempty"` // Maximum number of tokens to predict
	NIndent             int64    `json:"n_indent,omitempty"`
	NKeep               int64    `json:"n_keep,omitempty"`
	Stream              bool     `json:"stream"`
	Stop                []string `json:"stop,omitempty"`
	TypicalP            float64  `json:"typical_p,omitempty"`
	RepeatPenalty       float64  `json:"repeat_penalty,omitempty"`
	RepeatLastN         int64    `json:"repeat_last_n,omitempty"`
	PresencePenalty     float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty    float64  `json:"frequency_penalty,omitempty"`
	DryMultiplier       float64  `json:"dry_multiplier,omitempty"`
	DryBase             float64  `json:"dry_base,omitempty"`
	DryAllowedLength    int64    `json:"dry_allowed_length,omitempty"`
	DryPenaltyLastN     int64    `json:"dry_penalty_last_n,omitempty"`
	DrySequenceBreakers []string `json:"dry_sequence_breakers,omitempty"`
	XTCProbability      float64  `json:"xtc_probability,omitempty"`
	XTCThreshold        float64  `json:"xtc_threshold,omitempty"`
	Mirostat            int32    `json:"mirostat,omitempty"`
	MirostatTau         float64  `json:"mirostat_tau,omitempty"`
	MirostatEta         float64  `json:"mirostat_eta,omitempty"`
	Grammar             string   `json:"grammar,omitempty"`
	JSONSchema          any      `json:"json_schema,omitempty"`
	Seed                int64    `json:"seed,omitempty"`
	IgnoreEos           bool     `json:"ignore_eos,omitempty"`
	LogitBias           []any    `json:"logit_bias,omitempty"`
	Nprobs              int64    `json:"n_probs,omitempty"`
	MinKeep             int64    `json:"min_keep,omitempty"`
	TMaxPredictMS       int64    `json:"t_max_predict_ms,omitempty"`
	ImageData           []any    `json:"image_data,omitempty"`
	IDSlot              int64    `json:"id_slot,omitempty"`
	CachePrompt         bool     `json:"cache_prompt,omitempty"`
	ReturnTokens        bool     `json:"return_tokens,omitempty"`
	Samplers            []string `json:"samplers,omitempty"`
	TimingsPerToken     bool     `json:"timings_per_token,omitempty"`
	PostSamplingProbs   bool     `json:"post_sampling_probs,omitempty"`
	ResponseFields      []string `json:"response_fields,omitempty"`
	Lora                []any    `json:"lora,omitempty"`
}

type CompletionResponse struct {
	Index              int64   `json:"index"`
	Content            string  `json:"content"`
	Tokens             []int64 `json:"tokens"`
	IDSlot             int64   `json:"id_slot"`
	Stop               bool    `json:"stop"`
	Model              string  `json:"model"`
	TokensPredicted    int64   `json:"tokens_predicted"`
	TokensEvaluated    int64   `json:"tokens_evaluated"`
	GenerationSettings struct {
		NPredict            int64    `json:"n_predict"`
		Seed                int64    `json:"seed"`
		Temperature         float64  `json:"temperature"`
		DynaTempRange       float64  `json:"dynatemp_range"`
		DynaTempExponent    float64  `json:"dynatemp_exponent"`
		TopK                int64    `json:"top_k"`
		TopP                float64  `json:"top_p"`
		MinP                float64  `json:"min_p"`
		XTCProbability      float64  `json:"xtc_probability"`
		XTCThreshold        float64  `json:"xtc_threshold"`
		TypicalP            float64  `json:"typical_p"`
		RepeatLastN         int64    `json:"repeat_last_n"`
		RepeatPenalty       float64  `json:"repeat_penalty"`
		PresencePenalty     float64  `json:"presence_penalty"`
		FrequencyPenalty    float64  `json:"frequency_penalty"`
		DryMultiplier       float64  `json:"dry_multiplier"`
		DryBase             float64  `json:"dry_base"`
		DryAllowedLength    int64    `json:"dry_allowed_length"`
		DryPenaltyLastN     int64    `json:"dry_penalty_last_n"`
		DrySequenceBreakers []string `json:"dry_sequence_breakers"`
		Mirostat            int32    `json:"mirostat"`
		MirostatTau         float64  `json:"mirostat_tau"`
		MirostatEta         float64  `json:"mirostat_eta"`
		Stop                []string `json:"stop"`
		MaxTokens           int64    `json:"max_tokens"`
		NKeep               int64    `json:"n_keep"`
		NDiscard            int64    `json:"n_discard"`
		IgnoreEos           bool     `json:"ignore_eos"`
		Stream              bool     `json:"stream"`
		LogitBias           []any    `json:"logit_bias"`
		NProbs              int64    `json:"n_probs"`
		MinKeep             int64    `json:"min_keep"`
		Grammar             string   `json:"grammar"`
		GrammarLazy         bool     `json:"grammar_lazy"`
		GrammarTriggers     []string `json:"grammar_triggers"`
		PreservedTokens     []string `json:"preserved_tokens"`
		ChatFormat          string   `json:"chat_format"`
		Samplers            []string `json:"samplers"`
		SpeculativeNMax     int64    `json:"speculative.n_max"`
		SpeculativeNMin     int64    `json:"speculative.n_min"`
		SpeculativePMin     float64  `json:"speculative.p_min"`
		TimingsPerToken     bool     `json:"timings_per_token"`
		PostSamplingProbs   bool     `json:"post_sampling_probs"`
		Lora                []any    `json:"lora"`
	} `json:"generation_settings"`
	Prompt       string `json:"prompt"`
	HasNewLine   bool   `json:"has_new_line"`
	Truncated    bool   `json:"truncated"`
	StopType     string `json:"stop_type"`
	StoppingWord string `json:"stopping_word"`
	TokensCached int64  `json:"tokens_cached"`
	Timings      struct {
		PromptN             int64   `json:"prompt_n"`
		PromptMS            float64 `json:"prompt_ms"`
		PromptPerTokenMS    float64 `json:"prompt_per_token_ms"`
		PromptPerSecond     float64 `json:"prompt_per_second"`
		PredictedN          int64   `json:"predicted_n"`
		PredictedMS         float64 `json:"predicted_ms"`
		PredictedPerTokenMS float64 `json:"predicted_per_token_ms"`
		PredictedPerSecond  float64 `json:"predicted_per_second"`
	} `json:"timings"`
}

type CompletionStreamChunkResponse struct {
	// Always
	Index           int64   `json:"index"`
	Content         string  `json:"content"`
	Tokens          []int64 `json:"tokens"`
	Stop            bool    `json:"stop"`
	IDSlot          int64   `json:"id_slot"`
	TokensPredicted int64   `json:"tokens_predicted"`
	TokensEvaluated int64   `json:"tokens_evaluated"`

	// Last message
	Model              string `json:"model"`
	GenerationSettings any    `json:"generation_settings"`
	Prompt             string `json:"prompt"`
	HasNewLine         bool   `json:"has_new_line"`
	Truncated          bool   `json:"truncated"`
	StopType           string `json:"stop_type"`
	StoppingWord       string `json:"stopping_word"`
	TokensCached       int64  `json:"tokens_cached"`
	Timings            struct {
		PromptN             int64   `json:"prompt_n"`
		PromptMS            float64 `json:"prompt_ms"`
		PromptPerTokenMS    float64 `json:"prompt_per_token_ms"`
		PromptPerSecond     float64 `json:"prompt_per_second"`
		PredictedN          int64   `json:"predicted_n"`
		PredictedMS         float64 `json:"predicted_ms"`
		PredictedPerTokenMS float64 `json:"predicted_per_token_ms"`
		PredictedPerSecond  float64 `json:"predicted_per_second"`
	} `json:"timings"`
}

type errorResponse struct {
	Error struct {
		Code    int64
		Message string
		Type    string
	} `json:"error"`
}

type Client struct {
	BaseURL string

	// HTTP is the JSON client used for /completion, /tokenize and
	// /detokenize. The zero value behaves like httpjson.DefaultClient; set
	// HTTP.Client to route through a custom transport (retry/log wrapping,
	// or a go-vcr recorder in tests), matching the teacher's
	// `ClientJSON: httpjson.Client{Client: &http.Client{...}}` idiom.
	HTTP httpjson.Client
}

// New creates a client to talk to a llama-server instance at baseURL.
func New(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("llamacpp: baseURL is required")
	}
	return &Client{BaseURL: baseURL, HTTP: httpjson.Client{Client: http.DefaultClient}}, nil
}

// httpClient returns the plain http.Client used for the few endpoints
// (/health, /metrics) that don't go through httpjson.
func (c *Client) httpClient() *http.Client {
	if c.HTTP.Client != nil {
		return c.HTTP.Client
	}
	return http.DefaultClient
}

func (c *Client) CompletionRaw(ctx context.Context, in *CompletionRequest, out *CompletionResponse) error {
	return c.post(ctx, c.BaseURL+"/completion", in, out)
}

func (c *Client) CompletionStreamRaw(ctx context.Context, in *CompletionRequest, out chan<- CompletionStreamChunkResponse) error {
	// llama.cpp doesn't HTTP POST support compression.
	resp, err := c.HTTP.PostRequest(ctx, c.BaseURL+"/completion", nil, in)
	if err != nil {
		return fmt.Errorf("failed to get llama server response: %w", err)
	}
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if err == io.EOF {
			err = nil
			if len(line) == 0 {
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("failed to get llama server response: %w", err)
		}
		if len(line) == 0 {
			continue
		}
		const prefix = "data: "
		if !bytes.HasPrefix(line, []byte(prefix)) {
			return fmt.Errorf("unexpected line. expected \"data: \", got %q", line)
		}
		d := json.NewDecoder(bytes.NewReader(line[len(prefix):]))
		d.DisallowUnknownFields()
		d.UseNumber()
		msg := CompletionStreamChunkResponse{}
		if err = d.Decode(&msg); err != nil {
			return fmt.Errorf("failed to decode llama server response %q: %w", string(line), err)
		}
		out <- msg
		if msg.Stop {
			return nil
		}
	}
}

// https://github.com/ggml-org/llama.cpp/blob/master/examples/server/README.md#post-tokenize-convert-text-to-tokens
type tokenizeRequest struct {
	Content    string `json:"content"`
	AddSpecial bool   `json:"add_special,omitempty"`
	WithPieces bool   `json:"with_pieces,omitempty"`
}

type tokenizeResponse struct {
	Tokens []int64 `json:"tokens"`
}

type detokenizeRequest struct {
	Tokens []int64 `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

// Tokenize converts text into vocabulary token ids, optionally prefixing a
// beginning-of-text marker.
func (c *Client) Tokenize(ctx context.Context, text string, addSpecial bool) ([]int64, error) {
	in := tokenizeRequest{Content: text, AddSpecial: addSpecial}
	out := tokenizeResponse{}
	if err := c.post(ctx, c.BaseURL+"/tokenize", &in, &out); err != nil {
		return nil, fmt.Errorf("failed to tokenize: %w", err)
	}
	return out.Tokens, nil
}

// Detokenize decodes a sequence of vocabulary ids back to text.
func (c *Client) Detokenize(ctx context.Context, tokens []int64) (string, error) {
	in := detokenizeRequest{Tokens: tokens}
	out := detokenizeResponse{}
	if err := c.post(ctx, c.BaseURL+"/detokenize", &in, &out); err != nil {
		return "", fmt.Errorf("failed to detokenize: %w", err)
	}
	return out.Content, nil
}

func (c *Client) GetHealth(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// llama.cpp doesn't HTTP POST support compression.
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get health response: %w", err)
	}
	d := json.NewDecoder(resp.Body)
	d.DisallowUnknownFields()
	msg := healthResponse{}
	err = d.Decode(&msg)
	_ = resp.Body.Close()
	if err != nil {
		return msg.Status, fmt.Errorf("failed to decode health response: %w", err)
	}
	return msg.Status, nil
}

// TokenPerformance is the performance for the metrics
type TokenPerformance struct {
	Count    int
	Duration time.Duration
}

// Rate is the number of token per second.
func (t *TokenPerformance) Rate() float64 {
	if t.Duration == 0 {
		return 0
	}
	return float64(t.Count) / (float64(t.Duration) / float64(time.Second))
}

// Metrics represents the metrics for the LLM server.
type Metrics struct {
	Prompt             TokenPerformance
	Generated          TokenPerformance
	KVCacheUsage       float64
	KVCacheTokens      int
	RequestsProcessing int
	RequestedPending   int
}

// GetMetrics retrieves the performance statistics from the server.
func (c *Client) GetMetrics(ctx context.Context, m *Metrics) error {
	// TODO: Generalize.
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/metrics", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	// llama.cpp doesn't HTTP POST support compression.
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to get metrics response: %w", err)
	}
	b, err := io.ReadAll(resp.Body)
	if err2 := resp.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("failed to get metrics response: %w", err)
	}
	// We hardcode things here since we know which server we are talking to. See
	// the commit history if you want the generic prometheus style data.
	for l := range strings.SplitSeq(strings.TrimSpace(string(b)), "\n") {
		if strings.HasPrefix(l, "#") {
			continue
		}
		parts := strings.Split(l, " ")
		if len(parts) != 2 {
			return fmt.Errorf("failed to parse line %q: %w", l, err)
		}
		// Search for these strings in
		// https://github.com/ggerganov/llama.cpp/blob/master/examples/server/server.cpp
		f := 0.0
		if parts[1] == "nan" || parts[1] == "-nan" {
			f = math.NaN()
		} else {
			if f, err = strconv.ParseFloat(parts[1], 64); err != nil {
				return fmt.Errorf("failed to parse line %q: %w", l, err)
			}
		}
		i, _ := strconv.Atoi(parts[1])
		switch parts[0] {
		case "llamacpp:prompt_tokens_total":
			m.Prompt.Count = i
		case "llamacpp:prompt_seconds_total":
			m.Prompt.Duration = time.Duration(f*1000) * time.Millisecond
		case "llamacpp:tokens_predicted_total":
			m.Generated.Count = i
		case "llamacpp:tokens_predicted_seconds_total":
			m.Generated.Duration = time.Duration(f*1000) * time.Millisecond
		case "llamacpp:prompt_tokens_seconds", "llamacpp:predicted_tokens_seconds":
			// Ignore.
		case "llamacpp:kv_cache_usage_ratio":
			m.KVCacheUsage = f
		case "llamacpp:kv_cache_tokens":
			m.KVCacheTokens = i
		case "llamacpp:requests_processing":
			m.RequestsProcessing = i
		case "llamacpp:requests_deferred":
			m.RequestedPending = i
		case "llamacpp:n_decode_total":
		case "llamacpp:n_busy_slots_per_decode":
		default:
			return fmt.Errorf("unknown metric %q", l)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	// llama.cpp doesn't HTTP POST support compression.
	resp, err := c.HTTP.PostRequest(ctx, url, nil, in)
	if err != nil {
		return err
	}
	er := errorResponse{}
	switch i, err := httpjson.DecodeResponse(resp, out, &er); i {
	case 0:
		return nil
	case 1:
		var herr *httpjson.Error
		if errors.As(err, &herr) {
			return fmt.Errorf("%w: error %d (%s): %s", herr, er.Error.Code, er.Error.Type, er.Error.Message)
		}
		return fmt.Errorf("error %d (%s): %s", er.Error.Code, er.Error.Type, er.Error.Message)
	default:
		var herr *httpjson.Error
		if errors.As(err, &herr) {
			slog.WarnContext(ctx, "llamacpp", "url", url, "err", err, "response", string(herr.ResponseBody), "status", herr.StatusCode)
		} else {
			slog.WarnContext(ctx, "llamacpp", "url", url, "err", err)
		}
		return err
	}
}
