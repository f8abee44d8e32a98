// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package session implements the per-request inference session loop:
// prompt assembly, an optional unbiased warm-up, and the biased/unbiased
// token generation loop that streams decoded text pieces to a callback.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poly-run/llmd/backend"
	"github.com/poly-run/llmd/bias"
	"github.com/poly-run/llmd/modelhost"
	"github.com/poly-run/llmd/schema"
	"github.com/poly-run/llmd/stopseq"
	"gopkg.in/yaml.v3"
)

// Session is exclusive to one in-flight request; never shared across
// goroutines. Created by Start, mutated only by Complete, and must be
// closed when the request ends.
type Session struct {
	backend     *backend.Backend
	taskName    string
	task        *backend.TaskConfig
	model       modelhost.Model
	modelConfig *backend.ModelConfig
	host        modelhost.Session
}

// Start creates a new session for taskName against b, feeding the task's
// prelude (from the backend's prelude-snapshot cache, restoring it into the
// freshly started host session) if one is configured. Start blocks until an
// admission slot is available under b's concurrency cap; the slot is held
// for the session's lifetime and released by Close.
func Start(ctx context.Context, b *backend.Backend, taskName string) (*Session, error) {
	task, err := b.Task(taskName)
	if err != nil {
		return nil, err
	}
	if err := b.Acquire(ctx); err != nil {
		return nil, err
	}

	model, err := b.Model(task.Model)
	if err != nil {
		b.Release()
		return nil, err
	}
	mc := b.Config.Models[task.Model]
	host, err := model.StartSession(ctx, mc.ContextSize)
	if err != nil {
		b.Release()
		return nil, &backend.InferenceError{Msg: err.Error()}
	}

	if snap, err := b.Prelude(ctx, taskName); err != nil {
		_ = host.Close()
		b.Release()
		return nil, err
	} else if snap != nil {
		if err := host.Restore(snap); err != nil {
			_ = host.Close()
			b.Release()
			return nil, &backend.InferenceError{Msg: err.Error()}
		}
	}

	s := &Session{backend: b, taskName: taskName, task: task, model: model, modelConfig: mc, host: host}
	return s, nil
}

// Close releases the underlying host session's resources and frees this
// session's admission slot.
func (s *Session) Close() error {
	err := s.host.Close()
	s.backend.Release()
	return err
}

// Feedback directs the biased generation loop after a callback invocation.
type Feedback int

const (
	Continue Feedback = iota
	Halt
)

// Event is the only event kind forwarded to Complete's callback; prompt and
// snapshot tokens are discarded internally.
type Event struct {
	Text string
}

// Complete runs one completion against prompt, invoking callback for every
// decoded text piece. Stats are folded into the backend's per-task
// aggregator before returning, scaled by the model's configured
// threads-per-session (spec.md's thread-time accounting).
func (s *Session) Complete(ctx context.Context, prompt string, callback func(Event) Feedback) (backend.InferenceStats, error) {
	var stats backend.InferenceStats
	var response strings.Builder

	tokenizer := s.model.Tokenizer()
	_, hasBOT := s.model.BOTTokenID()
	// bos is only ever true for the first tokens ever fed into this
	// session's host: after a restored prelude, or after any earlier
	// Complete call on the same *Session (a multi-turn chat), the host's
	// KV cache is no longer empty and no further BOS may be inserted.
	bos := hasBOT && s.host.Empty()

	var tokens []int

	if s.task.Memorization != nil && s.task.Memorization.Retrieve != nil && *s.task.Memorization.Retrieve > 0 {
		recalled, err := s.backend.Recall(ctx, s.task.Memorization.Memory, prompt, *s.task.Memorization.Retrieve)
		if err != nil {
			return stats, err
		}
		if joined := strings.Join(recalled, "\n"); joined != "" {
			ids, err := tokenizer.Tokenize(ctx, joined, bos && len(tokens) == 0)
			if err != nil {
				return stats, &backend.TokenizationError{Err: err}
			}
			tokens = append(tokens, ids...)
		}
	}

	if s.task.Prefix != "" {
		ids, err := tokenizer.Tokenize(ctx, s.task.Prefix, bos && len(tokens) == 0)
		if err != nil {
			return stats, &backend.TokenizationError{Err: err}
		}
		tokens = append(tokens, ids...)
	}

	userTokens, err := tokenizer.Tokenize(ctx, prompt, bos && len(tokens) == 0)
	if err != nil {
		return stats, &backend.TokenizationError{Err: err}
	}
	privateIDs, err := privateTokenIDs(ctx, tokenizer, s.task.PrivateTokens)
	if err != nil {
		return stats, err
	}
	if containsAny(userTokens, privateIDs) {
		return stats, &backend.IllegalTokenError{}
	}
	tokens = append(tokens, userTokens...)

	if s.task.Postfix != "" {
		ids, err := tokenizer.Tokenize(ctx, s.task.Postfix, bos && len(tokens) == 0)
		if err != nil {
			return stats, &backend.TokenizationError{Err: err}
		}
		tokens = append(tokens, ids...)
	}

	start := time.Now()
	if err := s.host.FeedPrompt(ctx, tokens); err != nil {
		return stats, &backend.InferenceError{Msg: err.Error()}
	}
	stats.Add(backend.InferenceStats{FeedPromptDuration: time.Since(start), PromptTokens: len(tokens)})

	// Optional unbiased warm-up: let the model free-run, discard the text,
	// then feed the bias prompt as a hard transition into the biased phase.
	if s.task.BiasPrompt != "" {
		maxTokens := -1
		if s.task.MaxTokens != nil {
			maxTokens = *s.task.MaxTokens
		}
		generated := 0
		for maxTokens < 0 || generated < maxTokens {
			start := time.Now()
			id, outcome, err := s.host.InferNextToken(ctx, s.samplingParams(), nil)
			stats.Add(backend.InferenceStats{PredictDuration: time.Since(start), PredictTokens: 1})
			if outcome == modelhost.InferEndOfText {
				break
			}
			if outcome == modelhost.InferContextFull {
				slog.WarnContext(ctx, "session", "msg", "context full during warm-up", "task", s.taskName)
				break
			}
			if err != nil || outcome == modelhost.InferOther {
				slog.ErrorContext(ctx, "session", "msg", "inference error during warm-up", "err", err, "task", s.taskName)
				break
			}
			_ = id
			generated++
		}

		slog.InfoContext(ctx, "session", "msg", "feeding bias prompt", "task", s.taskName)
		biasIDs, err := tokenizer.Tokenize(ctx, s.task.BiasPrompt, false)
		if err != nil {
			return stats, &backend.TokenizationError{Err: err}
		}
		start := time.Now()
		if err := s.host.FeedPrompt(ctx, biasIDs); err != nil {
			return stats, &backend.InferenceError{Msg: err.Error()}
		}
		stats.Add(backend.InferenceStats{FeedPromptDuration: time.Since(start), PromptTokens: len(biasIDs)})
	}

	biaser, err := s.newBiaser()
	if err != nil {
		return stats, err
	}

	var stopSet *stopseq.Set
	if len(s.task.StopSequences) > 0 && s.task.Biaser == nil {
		stopSet = stopseq.NewSet(s.task.StopSequences)
	} else if len(s.task.StopSequences) > 0 {
		slog.WarnContext(ctx, "session", "msg", "a biaser is configured, stop sequences are ignored", "task", s.taskName)
	}

	buf := &modelhost.TokenUTF8Buffer{}
	eotID := s.model.EOTTokenID()
	biasTok := modelhost.AsBiasTokenizer(ctx, tokenizer)
	tokensGenerated := 0

	for {
		var candidates []bias.TokenBias
		if biaser != nil {
			candidates, err = bias.Bias(biaser, biasTok, eotID)
			if err != nil {
				return stats, &backend.InferenceError{Msg: err.Error()}
			}
			candidates = withoutIDs(candidates, privateIDs)
		}

		var outID int
		var outcome modelhost.InferOutcome
		if len(candidates) == 1 && candidates[0].Bias > 0 {
			outID = candidates[0].ID
			if outID != eotID {
				start := time.Now()
				if err := s.host.FeedPrompt(ctx, []int{outID}); err != nil {
					return stats, &backend.InferenceError{Msg: err.Error()}
				}
				stats.Add(backend.InferenceStats{FeedPromptDuration: time.Since(start), PromptTokens: 1})
			}
			outcome = modelhost.InferredToken
			if outID == eotID {
				outcome = modelhost.InferEndOfText
			}
		} else {
			start := time.Now()
			outID, outcome, err = s.host.InferNextToken(ctx, s.samplingParams(), candidates)
			stats.Add(backend.InferenceStats{PredictDuration: time.Since(start), PredictTokens: 1})
			if outcome == modelhost.InferOther && err != nil {
				slog.ErrorContext(ctx, "session", "msg", "inference error", "err", err, "task", s.taskName)
				break
			}
		}

		tokensGenerated++

		if outcome == modelhost.InferEndOfText || outID == eotID {
			break
		}
		if outcome == modelhost.InferContextFull {
			slog.WarnContext(ctx, "session", "msg", "ending generation because context is full", "task", s.taskName)
			break
		}

		if biaser != nil {
			if err := advanceBiaser(biaser, tokenizer, outID); err != nil {
				return stats, &backend.InferenceError{Msg: err.Error()}
			}
		}

		if piece := buf.Push([]byte(tokenizer.Token(outID))); piece != "" {
			if stopSet != nil && stopSet.Advance(piece) {
				slog.DebugContext(ctx, "session", "msg", "stop sequence encountered", "task", s.taskName)
				break
			}
			if !containsString(s.task.PrivateTokens, piece) {
				response.WriteString(piece)
				if callback(Event{Text: piece}) == Halt {
					break
				}
			}
		}

		if biaser == nil && s.task.MaxTokens != nil && tokensGenerated >= *s.task.MaxTokens {
			break
		}
	}

	s.backend.Stats.Add(s.taskName, stats, s.modelConfig.ThreadsPerSession)

	if m := s.task.Memorization; m != nil && m.StorePrompts {
		if err := s.backend.Memorize(ctx, m.Memory, prompt); err != nil {
			return stats, err
		}
		if text := response.String(); text != "" {
			if err := s.backend.Memorize(ctx, m.Memory, text); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}

// samplingParams builds this step's sampler configuration from the task's
// sampler block.
func (s *Session) samplingParams() modelhost.SamplingParams {
	sampler := s.task.Sampler
	if len(sampler.Advanced.Samplers) > 0 {
		return modelhost.SamplingParams{SamplerChain: sampler.Advanced.Samplers}
	}
	return modelhost.SamplingParams{
		TopK:                   sampler.Standard.TopK,
		TopP:                   sampler.Standard.TopP,
		RepeatPenalty:          sampler.Standard.RepeatPenalty,
		Temperature:            sampler.Standard.Temperature,
		RepetitionPenaltyLastN: sampler.Standard.RepetitionPenaltyLastN,
	}
}

// newBiaser constructs the task's configured schema biaser, or nil if the
// task has none (equivalent to the original's NullBiaser: the loop then
// falls back to unbiased sampling bounded by max_tokens).
func (s *Session) newBiaser() (*schema.Biaser, error) {
	if s.task.Biaser == nil {
		return nil, nil
	}
	sc := s.task.Biaser.JSONSchema
	if sc == nil {
		raw, err := os.ReadFile(s.task.Biaser.JSONSchemaFile)
		if err != nil {
			return nil, &backend.InferenceError{Msg: fmt.Sprintf("session: task %q: %v", s.taskName, err)}
		}
		sc = &schema.Schema{}
		if err := yaml.Unmarshal(raw, sc); err != nil {
			return nil, &backend.InferenceError{Msg: fmt.Sprintf("session: task %q: json_schema_file: %v", s.taskName, err)}
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, &backend.InferenceError{Msg: err.Error()}
	}
	return schema.New(sc), nil
}

// advanceBiaser converts id's decoded text into the abstract token the
// schema state machine expects and advances it. Only single-character
// structural tokens, literal keywords, and digits need conversion here:
// the biaser itself tracks string/enum/key completion state and accepts
// whatever text the sampler actually produced for those, via Advance's
// fragment-accumulation path.
func advanceBiaser(b *schema.Biaser, tok modelhost.Tokenizer, id int) error {
	text := tok.Token(id)
	t, ok := schema.FromText(text)
	if !ok {
		return fmt.Errorf("session: token %q cannot be interpreted by the schema state machine", text)
	}
	return b.Advance(t)
}

func privateTokenIDs(ctx context.Context, tok modelhost.Tokenizer, literals []string) ([]int, error) {
	if len(literals) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(literals))
	for _, lit := range literals {
		toks, err := tok.Tokenize(ctx, lit, false)
		if err != nil {
			return nil, &backend.TokenizationError{Err: err}
		}
		if len(toks) != 1 {
			return nil, fmt.Errorf("session: private token %q does not tokenize to exactly one id", lit)
		}
		ids = append(ids, toks[0])
	}
	return ids, nil
}

func containsAny(ids, set []int) bool {
	if len(set) == 0 {
		return false
	}
	m := make(map[int]struct{}, len(set))
	for _, id := range set {
		m[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := m[id]; ok {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func withoutIDs(in []bias.TokenBias, drop []int) []bias.TokenBias {
	if len(drop) == 0 {
		return in
	}
	m := make(map[int]struct{}, len(drop))
	for _, id := range drop {
		m[id] = struct{}{}
	}
	out := in[:0]
	for _, tb := range in {
		if _, ok := m[tb.ID]; !ok {
			out = append(out, tb)
		}
	}
	return out
}
