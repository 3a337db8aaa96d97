// Package session implements the Session Runner (spec.md §4.15): it
// drives one conversation with an external assistant, routing every
// tool-use call through Risk Classifier → Autonomy Manager →
// Escalation Engine (optional Human Injection) before dispatch, and
// records every outcome to Observability, Tiered Memory, and the
// Autonomy Manager.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arcadiaforge/arcadiaforge/internal/assistant"
	"github.com/arcadiaforge/arcadiaforge/internal/autonomy"
	"github.com/arcadiaforge/arcadiaforge/internal/escalation"
	"github.com/arcadiaforge/arcadiaforge/internal/event"
	"github.com/arcadiaforge/arcadiaforge/internal/feature"
	"github.com/arcadiaforge/arcadiaforge/internal/injection"
	"github.com/arcadiaforge/arcadiaforge/internal/memory"
	"github.com/arcadiaforge/arcadiaforge/internal/risk"
)

// ToolExecutor runs one tool call by name and returns its opaque
// result content, whether the tool itself reported failure, and any
// dispatch-level error (the tool couldn't be invoked at all).
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input map[string]any) (content string, isError bool, err error)
}

// Status is the terminal classification of one session turn
// (spec.md §7's error taxonomy plus the normal completion/continue paths).
type Status string

const (
	StatusComplete     Status = "complete"
	StatusAuthError    Status = "auth_error"
	StatusIntervention Status = "intervention"
	StatusContinue     Status = "continue"
	StatusError        Status = "error"
)

// Result is everything the Orchestrator needs out of one session run.
type Result struct {
	Status          Status
	ResponseText    string
	ErrorTexts      []string
	BlockedCommands []string
	Reason          string
	ToolCalls       int
	ToolErrors      int
	ToolBlocked     int
}

// Config bounds and parameterizes one session run.
type Config struct {
	SessionID int64
	Model     string
	System    string
	MaxTurns  int
	MaxTokens int
	Tools     []assistant.ToolSpec
}

// Runner wires the assistant client to the gating pipeline. Injection,
// Hot, and Bus are optional: a nil Injection skips the human round-trip
// (an unapproved action is simply blocked); a nil Hot skips Hot Memory
// updates; a nil Bus uses the package-level global event bus. Every
// tool call and outcome is published to that bus; wiring an
// observability.Recorder to the same bus is how those events end up
// durably recorded, so Runner itself holds no direct reference to one.
type Runner struct {
	Client     assistant.Client
	Risk       *risk.Classifier
	Autonomy   *autonomy.Manager
	Escalation *escalation.Engine
	Injection  *injection.Interface
	Hot        *memory.Hot
	Tools      ToolExecutor
	Bus        *event.Bus

	// Features backs the completion heuristic: a claim of completion in
	// the assistant's text is only honored when it re-reads as
	// Passing == Total > 0 at the moment the stream ends, never from a
	// count cached earlier in the conversation. Nil treats every
	// completion claim as unconfirmed (returns StatusContinue).
	Features *feature.Store

	// InjectionPollInterval governs how often Resolve re-checks a
	// pending human injection point. Defaults to one second.
	InjectionPollInterval time.Duration
}

// completionMarkers are substrings in assistant text that the runner
// treats as an explicit claim of session completion.
var completionMarkers = []string{"SESSION COMPLETE", "ALL FEATURES COMPLETE", "TASK COMPLETE"}

// interventionPattern matches the assistant asking for human input
// directly in its text rather than via a tool call.
var interventionPattern = regexp.MustCompile(`(?i)(need(?:s)? (?:human|your) (?:input|guidance|approval)|please (?:confirm|advise)|waiting for (?:human|approval))`)

// blockedMarkers are the substring heuristics spec.md §4.15 specifies
// for classifying tool-result content as a security refusal.
var blockedMarkers = []string{"blocked", "not allowed", "permission denied", "access denied"}

// classifyCompletion implements spec.md §4.15's completion detection: a
// completion claim in the assistant's own text is honored only when the
// Feature Store, re-read at this moment (never from a count cached
// earlier in the stream), reports every known feature passing. A claim
// with no Feature Store wired, or one that doesn't hold up, is a
// mismatched claim and yields StatusContinue.
func (r *Runner) classifyCompletion(ctx context.Context, text string) Status {
	if !containsCompletionMarker(text) {
		return StatusContinue
	}
	if r.Features == nil {
		return StatusContinue
	}
	stats, err := r.Features.Stats(ctx)
	if err != nil || stats.Total == 0 || stats.Passing != stats.Total {
		return StatusContinue
	}
	return StatusComplete
}

func containsCompletionMarker(text string) bool {
	upper := strings.ToUpper(text)
	for _, m := range completionMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

func classifyOutcome(content string, isError bool) event.ToolResultOutcome {
	lower := strings.ToLower(content)
	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return event.ToolOutcomeBlocked
		}
	}
	if isError {
		return event.ToolOutcomeError
	}
	return event.ToolOutcomeOK
}

func summarizeCall(tu assistant.ToolUse) string {
	if cmd, ok := tu.Input["command"].(string); ok && cmd != "" {
		return fmt.Sprintf("%s: %s", tu.Name, cmd)
	}
	return tu.Name
}

// Run drives the conversation forward one or more turns, gating and
// dispatching every tool-use call the assistant emits, until it
// either stops calling tools, claims completion, asks for a human, or
// a fatal classification (auth/stream error) is reached. It returns
// the updated conversation history alongside the Result so the caller
// can persist it for the next session.
func (r *Runner) Run(ctx context.Context, cfg Config, history []assistant.Message) (Result, []assistant.Message, error) {
	result := Result{Status: StatusContinue}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}

	for turn := 0; turn < maxTurns; turn++ {
		req := assistant.Request{
			Model:     cfg.Model,
			System:    cfg.System,
			Messages:  history,
			Tools:     cfg.Tools,
			MaxTokens: cfg.MaxTokens,
		}

		stream, err := r.streamWithRetry(ctx, req)
		if err != nil {
			if assistant.IsAuthError(err) {
				result.Status = StatusAuthError
				result.Reason = err.Error()
				return result, history, nil
			}
			result.Status = StatusError
			result.ErrorTexts = append(result.ErrorTexts, err.Error())
			r.publishError(cfg.SessionID, err.Error(), "assistant_stream")
			return result, history, nil
		}

		assistantMsg := assistant.Message{Role: assistant.RoleAssistant}
		var toolResults []assistant.ToolResult
		toolCallsThisTurn := 0

		for stream.Next() {
			ev := stream.Event()
			switch ev.Kind {
			case assistant.EventText:
				assistantMsg.Text += ev.Text
				result.ResponseText += ev.Text
			case assistant.EventToolUse:
				if ev.ToolUse.ID == "" {
					ev.ToolUse.ID = fmt.Sprintf("call-%d-%d", turn, toolCallsThisTurn)
				}
				toolCallsThisTurn++
				assistantMsg.ToolUses = append(assistantMsg.ToolUses, ev.ToolUse)
				r.publishToolCall(cfg.SessionID, ev.ToolUse)
				toolResults = append(toolResults, r.dispatch(ctx, cfg.SessionID, ev.ToolUse, &result))
			case assistant.EventUsage:
				r.publishUsage(cfg.SessionID, ev.Usage)
			}
		}
		streamErr := stream.Err()
		_ = stream.Close()
		if streamErr != nil {
			result.Status = StatusError
			result.ErrorTexts = append(result.ErrorTexts, streamErr.Error())
			r.publishError(cfg.SessionID, streamErr.Error(), "assistant_stream")
			return result, history, nil
		}

		history = append(history, assistantMsg)

		if interventionPattern.MatchString(assistantMsg.Text) {
			result.Status = StatusIntervention
			result.Reason = "assistant requested human input"
			return result, history, nil
		}
		if len(toolResults) == 0 {
			result.Status = r.classifyCompletion(ctx, assistantMsg.Text)
			if result.Status == StatusContinue {
				result.Reason = "assistant yielded control without a confirmed completion"
			}
			return result, history, nil
		}

		history = append(history, assistant.Message{Role: assistant.RoleUser, ToolResults: toolResults})
	}

	result.Status = StatusContinue
	result.Reason = "max turns reached without completion"
	return result, history, nil
}

// streamWithRetry mirrors the teacher's retry shape for transient
// assistant-stream failures: bounded exponential backoff, three
// retries, no retry at all for auth errors (those are terminal).
func (r *Runner) streamWithRetry(ctx context.Context, req assistant.Request) (assistant.Stream, error) {
	var stream assistant.Stream
	policy := backoff.WithContext(newRetryBackoff(), ctx)
	err := backoff.Retry(func() error {
		s, err := r.Client.Stream(ctx, req)
		if err != nil {
			if assistant.IsAuthError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		stream = s
		return nil
	}, policy)
	return stream, err
}

func newRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	return backoff.WithMaxRetries(b, 3)
}

func (r *Runner) pollInterval() time.Duration {
	if r.InjectionPollInterval > 0 {
		return r.InjectionPollInterval
	}
	return time.Second
}

func (r *Runner) publish(e event.Event) {
	if r.Bus != nil {
		r.Bus.Publish(e)
	} else {
		event.Publish(e)
	}
}

func (r *Runner) sessionTag(sessionID int64) string {
	return fmt.Sprintf("session-%d", sessionID)
}

func (r *Runner) publishToolCall(sessionID int64, tu assistant.ToolUse) {
	tag := r.sessionTag(sessionID)
	r.publish(event.Event{
		Type: event.ToolCall, SessionID: tag, Seq: event.NextSeq(tag), Time: time.Now(),
		Data: event.ToolCallData{SessionID: tag, ToolID: tu.ID, Name: tu.Name, Input: tu.Input},
	})
}

func (r *Runner) publishToolResult(sessionID int64, tu assistant.ToolUse, outcome event.ToolResultOutcome, duration time.Duration, detail string) {
	tag := r.sessionTag(sessionID)
	r.publish(event.Event{
		Type: event.ToolResult, SessionID: tag, Seq: event.NextSeq(tag), Time: time.Now(),
		Data: event.ToolResultData{SessionID: tag, ToolID: tu.ID, Name: tu.Name, Outcome: outcome, Duration: duration, Detail: detail},
	})
}

func (r *Runner) publishUsage(sessionID int64, u assistant.Usage) {
	tag := r.sessionTag(sessionID)
	r.publish(event.Event{
		Type: event.UsageReport, SessionID: tag, Seq: event.NextSeq(tag), Time: time.Now(),
		Data: event.UsageReportData{SessionID: tag, TokensIn: u.InputTokens, TokensOut: u.OutputTokens},
	})
}

func (r *Runner) publishError(sessionID int64, message, source string) {
	tag := r.sessionTag(sessionID)
	r.publish(event.Event{
		Type: event.Error, SessionID: tag, Seq: event.NextSeq(tag), Time: time.Now(),
		Data: event.ErrorData{SessionID: tag, Message: message, Source: source},
	})
}

// dispatch routes one tool-use call through Risk Classifier, Autonomy
// Manager, and (when still unapproved) the Escalation Engine and
// Human Injection before either blocking or executing it.
func (r *Runner) dispatch(ctx context.Context, sessionID int64, tu assistant.ToolUse, result *Result) assistant.ToolResult {
	start := time.Now()

	assessment, err := r.Risk.Assess(ctx, tu.Name, tu.Input)
	if err != nil {
		return r.blockedResult(sessionID, tu, start, fmt.Sprintf("risk assessment failed: %v", err))
	}

	confidence := 1.0
	decision, err := r.Autonomy.CheckAction(ctx, tu.Name, tu.Input, &confidence)
	if err != nil {
		return r.blockedResult(sessionID, tu, start, fmt.Sprintf("autonomy check failed: %v", err))
	}

	approved := decision.Allowed && !assessment.RequiresApproval
	denyReason := decision.Reason
	if !approved {
		approved, denyReason = r.escalate(ctx, sessionID, tu, assessment, decision)
	}

	if !approved {
		result.BlockedCommands = append(result.BlockedCommands, summarizeCall(tu))
		result.ToolBlocked++
		_, _ = r.Autonomy.RecordOutcome(ctx, false)
		duration := time.Since(start)
		r.publishToolResult(sessionID, tu, event.ToolOutcomeBlocked, duration, denyReason)
		return assistant.ToolResult{ToolUseID: tu.ID, Content: "blocked: " + denyReason, IsError: true}
	}

	content, isError, execErr := r.Tools.Execute(ctx, tu.Name, tu.Input)
	if execErr != nil {
		content, isError = execErr.Error(), true
	}
	duration := time.Since(start)

	outcome := classifyOutcome(content, isError)
	_, _ = r.Autonomy.RecordOutcome(ctx, outcome == event.ToolOutcomeOK)
	r.publishToolResult(sessionID, tu, outcome, duration, content)

	result.ToolCalls++
	switch outcome {
	case event.ToolOutcomeError:
		result.ToolErrors++
		result.ErrorTexts = append(result.ErrorTexts, content)
		if r.Hot != nil {
			_, _ = r.Hot.AddError(ctx, "tool_error", content, map[string]any{"tool": tu.Name}, nil)
		}
	case event.ToolOutcomeBlocked:
		result.ToolBlocked++
		result.BlockedCommands = append(result.BlockedCommands, summarizeCall(tu))
	}
	if r.Hot != nil {
		_ = r.Hot.AddAction(ctx, summarizeCall(tu), string(outcome), tu.Name)
	}

	return assistant.ToolResult{ToolUseID: tu.ID, Content: content, IsError: isError}
}

// escalate is reached only once Risk/Autonomy have already refused an
// action outright. It asks the Escalation Engine to classify the
// situation and, when Injection is wired, blocks on a human approval
// round-trip; the human's response of "approve" (case-insensitively)
// is the only way to flip approved back to true. With no Injection
// wired, or on timeout, the action stays blocked.
func (r *Runner) escalate(ctx context.Context, sessionID int64, tu assistant.ToolUse, assessment risk.Assessment, decision autonomy.Decision) (approved bool, reason string) {
	reason = decision.Reason

	if r.Escalation != nil {
		escCtx := escalation.DefaultContext()
		escCtx.Action = tu.Name
		escCtx.IsIrreversible = !assessment.IsReversible
		escCtx.AffectsSourceOfTruth = assessment.AffectsSourceOfTruth
		escCtx.DecisionType = "tool_approval"
		if top, err := r.Escalation.EvaluateTop(ctx, escCtx); err == nil && top != nil {
			reason = top.Message
		}
	}

	if r.Injection == nil {
		return false, reason
	}

	point, err := r.Injection.Create(ctx, injection.Request{
		Type:             injection.TypeApproval,
		Context:          map[string]any{"tool": tu.Name, "input": tu.Input},
		Options:          []string{"approve", "deny"},
		Recommendation:   "deny",
		TimeoutSeconds:   120,
		DefaultOnTimeout: "deny",
		Message:          assessment.Format(),
	})
	if err != nil {
		return false, reason
	}

	outcome, err := r.Injection.Resolve(ctx, point.PointID, r.pollInterval())
	if err != nil {
		return false, reason
	}
	return strings.EqualFold(strings.TrimSpace(outcome.Response), "approve"), reason
}

func (r *Runner) blockedResult(sessionID int64, tu assistant.ToolUse, start time.Time, reason string) assistant.ToolResult {
	r.publishToolResult(sessionID, tu, event.ToolOutcomeBlocked, time.Since(start), reason)
	return assistant.ToolResult{ToolUseID: tu.ID, Content: "blocked: " + reason, IsError: true}
}
