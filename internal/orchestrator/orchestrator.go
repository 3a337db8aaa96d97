// Package orchestrator implements the Orchestrator (spec.md §4.16): the
// outer loop that starts a Session row, picks a session type, invokes the
// Session Runner, and dispatches on the result — looping until a terminal
// condition (completion, auth failure, intervention, cyclic/no-progress
// stall, budget exhaustion, or three consecutive session exceptions) is
// reached, or a pause is requested.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/arcadiaforge/arcadiaforge/internal/assistant"
	"github.com/arcadiaforge/arcadiaforge/internal/autonomy"
	"github.com/arcadiaforge/arcadiaforge/internal/checkpoint"
	"github.com/arcadiaforge/arcadiaforge/internal/escalation"
	"github.com/arcadiaforge/arcadiaforge/internal/event"
	"github.com/arcadiaforge/arcadiaforge/internal/feature"
	"github.com/arcadiaforge/arcadiaforge/internal/injection"
	"github.com/arcadiaforge/arcadiaforge/internal/memory"
	"github.com/arcadiaforge/arcadiaforge/internal/observability"
	"github.com/arcadiaforge/arcadiaforge/internal/risk"
	"github.com/arcadiaforge/arcadiaforge/internal/session"
	"github.com/arcadiaforge/arcadiaforge/internal/stall"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
	"github.com/arcadiaforge/arcadiaforge/internal/vcs"
)

// SessionType names the prompt template and workspace setup a session run
// uses (spec.md §4.16 step 2).
type SessionType string

const (
	TypeInitializer SessionType = "initializer"
	TypeUpdate      SessionType = "update"
	TypeCoding      SessionType = "coding"
	TypeAudit       SessionType = "audit"
)

// AutoContinueDelay is the inter-session pause between a "continue"
// session result and starting the next session.
const AutoContinueDelay = 3 * time.Second

// Config bounds and parameterizes the outer loop.
type Config struct {
	Model                    string
	MaxIterations            int
	BudgetCeilingUSD         float64
	WarningThresholdFraction float64
	MaxNoProgressIterations  int
	AutonomyLevel            autonomy.Level
	Tools                    []assistant.ToolSpec

	// NewRequirementsText, when non-empty, selects session type "update"
	// once features already exist; on an empty project it is rejected by
	// the first-run guard (spec.md §4.16.1).
	NewRequirementsText string
}

// Prompter builds the system/user prompt for a session type. The
// Orchestrator owns no opinion on prompt wording; it is supplied by the
// caller (the per-project template set lives outside this package).
type Prompter interface {
	Prompt(ctx context.Context, sessionType SessionType, auditFeatures []int) (system, user string, err error)
}

// FinalStatus is the terminal classification of a full orchestrator run.
type FinalStatus string

const (
	FinalComplete    FinalStatus = "complete"
	FinalAuthError   FinalStatus = "auth_error"
	FinalIntervention FinalStatus = "intervention"
	FinalCyclic      FinalStatus = "cyclic"
	FinalNoProgress  FinalStatus = "no_progress"
	FinalBudget      FinalStatus = "budget_exceeded"
	FinalFailed      FinalStatus = "failed"
	FinalPaused      FinalStatus = "paused"
)

// RunResult summarizes why a Run call returned.
type RunResult struct {
	Status     FinalStatus
	Reason     string
	Iterations int
}

// Orchestrator wires every other component together and owns the outer
// loop. Observer is optional: a nil Observer disables budget checking
// (only MaxIterations bounds the loop).
type Orchestrator struct {
	DB           *store.Store
	Features     *feature.Store
	Checkpoints  *checkpoint.Manager
	StallMgr     *stall.Manager
	Observer     *observability.Recorder
	Bus          *event.Bus
	Client       assistant.Client
	Tools        session.ToolExecutor
	Prompts      Prompter
	ProjectDir   string
	Config       Config
	Rand         *rand.Rand

	lastAuditPassing      int
	consecutiveErrSessions int
	noProgressIterations   int

	pauseRequested atomic.Bool
	forceStop      atomic.Bool
}

// RequestPause sets the pause flag consulted at the top of the loop. A
// session already running is not interrupted, and Human Injection polling
// inside it does not consult the flag. A second call is a hard abort: the
// next check exits immediately without a clean checkpoint.
func (o *Orchestrator) RequestPause() {
	if o.pauseRequested.Load() {
		o.forceStop.Store(true)
		return
	}
	o.pauseRequested.Store(true)
}

func (o *Orchestrator) sessionTag(sessionID int64) string {
	return fmt.Sprintf("session-%d", sessionID)
}

func (o *Orchestrator) publish(e event.Event) {
	if o.Bus != nil {
		o.Bus.Publish(e)
	} else {
		event.Publish(e)
	}
}

// Run drives the outer loop until a terminal condition or a pause is
// reached.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	iteration := 0
	for {
		iteration++

		if o.forceStop.Load() {
			return RunResult{Status: FinalPaused, Reason: "force-stopped on second pause signal", Iterations: iteration - 1}, nil
		}
		if o.pauseRequested.Load() {
			return o.pause(ctx, iteration-1)
		}
		if o.Config.MaxIterations > 0 && iteration > o.Config.MaxIterations {
			return RunResult{Status: FinalNoProgress, Reason: "max iterations reached", Iterations: iteration - 1}, nil
		}

		sessionID, _, err := startSession(ctx, o.DB)
		if err != nil {
			return RunResult{}, fmt.Errorf("orchestrator: start session: %w", err)
		}

		stats, err := o.Features.Stats(ctx)
		if err != nil {
			return RunResult{}, fmt.Errorf("orchestrator: feature stats: %w", err)
		}
		gitInitialized := vcs.CurrentCommit(o.ProjectDir) != "unknown"

		sessionType, auditFeatures, err := o.pickSessionType(ctx, stats, gitInitialized)
		if err != nil {
			_ = endSession(ctx, o.DB, sessionID, "rejected", 0)
			return RunResult{Status: FinalFailed, Reason: err.Error(), Iterations: iteration - 1}, nil
		}

		o.StallMgr.SetSessionBaseline(sessionID, stats.Passing, vcs.CurrentCommit(o.ProjectDir))

		cp, err := o.Checkpoints.Create(ctx, checkpoint.TriggerSessionStart, sessionID, map[string]any{"session_type": string(sessionType)}, "", nil)
		if err != nil {
			return RunResult{}, fmt.Errorf("orchestrator: session_start checkpoint: %w", err)
		}
		o.publish(event.Event{Type: event.SessionStart, SessionID: o.sessionTag(sessionID), Time: time.Now(),
			Data: event.SessionStartData{SessionID: o.sessionTag(sessionID), Trigger: string(checkpoint.TriggerSessionStart),
				GitBranch: cp.GitBranch, GitCommit: cp.GitCommit, StartedAt: cp.Timestamp}})

		result, status, err := o.runSession(ctx, sessionID, sessionType, auditFeatures)
		if err != nil {
			return RunResult{}, err
		}

		switch status.final {
		case finalReturn:
			return status.result, nil
		case finalContinue:
			if status.result.Status == FinalPaused {
				return status.result, nil
			}
			time.Sleep(AutoContinueDelay)
			_ = result
			continue
		}
	}
}

// pause creates a human-request checkpoint and persists a PausedSession,
// then returns FinalPaused.
func (o *Orchestrator) pause(ctx context.Context, iterations int) (RunResult, error) {
	cp, err := o.Checkpoints.Create(ctx, checkpoint.TriggerHumanRequest, 0, nil, "paused by signal", nil)
	checkpointID := ""
	if err == nil {
		checkpointID = cp.ID
	}
	_ = persistPausedSession(ctx, o.DB, PausedSession{PausedAt: time.Now(), Reason: "pause signal", CheckpointID: checkpointID})
	return RunResult{Status: FinalPaused, Reason: "paused by signal", Iterations: iterations}, nil
}

// pickSessionType implements spec.md §4.16 step 2 and the first-run guard
// (§4.16.1): initializer when there are no features yet or VCS is
// uninitialized, update when new-requirements input exists and features
// already exist (rejected outright on an empty project), coding
// otherwise — with an audit interleaved once the cadence threshold is
// crossed.
func (o *Orchestrator) pickSessionType(ctx context.Context, stats feature.Stats, gitInitialized bool) (SessionType, []int, error) {
	empty := stats.Total == 0 || !gitInitialized

	if o.Config.NewRequirementsText != "" {
		if empty {
			return "", nil, fmt.Errorf("orchestrator: new requirements given on an empty project; run the initializer first")
		}
		return TypeUpdate, nil, nil
	}

	if empty {
		return TypeInitializer, nil, nil
	}

	if stats.Passing-o.lastAuditPassing >= AuditCadenceFeatures {
		candidates, err := auditCandidates(ctx, o.Features, o.Checkpoints, o.Rand)
		if err != nil {
			return "", nil, err
		}
		o.lastAuditPassing = stats.Passing
		return TypeAudit, candidates, nil
	}

	return TypeCoding, nil, nil
}

type loopStatus struct {
	final loopDisposition
	result RunResult
}

type loopDisposition int

const (
	finalContinue loopDisposition = iota
	finalReturn
)

// runSession constructs the session-scoped gating components, invokes the
// Session Runner, updates cross-session trackers, and dispatches on the
// result (spec.md §4.16 steps 3-7).
func (o *Orchestrator) runSession(ctx context.Context, sessionID int64, sessionType SessionType, auditFeatures []int) (session.Result, loopStatus, error) {
	rc, err := risk.New(ctx, o.DB, sessionID)
	if err != nil {
		return session.Result{}, loopStatus{}, fmt.Errorf("orchestrator: risk classifier: %w", err)
	}
	am, err := autonomy.New(ctx, o.DB, sessionID)
	if err != nil {
		return session.Result{}, loopStatus{}, fmt.Errorf("orchestrator: autonomy manager: %w", err)
	}
	if o.Config.AutonomyLevel != 0 {
		_ = am.SetLevel(ctx, o.Config.AutonomyLevel, "configured")
	}
	ee, err := escalation.New(ctx, o.DB, sessionID)
	if err != nil {
		return session.Result{}, loopStatus{}, fmt.Errorf("orchestrator: escalation engine: %w", err)
	}
	inj, err := injection.New(ctx, o.DB, sessionID)
	if err != nil {
		return session.Result{}, loopStatus{}, fmt.Errorf("orchestrator: injection interface: %w", err)
	}
	mem, err := memory.New(ctx, o.DB, sessionID)
	if err != nil {
		return session.Result{}, loopStatus{}, fmt.Errorf("orchestrator: tiered memory: %w", err)
	}

	system, user, err := o.Prompts.Prompt(ctx, sessionType, auditFeatures)
	if err != nil {
		return session.Result{}, loopStatus{}, fmt.Errorf("orchestrator: build prompt: %w", err)
	}

	runner := &session.Runner{
		Client: o.Client, Risk: rc, Autonomy: am, Escalation: ee, Injection: inj,
		Hot: mem.Hot, Tools: o.Tools, Bus: o.Bus, Features: o.Features,
	}
	result, _, err := runner.Run(ctx, session.Config{SessionID: sessionID, Model: o.Config.Model, System: system, Tools: o.Config.Tools},
		[]assistant.Message{{Role: assistant.RoleUser, Text: user}})
	if err != nil {
		return session.Result{}, loopStatus{}, fmt.Errorf("orchestrator: session run: %w", err)
	}

	stats, statsErr := o.Features.Stats(ctx)
	gitHash := vcs.CurrentCommit(o.ProjectDir)
	var stallStatus stall.Status
	if statsErr == nil {
		stallStatus, _ = o.StallMgr.CheckProgress(ctx, stats.Passing, gitHash)
	}

	endInput := memory.EndSessionInput{ToolCalls: result.ToolCalls}

	switch result.Status {
	case session.StatusComplete:
		endInput.EndingState = "completed"
		_, _ = mem.EndSession(ctx, endInput)
		_, _ = o.Checkpoints.Create(ctx, checkpoint.TriggerSessionEnd, sessionID, nil, "", nil)
		cost := o.sessionCost(ctx, sessionID)
		_ = endSession(ctx, o.DB, sessionID, "complete", cost)
		o.publishSessionEnd(sessionID, "complete", result)
		return result, loopStatus{final: finalReturn, result: RunResult{Status: FinalComplete, Reason: result.Reason}}, nil

	case session.StatusAuthError:
		endInput.EndingState = "auth_error"
		_, _ = mem.EndSession(ctx, endInput)
		_ = endSession(ctx, o.DB, sessionID, "auth_error", 0)
		o.publishSessionEnd(sessionID, "auth_error", result)
		return result, loopStatus{final: finalReturn, result: RunResult{Status: FinalAuthError, Reason: result.Reason}}, nil

	case session.StatusIntervention:
		endInput.EndingState = "intervention"
		endInput.HumanInterventions = 1
		_, _ = mem.EndSession(ctx, endInput)
		_ = endSession(ctx, o.DB, sessionID, "intervention", 0)
		o.publishSessionEnd(sessionID, "intervention", result)
		return result, loopStatus{final: finalReturn, result: RunResult{Status: FinalIntervention, Reason: result.Reason}}, nil

	case session.StatusError:
		endInput.EndingState = "error"
		_, _ = mem.EndSession(ctx, endInput)
		_ = endSession(ctx, o.DB, sessionID, "error", 0)
		o.publishSessionEnd(sessionID, "error", result)
		o.consecutiveErrSessions++
		if o.consecutiveErrSessions >= 3 {
			return result, loopStatus{final: finalReturn, result: RunResult{Status: FinalFailed, Reason: "three consecutive session exceptions"}}, nil
		}
		return result, loopStatus{final: finalContinue}, nil

	default: // StatusContinue
		o.consecutiveErrSessions = 0
		endInput.EndingState = "continue"
		_, _ = mem.EndSession(ctx, endInput)
		_ = endSession(ctx, o.DB, sessionID, "continue", o.sessionCost(ctx, sessionID))
		o.publishSessionEnd(sessionID, "continue", result)

		if stallStatus.IsStalled {
			if stallStatus.ShouldEscalate {
				_, _ = o.StallMgr.EscalateToHuman(ctx, stallStatus)
			}
			final := FinalNoProgress
			if stallStatus.StallType == stall.TypeCyclic {
				final = FinalCyclic
			}
			o.noProgressIterations++
			if o.noProgressIterations >= maxInt(o.Config.MaxNoProgressIterations, 1) {
				return result, loopStatus{final: finalReturn, result: RunResult{Status: final, Reason: stallStatus.Message}}, nil
			}
		} else {
			o.noProgressIterations = 0
		}

		if o.Observer != nil && o.Config.BudgetCeilingUSD > 0 {
			budget, err := o.Observer.CheckBudget(ctx, o.sessionTag(sessionID), o.Config.BudgetCeilingUSD)
			if err == nil && budget.OverBudget {
				return result, loopStatus{final: finalReturn, result: RunResult{Status: FinalBudget, Reason: "budget ceiling reached"}}, nil
			}
			threshold := o.Config.WarningThresholdFraction * 100
			if err == nil && threshold > 0 && budget.ShouldWarn(threshold) {
				o.publish(event.Event{Type: event.Warning, SessionID: o.sessionTag(sessionID), Time: time.Now(),
					Data: event.WarningData{SessionID: o.sessionTag(sessionID), Source: "budget",
						Message: fmt.Sprintf("budget %.0f%% used (warning threshold %.0f%%)", budget.PercentUsed, threshold)}})
			}
		}

		return result, loopStatus{final: finalContinue}, nil
	}
}

func (o *Orchestrator) publishSessionEnd(sessionID int64, status string, result session.Result) {
	o.publish(event.Event{Type: event.SessionEnd, SessionID: o.sessionTag(sessionID), Time: time.Now(),
		Data: event.SessionEndData{SessionID: o.sessionTag(sessionID), Status: status, Reason: result.Reason,
			ToolCalls: result.ToolCalls, ToolErrors: result.ToolErrors, ToolBlocked: result.ToolBlocked}})
}

func (o *Orchestrator) sessionCost(ctx context.Context, sessionID int64) float64 {
	if o.Observer == nil {
		return 0
	}
	m, err := o.Observer.SessionMetrics(ctx, o.sessionTag(sessionID))
	if err != nil {
		return 0
	}
	return m.CostUSD
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
