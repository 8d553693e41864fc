// Package pipeline wires the detection, policy, honeypot, risk, trust,
// forensic, event, and metrics components into the per-session mediation
// pipeline. A Core owns all component state; there are no package-level
// singletons.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelsec/sentinel/internal/detect"
	"github.com/sentinelsec/sentinel/internal/dom"
	"github.com/sentinelsec/sentinel/internal/driver"
	"github.com/sentinelsec/sentinel/internal/event"
	"github.com/sentinelsec/sentinel/internal/forensic"
	"github.com/sentinelsec/sentinel/internal/honeypot"
	"github.com/sentinelsec/sentinel/internal/metrics"
	"github.com/sentinelsec/sentinel/internal/policy"
	"github.com/sentinelsec/sentinel/internal/report"
	"github.com/sentinelsec/sentinel/internal/risk"
	"github.com/sentinelsec/sentinel/internal/session"
	"github.com/sentinelsec/sentinel/internal/trust"
)

// Config tunes the pipeline's external-call guards and buffer sizes.
type Config struct {
	DOMTimeout        time.Duration
	AnalyzerTimeout   time.Duration
	ScreenshotTimeout time.Duration
	ForensicCapacity  int
	ArchivePath       string // empty disables the forensic archive
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DOMTimeout:        2 * time.Second,
		AnalyzerTimeout:   2 * time.Second,
		ScreenshotTimeout: 3 * time.Second,
		ForensicCapacity:  forensic.DefaultCapacity,
	}
}

// ProposedAction is the driver-surfaced action under evaluation.
type ProposedAction struct {
	Kind     string  `json:"kind"` // NAVIGATE, CLICK, TYPE, SCROLL, SUBMIT
	Selector string  `json:"selector,omitempty"`
	URL      string  `json:"url,omitempty"`
	Text     string  `json:"text,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
	Intent   string  `json:"intent,omitempty"` // agent's natural-language claim

	// ClaimedText and ClaimedType are the agent's description of the target
	// element, checked against the actual DOM for hallucinated elements.
	ClaimedText string `json:"claimedText,omitempty"`
	ClaimedType string `json:"claimedType,omitempty"`
}

// Verdict is the pipeline's answer for one proposed action.
type Verdict struct {
	Decision             string            `json:"decision"`
	Allowed              bool              `json:"allowed"`
	RequiresConfirmation bool              `json:"requiresConfirmation"`
	Risk                 risk.Assessment   `json:"risk"`
	Policy               policy.Evaluation `json:"policy"`
	Threats              []detect.Result   `json:"threats,omitempty"`
	Latency              time.Duration     `json:"-"`
}

// Core is the context object owning every pipeline component. Sessions run
// concurrently; within a session, actions are evaluated strictly one at a
// time.
type Core struct {
	cfg Config

	Sessions  *session.Manager
	Policies  *policy.Engine
	Honeypots *honeypot.Registry
	Risk      *risk.Aggregator
	Trust     *trust.Engine
	Forensics *forensic.Buffer
	Events    *event.Orchestrator
	Metrics   *metrics.Aggregator
	Analyzer  detect.IntentAnalyzer

	logger *slog.Logger

	mu        sync.Mutex
	drivers   map[string]driver.Driver
	locks     map[string]*sync.Mutex
	decisions map[string][]report.Decision
}

// New builds a Core with all components wired. The forensic archive is only
// opened when cfg.ArchivePath is set.
func New(cfg Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DOMTimeout <= 0 {
		cfg.DOMTimeout = def.DOMTimeout
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = def.AnalyzerTimeout
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = def.ScreenshotTimeout
	}

	celEval, err := policy.NewCELEvaluator(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL evaluator: %w", err)
	}

	var archive *forensic.Archive
	if cfg.ArchivePath != "" {
		archive, err = forensic.NewArchive(cfg.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open forensic archive: %w", err)
		}
	}

	return &Core{
		cfg:       cfg,
		Sessions:  session.NewManager(logger),
		Policies:  policy.NewEngine(policy.NewStore(logger), policy.NewRateLimiter(logger), celEval, logger),
		Honeypots: honeypot.NewRegistry(logger),
		Risk:      risk.NewAggregator(logger),
		Trust:     trust.NewEngine(logger),
		Forensics: forensic.NewBuffer(cfg.ForensicCapacity, archive, logger),
		Events:    event.NewOrchestrator(logger),
		Metrics:   metrics.NewAggregator(logger),
		Analyzer:  detect.RuleAnalyzer{},
		logger:    logger.With("component", "pipeline.Core"),
		drivers:   make(map[string]driver.Driver),
		locks:     make(map[string]*sync.Mutex),
		decisions: make(map[string][]report.Decision),
	}, nil
}

// StartSession creates a session, plants its honeypot traps through the
// driver, and moves it to OBSERVING.
func (c *Core) StartSession(ctx context.Context, drv driver.Driver, operatorID string) (session.Session, error) {
	sess := c.Sessions.Create(operatorID)

	c.mu.Lock()
	c.drivers[sess.ID] = drv
	c.locks[sess.ID] = &sync.Mutex{}
	c.mu.Unlock()

	c.Trust.InitSession(sess.ID)
	c.Metrics.StartSession(sess.ID)

	pol := c.Policies.Store().Get(sess.ID)
	if pol.HoneypotEnabled {
		traps := c.Honeypots.RegisterSession(sess.ID)
		script := c.Honeypots.InjectionScript(sess.ID)
		if drv != nil {
			_, ok := driver.Call(ctx, c.cfg.DOMTimeout, struct{}{}, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, drv.InjectInitScript(ctx, script)
			})
			if !ok {
				c.logger.Warn("honeypot injection failed, traps inactive",
					"session_id", sess.ID, "traps", len(traps))
			}
		}
	}

	c.emit(sess.ID, event.TypeConnected, map[string]interface{}{
		"operator": operatorID,
	}, 0)

	return c.Sessions.Transition(sess.ID, session.StateObserving)
}

// HandlePageLoad extracts and scans the new document, records the DOM
// snapshot, and emits PAGE_LOADED plus the scan results.
func (c *Core) HandlePageLoad(ctx context.Context, sessionID, url string) error {
	start := time.Now()

	sess, err := c.Sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.State.Terminal() {
		return fmt.Errorf("%w: %s", session.ErrTerminal, sessionID)
	}

	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.Sessions.Update(sessionID, func(s *session.Session) { s.URL = url }); err != nil {
		return err
	}

	tree := c.extractDOM(ctx, sessionID)

	var signals []risk.Signal
	var threats []detect.Result
	if tree != nil {
		results := []struct {
			source string
			result detect.Result
		}{
			{risk.SourcePromptInjection, detect.ScanVisibleText(tree)},
			{risk.SourceHiddenContent, detect.ScanHidden(tree)},
			{risk.SourceShadowDOM, detect.ScanShadowDOM(tree)},
			{risk.SourceDeceptiveUI, detect.ScanDeceptiveUI(tree, url)},
			{risk.SourceDynamicInjection, scanPageScripts(tree)},
		}
		for _, r := range results {
			if !r.result.Detected {
				continue
			}
			threats = append(threats, r.result)
			signals = append(signals, risk.Signal{
				Source:      r.source,
				Score:       float64(r.result.Score),
				Description: r.result.ThreatKind,
			})
		}
	}

	as := c.Risk.Aggregate(sessionID, signals)
	c.recordThreats(sessionID, threats, as.Decision == policy.DecisionBlock)

	c.Forensics.Append(sessionID, forensic.Snapshot{
		Kind:       forensic.KindDOMState,
		URL:        url,
		RiskScore:  as.Score,
		TrustScore: c.Trust.Score(sessionID),
		Defcon:     c.Events.Defcon(sessionID),
		Payload:    map[string]interface{}{"url": url},
		DataRef:    domRef(tree),
	})

	c.emit(sessionID, event.TypePageLoaded, map[string]interface{}{"url": url}, time.Since(start))
	c.emit(sessionID, event.TypeRiskUpdate, map[string]interface{}{
		"score": as.Score,
		"level": string(as.Level),
	}, 0)
	if len(threats) > 0 {
		c.emit(sessionID, event.TypeXRayResults, map[string]interface{}{
			"threats": len(threats),
			"score":   as.Score,
		}, time.Since(start))
	}
	return nil
}

// EvaluateAction runs a proposed action through the full pipeline and
// returns the verdict. Terminal sessions reject every action.
func (c *Core) EvaluateAction(ctx context.Context, sessionID string, act ProposedAction) (Verdict, error) {
	start := time.Now()

	sess, err := c.Sessions.Get(sessionID)
	if err != nil {
		return Verdict{Decision: policy.DecisionBlock}, err
	}
	if sess.State.Terminal() {
		return Verdict{Decision: policy.DecisionBlock},
			fmt.Errorf("%w: %s is %s", session.ErrTerminal, sessionID, sess.State)
	}

	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	c.emit(sessionID, event.TypeActionAttempted, map[string]interface{}{
		"kind":   act.Kind,
		"target": act.Selector,
		"url":    act.URL,
	}, 0)

	// Honeypot pre-empts everything else.
	trig := c.Honeypots.CheckInteraction(sessionID, act.Selector, act.Kind)
	if trig == nil && act.Intent != "" {
		trig = c.Honeypots.CheckContentEcho(sessionID, act.Intent)
	}
	if trig != nil {
		return c.compromise(ctx, sessionID, sess.OperatorID, trig, start), nil
	}

	trustScore := c.Trust.Score(sessionID)
	pe := c.Policies.Evaluate(policy.Action{
		Kind:   act.Kind,
		Target: act.Selector,
		URL:    act.URL,
		Text:   act.Text,
		Amount: act.Amount,
	}, policy.SessionContext{
		ID:          sessionID,
		Trust:       trustScore,
		ActionCount: sess.ActionCount,
	})

	var signals []risk.Signal
	var threats []detect.Result
	if pe.RiskScore > 0 {
		signals = append(signals, risk.Signal{
			Source:      risk.SourcePolicy,
			Score:       pe.RiskScore,
			Description: pe.Explanation,
		})
	}

	// A hard policy block skips evidence collection; the verdict is already
	// settled and the detectors would only add latency.
	if pe.Decision != policy.DecisionBlock {
		signals, threats = c.collectEvidence(ctx, sessionID, sess.URL, act, signals, threats)
	}

	as := c.Risk.Aggregate(sessionID, signals)

	if as.TrustDelta != 0 {
		up := c.Trust.ApplyDelta(sessionID, as.TrustDelta, fmt.Sprintf("risk score %.0f", as.Score))
		c.emit(sessionID, event.TypeTrustUpdate, map[string]interface{}{
			"previous": up.Previous,
			"new":      up.New,
			"delta":    up.Delta,
			"reason":   up.Reason,
		}, 0)
	}

	decision := strongest(pe.Decision, as.Decision)
	needsConfirm := pe.RequiresConfirmation || c.Trust.ShouldRequireConfirmation(sessionID, as.Score)
	if decision == policy.DecisionAllow && needsConfirm {
		decision = policy.DecisionConfirm
	}
	if decision == policy.DecisionConfirm {
		c.emit(sessionID, event.TypeConfirmationRequired, map[string]interface{}{
			"kind":   act.Kind,
			"target": act.Selector,
			"risk":   as.Score,
		}, 0)
	}

	latency := time.Since(start)
	c.emit(sessionID, event.TypeActionDecision, map[string]interface{}{
		"kind":     act.Kind,
		"target":   act.Selector,
		"decision": decision,
		"rule":     pe.Rule,
		"risk":     as.Score,
	}, latency)
	c.emit(sessionID, event.TypeRiskUpdate, map[string]interface{}{
		"score": as.Score,
		"level": string(as.Level),
	}, 0)
	c.recordThreats(sessionID, threats, decision == policy.DecisionBlock)

	// Update the session only after the emissions above so the recorded
	// DEFCON reflects any promotion they caused.
	newTrust := c.Trust.Score(sessionID)
	nextState := session.StateActing
	if decision == policy.DecisionBlock {
		nextState = session.StateBlocked
	}
	c.Sessions.Update(sessionID, func(s *session.Session) {
		s.RiskScore = int(as.Score)
		s.TrustScore = newTrust
		s.ActionCount++
		s.State = nextState
		s.Defcon = c.Events.Defcon(sessionID)
		if act.Kind == "NAVIGATE" && act.URL != "" && decision != policy.DecisionBlock {
			s.URL = act.URL
		}
	})

	c.Forensics.Append(sessionID, forensic.Snapshot{
		Kind:       forensic.KindAction,
		URL:        sess.URL,
		RiskScore:  as.Score,
		TrustScore: newTrust,
		Defcon:     c.Events.Defcon(sessionID),
		Payload: map[string]interface{}{
			"kind":     act.Kind,
			"target":   act.Selector,
			"decision": decision,
		},
	})

	if decision == policy.DecisionBlock {
		c.captureBlockEvidence(ctx, sessionID)
	}

	c.mu.Lock()
	c.decisions[sessionID] = append(c.decisions[sessionID], report.Decision{
		Timestamp: time.Now().UTC(),
		Action:    act.Kind,
		Target:    act.Selector,
		Decision:  decision,
		Rule:      pe.Rule,
		Risk:      as.Score,
	})
	c.mu.Unlock()

	c.Metrics.RecordAction(sessionID, decision == policy.DecisionAllow)
	c.Metrics.RecordLatency(sessionID, latency)

	return Verdict{
		Decision:             decision,
		Allowed:              decision == policy.DecisionAllow,
		RequiresConfirmation: decision == policy.DecisionConfirm,
		Risk:                 as,
		Policy:               pe,
		Threats:              threats,
		Latency:              latency,
	}, nil
}

// collectEvidence runs the text, DOM, and semantic detectors for an action.
func (c *Core) collectEvidence(ctx context.Context, sessionID, pageURL string, act ProposedAction, signals []risk.Signal, threats []detect.Result) ([]risk.Signal, []detect.Result) {
	add := func(source string, r detect.Result) {
		if !r.Detected {
			return
		}
		threats = append(threats, r)
		signals = append(signals, risk.Signal{
			Source:      source,
			Score:       float64(r.Score),
			Description: r.ThreatKind,
		})
	}

	add(risk.SourcePromptInjection, detect.ScanText(act.Text))

	if tree := c.extractDOM(ctx, sessionID); tree != nil {
		add(risk.SourceHiddenContent, detect.ScanHidden(tree))
		add(risk.SourceShadowDOM, detect.ScanShadowDOM(tree))
		add(risk.SourceDeceptiveUI, detect.ScanDeceptiveUI(tree, pageURL))
		if act.Selector != "" && (act.ClaimedText != "" || act.ClaimedType != "") {
			_, r := detect.CheckElement(tree, act.Selector, act.ClaimedText, act.ClaimedType)
			add(risk.SourceHallucination, r)
		}
	}

	if act.Intent != "" {
		desc := describeAction(act)
		res, ok := driver.Call(ctx, c.cfg.AnalyzerTimeout, detect.Result{}, func(ctx context.Context) (detect.Result, error) {
			return c.Analyzer.Evaluate(ctx, act.Intent, desc)
		})
		if !ok {
			// Degraded: fall back to the rule-based analysis.
			c.emit(sessionID, event.TypeLowVisibilityZone, map[string]interface{}{
				"source": "semantic_analyzer",
			}, 0)
			res = detect.AnalyzeIntent(act.Intent, desc).ToResult()
		}
		add(risk.SourceSemantic, res)
	}
	return signals, threats
}

// compromise handles a honeypot trigger: the session is terminal from here.
func (c *Core) compromise(ctx context.Context, sessionID, operatorID string, trig *honeypot.Trigger, start time.Time) Verdict {
	as := c.Risk.Aggregate(sessionID, []risk.Signal{{
		Source:      risk.SourceHoneypot,
		Score:       100,
		Description: "trap " + trig.TrapID,
	}})
	c.Trust.Record(sessionID, operatorID, trust.EventHoneypotTriggered, "honeypot trap "+trig.TrapID)

	c.Sessions.Update(sessionID, func(s *session.Session) {
		s.RiskScore = 100
		s.TrustScore = 0
	})
	c.Sessions.Transition(sessionID, session.StateCompromised)

	c.emit(sessionID, event.TypeHoneyPromptTriggered, map[string]interface{}{
		"trap_id": trig.TrapID,
		"action":  trig.ActionKind,
	}, time.Since(start))

	c.Forensics.Append(sessionID, forensic.Snapshot{
		Kind:       forensic.KindThreat,
		RiskScore:  100,
		TrustScore: 0,
		Defcon:     c.Events.Defcon(sessionID),
		Payload: map[string]interface{}{
			"honeypot":    true,
			"severity":    5,
			"threat_kind": detect.ThreatHoneypot,
			"trap_id":     trig.TrapID,
		},
	})

	c.Metrics.RecordThreat(sessionID, detect.ThreatHoneypot, true)
	c.Metrics.RecordAction(sessionID, false)
	c.Metrics.RecordLatency(sessionID, time.Since(start))
	c.Metrics.EndSession(sessionID, false)

	c.emit(sessionID, event.TypeSessionTerminated, map[string]interface{}{
		"reason": "honeypot",
	}, 0)

	return Verdict{
		Decision: policy.DecisionBlock,
		Risk:     as,
		Latency:  time.Since(start),
	}
}

// Feedback applies an operator label to the session's most recent decision.
func (c *Core) Feedback(sessionID string, falsePositive bool) error {
	if _, err := c.Sessions.Get(sessionID); err != nil {
		return err
	}
	c.Metrics.RecordFeedback(sessionID, falsePositive)

	sess, _ := c.Sessions.Get(sessionID)
	ev := trust.EventConfirmedThreat
	reason := "operator confirmed threat"
	if falsePositive {
		ev = trust.EventFalsePositive
		reason = "operator flagged false positive"
	}
	up := c.Trust.Record(sessionID, sess.OperatorID, ev, reason)

	c.Sessions.Update(sessionID, func(s *session.Session) { s.TrustScore = up.New })
	c.emit(sessionID, event.TypeTrustUpdate, map[string]interface{}{
		"previous": up.Previous,
		"new":      up.New,
		"delta":    up.Delta,
		"reason":   up.Reason,
	}, 0)
	return nil
}

// TerminateSession ends a session normally. Already-terminal sessions are
// left as they are.
func (c *Core) TerminateSession(sessionID string, taskCompleted bool) error {
	sess, err := c.Sessions.Get(sessionID)
	if err != nil {
		return err
	}

	if !sess.State.Terminal() {
		if taskCompleted {
			c.Trust.Record(sessionID, sess.OperatorID, trust.EventSessionComplete, "session completed")
		}
		c.Sessions.Transition(sessionID, session.StateTerminated)
		c.emit(sessionID, event.TypeSessionTerminated, map[string]interface{}{
			"reason":    "requested",
			"completed": taskCompleted,
		}, 0)
	}
	c.Metrics.EndSession(sessionID, taskCompleted)
	c.Policies.Limiter().Reset(sessionID)
	return nil
}

// ExportReport assembles the session report from the component states.
func (c *Core) ExportReport(sessionID string) (report.Report, error) {
	sess, err := c.Sessions.Get(sessionID)
	if err != nil {
		return report.Report{}, err
	}

	counters := c.Metrics.Session(sessionID)
	forensics := c.Forensics.Summarize(sessionID)

	duration := time.Since(sess.CreatedAt)
	if sess.TerminatedAt != nil {
		duration = sess.TerminatedAt.Sub(sess.CreatedAt)
	}

	c.mu.Lock()
	decisions := make([]report.Decision, len(c.decisions[sessionID]))
	copy(decisions, c.decisions[sessionID])
	c.mu.Unlock()

	blocked := 0
	for _, d := range decisions {
		if d.Decision == policy.DecisionBlock {
			blocked++
		}
	}

	return report.Report{
		SessionID:   sessionID,
		GeneratedAt: time.Now().UTC(),
		Summary: report.Summary{
			Duration:        duration.Round(time.Millisecond).String(),
			TotalActions:    counters.ActionsTotal,
			ThreatsDetected: counters.ThreatsDetected,
			ActionsBlocked:  blocked,
			FalsePositives:  counters.FalsePositives,
		},
		Scores: report.Scores{
			PeakRisk:   forensics.PeakRisk,
			FinalRisk:  float64(sess.RiskScore),
			FinalTrust: sess.TrustScore,
		},
		ThreatBreakdown: counters.ThreatsByKind,
		PolicyDecisions: decisions,
		RiskEvolution:   c.Risk.Evolution(sessionID),
		CriticalMoments: c.Forensics.Moments(sessionID),
	}, nil
}

// ReleaseSession frees all per-session state. Call after the report has
// been exported; archived forensics survive.
func (c *Core) ReleaseSession(sessionID string) {
	c.mu.Lock()
	delete(c.drivers, sessionID)
	delete(c.locks, sessionID)
	delete(c.decisions, sessionID)
	c.mu.Unlock()

	c.Honeypots.Cleanup(sessionID)
	c.Risk.Cleanup(sessionID)
	c.Trust.Cleanup(sessionID)
	c.Forensics.Cleanup(sessionID)
	c.Events.Cleanup(sessionID)
	c.Metrics.Cleanup(sessionID)
	c.Sessions.Remove(sessionID)
}

// recordThreats folds detector results into metrics, forensics, and events.
func (c *Core) recordThreats(sessionID string, threats []detect.Result, blocked bool) {
	for _, t := range threats {
		c.Metrics.RecordThreat(sessionID, t.ThreatKind, blocked)
		sev := t.Severity.Rank() + 1
		c.emit(sessionID, event.TypeThreatDetected, map[string]interface{}{
			"threat_kind": t.ThreatKind,
			"severity":    sev,
			"score":       t.Score,
		}, t.Latency)
		c.Forensics.Append(sessionID, forensic.Snapshot{
			Kind:       forensic.KindThreat,
			RiskScore:  float64(t.Score),
			TrustScore: c.Trust.Score(sessionID),
			Defcon:     c.Events.Defcon(sessionID),
			Payload: map[string]interface{}{
				"threat_kind": t.ThreatKind,
				"severity":    sev,
			},
		})
	}
}

// captureBlockEvidence grabs a screenshot reference for a blocked action.
func (c *Core) captureBlockEvidence(ctx context.Context, sessionID string) {
	drv := c.sessionDriver(sessionID)
	if drv == nil {
		return
	}
	ref, ok := driver.Call(ctx, c.cfg.ScreenshotTimeout, "", drv.CaptureScreenshot)
	if !ok || ref == "" {
		return
	}
	c.Forensics.Append(sessionID, forensic.Snapshot{
		Kind:       forensic.KindScreenshot,
		TrustScore: c.Trust.Score(sessionID),
		Defcon:     c.Events.Defcon(sessionID),
		DataRef:    ref,
	})
	c.emit(sessionID, event.TypeScreenshot, map[string]interface{}{"ref": ref}, 0)
}

// extractDOM fetches the current document under the timeout guard. A failed
// or missing extraction records a LOW_VISIBILITY_ZONE event and returns nil.
func (c *Core) extractDOM(ctx context.Context, sessionID string) *dom.Tree {
	drv := c.sessionDriver(sessionID)
	if drv == nil {
		return nil
	}
	tree, ok := driver.Call(ctx, c.cfg.DOMTimeout, (*dom.Tree)(nil), drv.ExtractDOM)
	if !ok || tree == nil || tree.Empty() {
		c.emit(sessionID, event.TypeLowVisibilityZone, map[string]interface{}{
			"source": "dom_extraction",
		}, 0)
		return nil
	}
	return tree
}

func (c *Core) sessionDriver(sessionID string) driver.Driver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drivers[sessionID]
}

func (c *Core) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[sessionID] = lock
	}
	return lock
}

// emit sends an event, logging rather than propagating failures; emission
// must never break the pipeline.
func (c *Core) emit(sessionID, eventType string, payload map[string]interface{}, latency time.Duration) {
	if _, err := c.Events.Emit(sessionID, eventType, payload, latency); err != nil {
		c.logger.Error("event emission failed",
			"session_id", sessionID, "type", eventType, "error", err)
	}
}

// describeAction renders the action the way the semantic detector expects.
func describeAction(act ProposedAction) string {
	desc := act.Kind
	if act.Selector != "" {
		desc += " " + act.Selector
	}
	if act.Text != "" {
		desc += " " + act.Text
	}
	if act.URL != "" {
		desc += " " + act.URL
	}
	if act.Amount > 0 {
		desc += fmt.Sprintf(" $%.2f", act.Amount)
	}
	return desc
}

// scanPageScripts concatenates inline script bodies and scans them once.
func scanPageScripts(tree *dom.Tree) detect.Result {
	var source string
	tree.Walk(func(n *dom.Node, _ int, _ bool) bool {
		if n.Tag == "script" && n.Text != "" {
			source += n.Text + "\n"
		}
		return true
	})
	return detect.ScanScript(source)
}

// domRef derives a stable content reference for a DOM snapshot.
func domRef(tree *dom.Tree) string {
	if tree == nil {
		return ""
	}
	h := fnv.New64a()
	for i := range tree.Nodes {
		h.Write([]byte(tree.Nodes[i].Tag))
		h.Write([]byte(tree.Nodes[i].Text))
	}
	return fmt.Sprintf("dom:%x", h.Sum64())
}

// strongest returns the more restrictive of two decisions.
func strongest(a, b string) string {
	rank := func(d string) int {
		switch d {
		case policy.DecisionBlock:
			return 3
		case policy.DecisionConfirm:
			return 2
		default:
			return 1
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
