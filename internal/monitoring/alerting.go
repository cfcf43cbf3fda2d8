package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/iotaledger/hive.go/runtime/event"

	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/service"
)

// AlertSeverity represents the severity of an alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeSecurity  AlertType = "security"
	AlertTypeIntegrity AlertType = "integrity"
	AlertTypeCapacity  AlertType = "capacity"
	AlertTypeThreshold AlertType = "threshold"
)

// Alert represents a raised alert
type Alert struct {
	ID          string
	Type        AlertType
	Severity    AlertSeverity
	Title       string
	Description string
	Source      string
	Timestamp   time.Time
	Resolved    bool
	ResolvedAt  *time.Time
}

// Observation is what alert rules are evaluated against. Event is set for
// operation outcomes, Snapshot for periodic gauges such as sweep results.
type Observation struct {
	At       time.Time
	Event    *service.OperationEvent
	Snapshot map[string]float64
}

// AlertCondition decides whether an observation fires a rule. Rules are
// neither fired nor resolved by observations the condition does not apply to.
type AlertCondition interface {
	Applies(obs *Observation) bool
	Evaluate(obs *Observation) (bool, string)
}

// AlertAction is executed when a rule fires.
type AlertAction interface {
	Execute(ctx context.Context, alert *Alert) error
}

// AlertRule defines conditions for triggering alerts
type AlertRule struct {
	ID        string
	Name      string
	Type      AlertType
	Severity  AlertSeverity
	Condition AlertCondition
	Actions   []AlertAction
	Cooldown  time.Duration
	LastFired time.Time
}

// AlertManager evaluates alert rules against escrow activity.
type AlertManager struct {
	*logger.WrappedLogger

	rules        map[string]*AlertRule
	activeAlerts map[string]*Alert
	history      []*Alert
	historyLimit int

	metrics *MetricsCollector
	mu      sync.RWMutex

	Events struct {
		AlertTriggered *event.Event1[*Alert]
		AlertResolved  *event.Event1[*Alert]
	}
}

// AlertConfig tunes the default rules.
type AlertConfig struct {
	// GuessThreshold is the number of wrong codes within GuessWindow that
	// counts as a guessing attack.
	GuessThreshold int
	GuessWindow    time.Duration
	// PendingThreshold raises a capacity warning when this many escrows are
	// still pending after a sweep. Zero disables the rule.
	PendingThreshold float64
	Cooldown         time.Duration
}

// DefaultAlertConfig returns the alert defaults.
func DefaultAlertConfig() *AlertConfig {
	return &AlertConfig{
		GuessThreshold:   20,
		GuessWindow:      5 * time.Minute,
		PendingThreshold: 0,
		Cooldown:         5 * time.Minute,
	}
}

// NewAlertManager creates a new alert manager with the default rules.
func NewAlertManager(log *logger.Logger, metrics *MetricsCollector, config *AlertConfig) *AlertManager {
	if config == nil {
		config = DefaultAlertConfig()
	}

	am := &AlertManager{
		WrappedLogger: logger.NewWrappedLogger(log),
		rules:         make(map[string]*AlertRule),
		activeAlerts:  make(map[string]*Alert),
		history:       make([]*Alert, 0, 128),
		historyLimit:  1000,
		metrics:       metrics,
	}

	am.Events.AlertTriggered = event.New1[*Alert]()
	am.Events.AlertResolved = event.New1[*Alert]()

	am.initializeDefaultRules(config)

	return am
}

func (am *AlertManager) initializeDefaultRules(config *AlertConfig) {
	// Many wrong codes in a short time across all escrows
	am.AddRule(&AlertRule{
		ID:       "code-guessing",
		Name:     "Claim Code Guessing",
		Type:     AlertTypeSecurity,
		Severity: SeverityCritical,
		Condition: NewCountCondition(config.GuessThreshold, config.GuessWindow, func(ev *service.OperationEvent) bool {
			return ev.Operation == service.OpInitiateClaim && escrow.KindOf(ev.Err) == escrow.KindInvalidMetadata
		}),
		Actions:  []AlertAction{&LogAction{log: am.WrappedLogger}},
		Cooldown: config.Cooldown,
	})

	// An escrow ran out of attempts and is locked until it expires
	am.AddRule(&AlertRule{
		ID:       "attempts-exhausted",
		Name:     "Claim Attempts Exhausted",
		Type:     AlertTypeSecurity,
		Severity: SeverityWarning,
		Condition: NewCountCondition(1, config.GuessWindow, func(ev *service.OperationEvent) bool {
			return escrow.KindOf(ev.Err) == escrow.KindAttemptsExhausted
		}),
		Actions:  []AlertAction{&LogAction{log: am.WrappedLogger}},
		Cooldown: config.Cooldown,
	})

	// Storage or custody failures that are not caller mistakes
	am.AddRule(&AlertRule{
		ID:       "internal-failure",
		Name:     "Escrow Internal Failure",
		Type:     AlertTypeIntegrity,
		Severity: SeverityCritical,
		Condition: NewCountCondition(1, config.GuessWindow, func(ev *service.OperationEvent) bool {
			return ev.Err != nil && escrow.KindOf(ev.Err) == escrow.KindUnknown
		}),
		Actions:  []AlertAction{&LogAction{log: am.WrappedLogger}},
		Cooldown: config.Cooldown,
	})

	if config.PendingThreshold > 0 {
		am.AddRule(&AlertRule{
			ID:       "pending-backlog",
			Name:     "Pending Escrow Backlog",
			Type:     AlertTypeCapacity,
			Severity: SeverityWarning,
			Condition: &ThresholdCondition{
				Metric:    MetricPendingClaims,
				Threshold: config.PendingThreshold,
				Operator:  ">",
			},
			Actions:  []AlertAction{&LogAction{log: am.WrappedLogger}},
			Cooldown: config.Cooldown,
		})
	}
}

// Snapshot metric names understood by ThresholdCondition.
const (
	MetricPendingClaims = "pending_claims"
	MetricTicketsPurged = "tickets_purged"
)

// Attach hooks the manager to the service events.
func (am *AlertManager) Attach(events *service.Events) (detach func()) {
	opHook := events.Operation.Hook(func(ev *service.OperationEvent) {
		am.EvaluateRules(context.Background(), &Observation{At: ev.At, Event: ev})
	})
	sweepHook := events.Swept.Hook(func(result *service.SweepResult) {
		am.EvaluateRules(context.Background(), &Observation{
			At: time.Now(),
			Snapshot: map[string]float64{
				MetricPendingClaims: float64(result.PendingRemains),
				MetricTicketsPurged: float64(result.TicketsPurged),
			},
		})
	})

	return func() {
		opHook.Unhook()
		sweepHook.Unhook()
	}
}

// AddRule adds a new alert rule
func (am *AlertManager) AddRule(rule *AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.rules[rule.ID] = rule
	am.LogDebugf("Added alert rule: %s", rule.Name)
}

// RemoveRule removes an alert rule
func (am *AlertManager) RemoveRule(ruleID string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	delete(am.rules, ruleID)
	am.LogDebugf("Removed alert rule: %s", ruleID)
}

// EvaluateRules evaluates all alert rules
func (am *AlertManager) EvaluateRules(ctx context.Context, obs *Observation) {
	am.mu.RLock()
	rules := make([]*AlertRule, 0, len(am.rules))
	for _, rule := range am.rules {
		rules = append(rules, rule)
	}
	am.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	for _, rule := range rules {
		am.evaluateRule(ctx, rule, obs)
	}
}

// evaluateRule evaluates a single rule. Conditions always see the
// observation so windowed counts stay accurate during a cooldown.
func (am *AlertManager) evaluateRule(ctx context.Context, rule *AlertRule, obs *Observation) {
	if !rule.Condition.Applies(obs) {
		return
	}

	triggered, description := rule.Condition.Evaluate(obs)
	if !triggered {
		am.resolveRule(rule.ID, obs.At)
		return
	}

	am.mu.Lock()
	if am.hasActive(rule.ID) || (!rule.LastFired.IsZero() && obs.At.Sub(rule.LastFired) < rule.Cooldown) {
		am.mu.Unlock()
		return
	}

	alert := &Alert{
		ID:          fmt.Sprintf("%s-%d", rule.ID, obs.At.UnixNano()),
		Type:        rule.Type,
		Severity:    rule.Severity,
		Title:       rule.Name,
		Description: description,
		Source:      rule.ID,
		Timestamp:   obs.At,
	}
	am.activeAlerts[alert.ID] = alert
	am.history = append(am.history, alert)
	if len(am.history) > am.historyLimit {
		am.history = am.history[1:]
	}
	rule.LastFired = obs.At
	am.mu.Unlock()

	if am.metrics != nil {
		am.metrics.RecordAlert(alert.Severity, alert.Type, true)
	}

	for _, action := range rule.Actions {
		if err := action.Execute(ctx, alert); err != nil {
			am.LogErrorf("Failed to execute alert action: %v", err)
		}
	}

	am.Events.AlertTriggered.Trigger(alert)
}

// hasActive must be called with mu held.
func (am *AlertManager) hasActive(ruleID string) bool {
	for _, alert := range am.activeAlerts {
		if alert.Source == ruleID && !alert.Resolved {
			return true
		}
	}

	return false
}

func (am *AlertManager) resolveRule(ruleID string, at time.Time) {
	am.mu.Lock()
	var resolved []*Alert
	for id, alert := range am.activeAlerts {
		if alert.Source != ruleID || alert.Resolved {
			continue
		}
		resolvedAt := at
		alert.Resolved = true
		alert.ResolvedAt = &resolvedAt
		delete(am.activeAlerts, id)
		resolved = append(resolved, alert)
	}
	am.mu.Unlock()

	for _, alert := range resolved {
		if am.metrics != nil {
			am.metrics.RecordAlert(alert.Severity, alert.Type, false)
		}
		am.Events.AlertResolved.Trigger(alert)
		am.LogInfof("Alert resolved: %s", alert.Title)
	}
}

// GetActiveAlerts returns all unresolved alerts
func (am *AlertManager) GetActiveAlerts() []*Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]*Alert, 0, len(am.activeAlerts))
	for _, alert := range am.activeAlerts {
		alerts = append(alerts, alert)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })

	return alerts
}

// GetAlertHistory returns up to limit of the most recent alerts
func (am *AlertManager) GetAlertHistory(limit int) []*Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	start := len(am.history) - limit
	if start < 0 {
		start = 0
	}

	history := make([]*Alert, len(am.history)-start)
	copy(history, am.history[start:])

	return history
}

// ThresholdCondition checks if a snapshot metric crosses a threshold
type ThresholdCondition struct {
	Metric    string
	Threshold float64
	Operator  string // ">", "<", ">=", "<=", "=="
}

func (tc *ThresholdCondition) Applies(obs *Observation) bool {
	_, ok := obs.Snapshot[tc.Metric]
	return ok
}

func (tc *ThresholdCondition) Evaluate(obs *Observation) (bool, string) {
	value, ok := obs.Snapshot[tc.Metric]
	if !ok {
		return false, ""
	}

	var triggered bool
	switch tc.Operator {
	case ">":
		triggered = value > tc.Threshold
	case "<":
		triggered = value < tc.Threshold
	case ">=":
		triggered = value >= tc.Threshold
	case "<=":
		triggered = value <= tc.Threshold
	case "==":
		triggered = value == tc.Threshold
	}

	if triggered {
		return true, fmt.Sprintf("%s is %.0f (threshold: %s %.0f)", tc.Metric, value, tc.Operator, tc.Threshold)
	}

	return false, ""
}

// CountCondition fires when at least Threshold matching operation events
// happened within Window.
type CountCondition struct {
	Threshold int
	Window    time.Duration
	Match     func(ev *service.OperationEvent) bool

	mu     sync.Mutex
	events []time.Time
}

// NewCountCondition creates a sliding window counter over matching events.
func NewCountCondition(threshold int, window time.Duration, match func(ev *service.OperationEvent) bool) *CountCondition {
	return &CountCondition{
		Threshold: threshold,
		Window:    window,
		Match:     match,
		events:    make([]time.Time, 0, threshold),
	}
}

func (cc *CountCondition) Applies(obs *Observation) bool {
	return obs.Event != nil
}

func (cc *CountCondition) Evaluate(obs *Observation) (bool, string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if obs.Event != nil && cc.Match(obs.Event) {
		cc.events = append(cc.events, obs.At)
	}

	cutoff := obs.At.Add(-cc.Window)
	firstValid := len(cc.events)
	for i, t := range cc.events {
		if t.After(cutoff) {
			firstValid = i
			break
		}
	}
	cc.events = cc.events[firstValid:]

	if len(cc.events) >= cc.Threshold {
		return true, fmt.Sprintf("%d matching events within %v", len(cc.events), cc.Window)
	}

	return false, ""
}

// LogAction logs the alert
type LogAction struct {
	log *logger.WrappedLogger
}

func (la *LogAction) Execute(_ context.Context, alert *Alert) error {
	switch alert.Severity {
	case SeverityCritical:
		la.log.LogErrorf("Alert triggered: %s - %s", alert.Title, alert.Description)
	case SeverityWarning:
		la.log.LogWarnf("Alert triggered: %s - %s", alert.Title, alert.Description)
	default:
		la.log.LogInfof("Alert triggered: %s - %s", alert.Title, alert.Description)
	}

	return nil
}
