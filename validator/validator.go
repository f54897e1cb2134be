// Package validator implements the Plan Validator: a pure, rule-based risk
// assessment over an ExecutionPlan, operating under a strict information
// barrier (its Validate function accepts only the plan and its own
// configuration — never user text, conversation history, retrieved
// memories, or the plugin catalog).
package validator

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shreyasdbz/axis/core"
)

// destructive action classes, per spec §4.5's risk-floor rule.
var riskFloorActions = map[string]core.RiskLevel{
	"fs.delete":       core.RiskMedium,
	"fs.write":        core.RiskMedium,
	"credential.read": core.RiskMedium,
	"payment.send":    core.RiskMedium,
	"shell.exec":      core.RiskMedium,
}

// PolicyConfig is the Validator's sole external input besides the plan
// itself — an explicit configuration struct per spec §9's "duck-typed
// config objects -> explicit configuration structs" redesign.
type PolicyConfig struct {
	WorkspaceRoot              string   `yaml:"workspaceRoot"`
	AllowedProtocols           []string `yaml:"allowedProtocols"`
	AllowedDomains             []string `yaml:"allowedDomains"`
	MaxTransactionAmountUSD    float64  `yaml:"maxTransactionAmountUsd"`
	UnboundedShellPatterns     []string `yaml:"unboundedShellPatterns"` // action names considered "unbounded" shell exec
	UnboundedPaymentMissingCap bool     `yaml:"unboundedPaymentMissingCap"` // true if a payment action lacks any declared cap
}

// LoadPolicyConfig reads a PolicyConfig from a YAML file (configs/policy.yaml
// by convention), parsing declarative configuration with gopkg.in/yaml.v3
// rather than encoding policy in code.
func LoadPolicyConfig(path string) (PolicyConfig, error) {
	var cfg PolicyConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read policy config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse policy config: %w", err)
	}
	return cfg, nil
}

// RuleBasedPolicy is the Plan Validator: a pure struct over a declarative
// config, with private predicate methods for the shell, payment,
// filesystem, network and monetary rules; the risk-floor and critical-step
// checks run inline in evaluateStep.
type RuleBasedPolicy struct {
	config PolicyConfig
	logger core.Logger
}

// Option configures a RuleBasedPolicy.
type Option func(*RuleBasedPolicy)

func WithLogger(l core.Logger) Option { return func(p *RuleBasedPolicy) { p.logger = l } }

// NewRuleBasedPolicy builds a validator over config.
func NewRuleBasedPolicy(config PolicyConfig, opts ...Option) *RuleBasedPolicy {
	p := &RuleBasedPolicy{config: config, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate is the information barrier: its signature accepts only a plan
// value, which carries no user-text or catalog fields, so the barrier is
// enforced structurally by the type system rather than by a runtime filter.
func (p *RuleBasedPolicy) Validate(plan *core.ExecutionPlan) *core.ValidationResult {
	result := &core.ValidationResult{
		ID:     core.NewID(),
		PlanID: plan.ID,
	}

	overallVerdict := core.VerdictApproved
	overallRisk := core.RiskLow

	for _, step := range plan.Steps {
		sr := p.evaluateStep(step)
		result.StepResults = append(result.StepResults, sr)
		if sr.Verdict.MoreRestrictive(overallVerdict) {
			overallVerdict = sr.Verdict
		}
		overallRisk = core.MaxRisk(overallRisk, sr.RiskLevel)
	}

	result.Verdict = overallVerdict
	result.OverallRisk = overallRisk
	return result
}

func (p *RuleBasedPolicy) evaluateStep(step core.PlanStep) core.StepResult {
	verdict := core.VerdictApproved
	category := ""
	reasoning := ""
	risk := step.RiskLevel

	raise := func(v core.Verdict, cat, reason string) {
		if v.MoreRestrictive(verdict) {
			verdict = v
			category = cat
			reasoning = reason
		}
	}

	if floor, ok := riskFloorActions[step.Action]; ok {
		risk = core.MaxRisk(risk, floor)
		raise(core.VerdictNeedsApproval, "risk_floor", "action class requires user approval")
	}
	if p.isUnboundedShell(step) {
		raise(core.VerdictRejected, "risk_floor", "unbounded shell execution is never auto-approved")
	}
	if p.isUnboundedPayment(step) {
		raise(core.VerdictRejected, "risk_floor", "payment step declares no bounded amount")
	}
	if v, cat, reason, ok := p.filesystemScope(step); ok {
		raise(v, cat, reason)
	}
	if v, cat, reason, ok := p.networkScope(step); ok {
		raise(v, cat, reason)
	}
	if v, cat, reason, ok := p.monetaryCap(step); ok {
		raise(v, cat, reason)
	}
	if step.RiskLevel == core.RiskCritical {
		raise(core.VerdictNeedsApproval, "step_risk_level", "critical-risk step requires user approval")
	}

	return core.StepResult{
		StepID:    step.ID,
		Verdict:   verdict,
		RiskLevel: risk,
		Category:  category,
		Reasoning: reasoning,
	}
}

func (p *RuleBasedPolicy) isUnboundedShell(step core.PlanStep) bool {
	if step.Action != "shell.exec" {
		return false
	}
	for _, pattern := range p.config.UnboundedShellPatterns {
		if cmd, ok := step.Parameters["command"].(string); ok && strings.Contains(cmd, pattern) {
			return true
		}
	}
	return false
}

func (p *RuleBasedPolicy) isUnboundedPayment(step core.PlanStep) bool {
	if step.Action != "payment.send" {
		return false
	}
	_, ok := toFloat(step.Parameters["amount"])
	return !ok
}

func (p *RuleBasedPolicy) filesystemScope(step core.PlanStep) (core.Verdict, string, string, bool) {
	path, ok := step.Parameters["path"].(string)
	if !ok || path == "" {
		return "", "", "", false
	}
	if filepath.IsAbs(path) && !strings.HasPrefix(filepath.Clean(path), filepath.Clean(p.config.WorkspaceRoot)) {
		return core.VerdictRejected, "filesystem_scope", "absolute path escapes workspace root"
	}
	cleaned := filepath.Clean(filepath.Join(p.config.WorkspaceRoot, path))
	if !strings.HasPrefix(cleaned, filepath.Clean(p.config.WorkspaceRoot)) {
		return core.VerdictRejected, "filesystem_scope", "path traverses outside workspace root"
	}
	return "", "", "", false
}

func (p *RuleBasedPolicy) networkScope(step core.PlanStep) (core.Verdict, string, string, bool) {
	raw, ok := step.Parameters["url"].(string)
	if !ok || raw == "" {
		return "", "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return core.VerdictRejected, "network_scope", "unparseable URL"
	}
	if !containsString(p.config.AllowedProtocols, u.Scheme) {
		return core.VerdictRejected, "network_scope", "protocol not in allowed set"
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
		return core.VerdictRejected, "network_scope", "private/loopback/link-local host denied"
	}
	if strings.EqualFold(host, "localhost") {
		return core.VerdictRejected, "network_scope", "private/loopback/link-local host denied"
	}
	if !domainAllowed(host, p.config.AllowedDomains) {
		return core.VerdictRejected, "network_scope", "host not in allowed domain set"
	}
	return "", "", "", false
}

func domainAllowed(host string, allowed []string) bool {
	for _, d := range allowed {
		if strings.EqualFold(host, d) {
			return true
		}
		if strings.HasPrefix(d, "*.") && strings.HasSuffix(strings.ToLower(host), strings.ToLower(d[1:])) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func (p *RuleBasedPolicy) monetaryCap(step core.PlanStep) (core.Verdict, string, string, bool) {
	amount, ok := toFloat(step.Parameters["amount"])
	if !ok {
		return "", "", "", false
	}
	if amount > p.config.MaxTransactionAmountUSD {
		return core.VerdictRejected, "monetary_cap", "amount exceeds maximum transaction cap"
	}
	return "", "", "", false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
