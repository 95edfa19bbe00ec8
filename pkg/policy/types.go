package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but never blocks a verb.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the verb.
	SeverityError Severity = "error"

	// SeverityCritical blocks the verb.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity stops the verb.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. The module must define a "deny" set in
// its package; each element is a message string or an object with
// "message", "severity" and "resource" keys.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the dot-joined name of the offending resource.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as "input".
type Input struct {
	// Root is the root resource of the graph.
	Root ResourceInput `json:"root"`

	// Resources lists every owned resource in discovery order.
	Resources []ResourceInput `json:"resources"`

	// Variables maps each variable's dot-joined path to its current
	// value. Unset variables without a default are absent.
	Variables map[string]any `json:"variables"`

	// Context describes the invocation.
	Context Context `json:"context"`
}

// ResourceInput is the policy view of one resource.
type ResourceInput struct {
	// Type is the resource's type tag.
	Type string `json:"type"`

	// Name is the dot-joined path of the resource.
	Name string `json:"name"`

	// Vars maps field names to the current values of set variables.
	Vars map[string]any `json:"vars"`

	// Refs maps reference field names to the name of the resource they
	// reach, following aliases. Unbound references are absent.
	Refs map[string]string `json:"refs"`

	// Lists maps reference list field names to the names they reach.
	Lists map[string][]string `json:"lists,omitempty"`
}

// Context describes the invocation under evaluation.
type Context struct {
	// Operation is the verb being run ("up", "down", "check").
	Operation string `json:"operation"`

	// Environment is the deployment environment from the settings.
	Environment string `json:"environment,omitempty"`

	// DryRun is true for verbs that do not touch the world.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// Bundle is a collection of related policies in one file.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name" yaml:"name"`

	// Version is the bundle version.
	Version string `json:"version" yaml:"version"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies" yaml:"policies"`
}
