// Package types holds the shared data-model structs spec.md §3 defines —
// NodeInfo, ExecutionRequest, DriverExecutionResult, BatchFailedItem — kept
// dependency-free so queue, driver, scheduler, dispatcher, and execute can
// all import it without cycles. Grounded on the teacher's internal/types
// package layout (one small struct per file, JSON tags throughout).
package types

import (
	"fmt"
	"strings"
)

// QueueStrategy is ExecutionRequest.QueueStrategy (spec.md §3).
type QueueStrategy string

const (
	StrategyPinned QueueStrategy = "pinned"
	StrategyFIFO   QueueStrategy = "fifo"
)

// NodeInfo is one worker-host container record (spec.md §3).
type NodeInfo struct {
	Hostname string `json:"hostname"`
	Count    int    `json:"count"`
	Capacity int    `json:"capacity"`
	Queue    string `json:"queue"`
}

func (n NodeInfo) Remaining() int { return n.Capacity - n.Count }
func (n NodeInfo) HasCapacity() bool { return n.Count < n.Capacity }

// RenderSpec selects and parameterizes a template renderer
// (spec.md §3 ExecutionRequest.rendering, §4.7).
type RenderSpec struct {
	Name     string                 `json:"name"`
	Template string                 `json:"template,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// ParseSpec selects a post-execution output parser (spec.md §4.7).
type ParseSpec struct {
	Name     string `json:"name"`
	Template string `json:"template,omitempty"`
}

// WebhookSpec is the caller-supplied webhook target (spec.md §4.8).
type WebhookSpec struct {
	URL      string            `json:"url"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Timeout  int               `json:"timeout_seconds,omitempty"`
	AuthUser string            `json:"auth_user,omitempty"`
	AuthPass string            `json:"auth_pass,omitempty"`
}

// CredentialRef is the supplemented credential-reference indirection from
// original_source/netpulse/plugins/credentials: connection_args may carry
// a reference instead of inline secrets, resolved by a CredentialResolver.
type CredentialRef struct {
	Provider string `json:"provider"`
	Path     string `json:"path"`
}

// ConnectionArgs is intentionally a loose bag: each driver decodes the
// fields it understands (host is the one field every driver requires).
type ConnectionArgs map[string]interface{}

func (c ConnectionArgs) Host() string {
	if v, ok := c["host"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MergeOverride returns a copy of c with override's keys layered on top,
// matching the bulk-request contract: a per-device connection_args
// "overrides fields in connection_args" rather than replacing it wholesale.
func (c ConnectionArgs) MergeOverride(override ConnectionArgs) ConnectionArgs {
	merged := make(ConnectionArgs, len(c)+len(override))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func (c ConnectionArgs) CredentialRef() (CredentialRef, bool) {
	v, ok := c["credential_ref"]
	if !ok {
		return CredentialRef{}, false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return CredentialRef{}, false
	}
	ref := CredentialRef{}
	if p, ok := m["provider"].(string); ok {
		ref.Provider = p
	}
	if p, ok := m["path"].(string); ok {
		ref.Path = p
	}
	return ref, ref.Provider != ""
}

// ExecutionRequest is the typed request payload spec.md §3 defines.
// Command/Config carry either a string, a []string, or (only alongside a
// matching RenderSpec) a map — enforced by Validate, not by the Go type.
type ExecutionRequest struct {
	Driver         string                 `json:"driver"`
	ConnectionArgs ConnectionArgs         `json:"connection_args"`
	Command        interface{}            `json:"command,omitempty"`
	Config         interface{}            `json:"config,omitempty"`
	DriverArgs     map[string]interface{} `json:"driver_args,omitempty"`
	Rendering      *RenderSpec            `json:"rendering,omitempty"`
	Parsing        *ParseSpec             `json:"parsing,omitempty"`
	QueueStrategy  QueueStrategy          `json:"queue_strategy,omitempty"`
	TTLSeconds     int                    `json:"ttl,omitempty"`
	Webhook        *WebhookSpec           `json:"webhook,omitempty"`
}

const maxTTLSeconds = 24 * 60 * 60

// Validate enforces the construction invariants spec.md §3 lists:
// exactly one of command/config, dict payload requires matching
// rendering, and ttl is bounded.
func (r *ExecutionRequest) Validate() error {
	hasCommand := r.Command != nil
	hasConfig := r.Config != nil
	if hasCommand == hasConfig {
		return fmt.Errorf("exactly one of command or config must be set")
	}
	payload := r.Command
	if hasConfig {
		payload = r.Config
	}
	if _, isMap := payload.(map[string]interface{}); isMap && r.Rendering == nil {
		return fmt.Errorf("dict payload requires a matching rendering spec")
	}
	if r.ConnectionArgs.Host() == "" {
		return fmt.Errorf("connection_args.host is required")
	}
	if r.TTLSeconds < 0 || r.TTLSeconds > maxTTLSeconds {
		return fmt.Errorf("ttl out of bounds (0-%d seconds)", maxTTLSeconds)
	}
	return nil
}

// IsConfig reports whether this request is a config-push rather than a
// command execution (affects which driver method is called).
func (r *ExecutionRequest) IsConfig() bool { return r.Config != nil }

// Payload returns whichever of Command/Config is set.
func (r *ExecutionRequest) Payload() interface{} {
	if r.Config != nil {
		return r.Config
	}
	return r.Command
}

// SetPayload overwrites whichever of Command/Config was set, used by the
// render stage once a dict payload has been rendered to a concrete string.
func (r *ExecutionRequest) SetPayload(v interface{}) {
	if r.Config != nil {
		r.Config = v
	} else {
		r.Command = v
	}
}

// NormalizeCommands turns Command/Config (string, []string, or []interface{})
// into a flat []string, one entry per list item; it never joins entries
// (JoinedTemplateSource does that for rendering).
func NormalizeCommands(payload interface{}) ([]string, error) {
	switch v := payload.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("normalize: list payload entries must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("normalize: unsupported payload type %T", payload)
	}
}

// JoinedTemplateSource renders a list payload as a single template source,
// joined with newlines (spec.md §4.7 step 2).
func JoinedTemplateSource(payload interface{}) (string, bool) {
	switch v := payload.(type) {
	case string:
		return v, true
	case []string:
		return strings.Join(v, "\n"), true
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n"), true
	default:
		return "", false
	}
}

// DriverExecutionResult is the per-command/config-set outcome (spec.md §3).
type DriverExecutionResult struct {
	Output        interface{}            `json:"output,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ExitStatus    int                    `json:"exit_status"`
	Telemetry     map[string]interface{} `json:"telemetry,omitempty"`
	Parsed        interface{}            `json:"parsed,omitempty"`
}

// BatchFailedItem is one host that could not be enqueued in a bulk request.
type BatchFailedItem struct {
	Host   string `json:"host"`
	Reason string `json:"reason"`
}

// DeviceTestInfo is Driver.Test's return value (spec.md §4.5).
type DeviceTestInfo struct {
	Prompt    string `json:"prompt,omitempty"`
	Transport string `json:"transport,omitempty"`
	Healthy   bool   `json:"healthy"`
}
