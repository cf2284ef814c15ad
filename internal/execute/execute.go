// Package execute implements the worker-side execution pipeline spec.md
// §4.7 describes: resolve driver, render, normalize, connect/send or
// config, disconnect, parse, return. Grounded on the teacher's
// internal/jobs/learning/steps package (a fixed ordered sequence of named
// steps sharing one context struct) generalized from a learning-content
// build pipeline to a device command pipeline.
package execute

import (
	"context"
	"fmt"

	"github.com/scitix/netpulse/internal/apierrors"
	"github.com/scitix/netpulse/internal/credential"
	"github.com/scitix/netpulse/internal/driver"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/parse"
	"github.com/scitix/netpulse/internal/render"
	"github.com/scitix/netpulse/internal/types"
)

// Pipeline runs one ExecutionRequest to completion, never itself raising
// for driver-side failures — those are captured per-command in the
// returned result map (spec.md §4.7 step 4).
type Pipeline struct {
	drivers     *driver.Registry
	renderers   *render.Registry
	parsers     *parse.Registry
	credentials *credential.Resolver
	log         *logging.Logger
}

func NewPipeline(drivers *driver.Registry, renderers *render.Registry, parsers *parse.Registry, creds *credential.Resolver, log *logging.Logger) *Pipeline {
	if creds == nil {
		creds = credential.NewResolver()
	}
	return &Pipeline{drivers: drivers, renderers: renderers, parsers: parsers, credentials: creds, log: log.With("component", "ExecutePipeline")}
}

// resolveCredentials replaces a credential_ref in req.ConnectionArgs with
// inline username/password before any driver sees the request, per
// original_source's CredentialResolver.resolve_credentials.
func (p *Pipeline) resolveCredentials(ctx context.Context, req *types.ExecutionRequest) error {
	resolved, err := p.credentials.Resolve(ctx, req.ConnectionArgs)
	if err != nil {
		return apierrors.Wrap(apierrors.KindValidation, "credential resolution failed", err)
	}
	req.ConnectionArgs = resolved
	return nil
}

// Run executes req end to end and returns the per-command result map
// that the framework persists as the job's result (spec.md §4.7 step 6).
func (p *Pipeline) Run(ctx context.Context, req *types.ExecutionRequest) (map[string]types.DriverExecutionResult, error) {
	if err := p.resolveCredentials(ctx, req); err != nil {
		return nil, err
	}
	factory, ok := p.drivers.Get(req.Driver)
	if !ok {
		return nil, apierrors.NotImplemented("unknown driver: " + req.Driver)
	}
	drv, err := factory.New(req)
	if err != nil {
		return nil, apierrors.Validation(err.Error())
	}
	if err := drv.Validate(req); err != nil {
		return nil, apierrors.Validation(err.Error())
	}

	if req.Rendering != nil {
		if err := p.render(req); err != nil {
			return nil, err
		}
	}

	commands, err := types.NormalizeCommands(req.Payload())
	if err != nil {
		return nil, apierrors.Validation(err.Error())
	}

	results := p.connectAndRun(ctx, drv, req, commands)

	if req.Parsing != nil {
		if err := p.parse(req, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// render implements spec.md §4.7 step 2: merge a dict payload into the
// renderer context, or use the string/list payload as inline template
// source; render both the command/config payload and, if present, the
// driver's own script_content template; clear Rendering so downstream
// steps see a concrete payload.
func (p *Pipeline) render(req *types.ExecutionRequest) error {
	renderer, ok := p.renderers.Get(req.Rendering.Name)
	if !ok {
		return apierrors.NotFound("unknown renderer: " + req.Rendering.Name)
	}

	payload := req.Payload()
	context := req.Rendering.Context
	source := req.Rendering.Template
	if dict, isDict := payload.(map[string]interface{}); isDict {
		if context == nil {
			context = map[string]interface{}{}
		}
		for k, v := range dict {
			context[k] = v
		}
	} else if source == "" {
		joined, ok := types.JoinedTemplateSource(payload)
		if !ok {
			return apierrors.Validation("rendering: payload is not a renderable string/list")
		}
		source = joined
	}

	rendered, err := renderer.Render(source, context)
	if err != nil {
		return apierrors.Wrap(apierrors.KindValidation, "rendering failed", err)
	}
	req.SetPayload(rendered)

	if scriptTmpl, ok := req.DriverArgs["script_content"].(string); ok && scriptTmpl != "" {
		renderedScript, err := renderer.Render(scriptTmpl, context)
		if err != nil {
			return apierrors.Wrap(apierrors.KindValidation, "script_content rendering failed", err)
		}
		req.DriverArgs["script_content"] = renderedScript
	}

	req.Rendering = nil
	return nil
}

// connectAndRun implements spec.md §4.7 step 4: connect once, dispatch
// Send or Config, always disconnect regardless of outcome. A connect
// failure is folded into a result for every requested command rather
// than propagated, so partial results are never lost to a single
// exception (spec.md §7 DriverError policy).
func (p *Pipeline) connectAndRun(ctx context.Context, drv driver.Driver, req *types.ExecutionRequest, commands []string) map[string]types.DriverExecutionResult {
	sess, err := drv.Connect(ctx, req.ConnectionArgs)
	if err != nil {
		return failAll(commands, err)
	}
	defer func() {
		if derr := drv.Disconnect(ctx, sess, false); derr != nil {
			p.log.Warn("disconnect failed", "host", req.ConnectionArgs.Host(), "error", derr)
		}
	}()

	var results map[string]types.DriverExecutionResult
	var runErr error
	if req.IsConfig() {
		results, runErr = drv.Config(ctx, sess, commands)
	} else {
		results, runErr = drv.Send(ctx, sess, commands)
	}
	if runErr != nil {
		return failAll(commands, runErr)
	}
	return results
}

// parse implements spec.md §4.7 step 5: apply the named parser to each
// command's output, storing the parsed structure alongside it.
func (p *Pipeline) parse(req *types.ExecutionRequest, results map[string]types.DriverExecutionResult) error {
	parser, ok := p.parsers.Get(req.Parsing.Name)
	if !ok {
		return apierrors.NotFound("unknown parser: " + req.Parsing.Name)
	}
	for key, res := range results {
		output, ok := res.Output.(string)
		if !ok {
			return apierrors.Validation(fmt.Sprintf("parsing: command %q output is not a string", key))
		}
		parsed, err := parser.Parse(req.Parsing.Template, output)
		if err != nil {
			return apierrors.Wrap(apierrors.KindValidation, "parsing failed", err)
		}
		res.Parsed = parsed
		results[key] = res
	}
	return nil
}
