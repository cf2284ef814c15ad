// Package credential implements the credential-reference indirection
// supplemented from original_source/netpulse/services/credential_resolver.py:
// connection_args may carry a {provider, path} reference instead of inline
// secrets, resolved once per (provider, path) and cached. Vault and other
// external backends are plugins and stay out of scope per spec.md §1
// ("vault credential plugins"); Resolver here ships a single built-in
// "inline" provider that resolves against a process-local credential
// store, grounded on the original's provider-registry + cache shape.
package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/scitix/netpulse/internal/types"
)

// Provider fetches the raw secret fields for one credential reference.
// Real backends (Vault KV, cloud secret managers) are plugins; only
// "inline" ships here.
type Provider interface {
	Name() string
	GetCredentials(ctx context.Context, path string) (map[string]string, error)
}

// Resolver resolves a ConnectionArgs' credential_ref (if any) into inline
// username/password fields, caching per (provider, path) the way the
// original's CredentialResolver does.
type Resolver struct {
	mu        sync.Mutex
	providers map[string]Provider
	cache     map[string]map[string]string
}

func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider, len(providers)),
		cache:     make(map[string]map[string]string),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func DefaultResolver(store map[string]map[string]string) *Resolver {
	return NewResolver(NewInlineProvider(store))
}

// Resolve returns conn unchanged if it carries no credential_ref;
// otherwise it fetches (or reuses a cached fetch of) the referenced
// secret and returns a copy of conn with username/password populated and
// credential_ref cleared, matching the original's
// `connection_args.model_copy(update={...})` semantics.
func (r *Resolver) Resolve(ctx context.Context, conn types.ConnectionArgs) (types.ConnectionArgs, error) {
	ref, ok := conn.CredentialRef()
	if !ok {
		return conn, nil
	}

	cacheKey := ref.Provider + ":" + ref.Path
	r.mu.Lock()
	creds, cached := r.cache[cacheKey]
	r.mu.Unlock()

	if !cached {
		provider, ok := r.providers[ref.Provider]
		if !ok {
			return nil, fmt.Errorf("credential: unknown provider %q", ref.Provider)
		}
		fetched, err := provider.GetCredentials(ctx, ref.Path)
		if err != nil {
			return nil, fmt.Errorf("credential: resolve %s:%s: %w", ref.Provider, ref.Path, err)
		}
		r.mu.Lock()
		r.cache[cacheKey] = fetched
		r.mu.Unlock()
		creds = fetched
	}

	out := make(types.ConnectionArgs, len(conn))
	for k, v := range conn {
		out[k] = v
	}
	delete(out, "credential_ref")
	if u, ok := creds["username"]; ok {
		out["username"] = u
	}
	if p, ok := creds["password"]; ok {
		out["password"] = p
	}
	return out, nil
}

// InlineProvider resolves against a process-local map keyed by path,
// the stand-in for a real secret backend (spec.md §1 excludes vault
// credential plugins from this exercise's scope).
type InlineProvider struct {
	mu     sync.RWMutex
	byPath map[string]map[string]string
}

func NewInlineProvider(seed map[string]map[string]string) *InlineProvider {
	p := &InlineProvider{byPath: make(map[string]map[string]string, len(seed))}
	for path, creds := range seed {
		cp := make(map[string]string, len(creds))
		for k, v := range creds {
			cp[k] = v
		}
		p.byPath[path] = cp
	}
	return p
}

func (p *InlineProvider) Name() string { return "inline" }

func (p *InlineProvider) GetCredentials(_ context.Context, path string) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	creds, ok := p.byPath[path]
	if !ok {
		return nil, fmt.Errorf("credential: no inline entry at path %q", path)
	}
	return creds, nil
}

// Put registers (or replaces) the credentials stored at path, used by
// deployments that seed the inline provider from their own secret store
// at startup rather than at request time.
func (p *InlineProvider) Put(path string, creds map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make(map[string]string, len(creds))
	for k, v := range creds {
		cp[k] = v
	}
	p.byPath[path] = cp
}
