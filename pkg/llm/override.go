package llm

import "context"

// ModelOverrides pins tier names to concrete model IDs, replacing the
// provider's default catalog mapping. Empty fields keep the default.
type ModelOverrides struct {
	Fast      string
	Balanced  string
	Strategic string
}

func (o ModelOverrides) isZero() bool {
	return o.Fast == "" && o.Balanced == "" && o.Strategic == ""
}

// resolve maps a tier-named request to its override. Concrete model IDs
// and unmatched tiers pass through unchanged. An empty request counts
// as the balanced tier, mirroring ResolveModel.
func (o ModelOverrides) resolve(requested string) string {
	if requested == "" {
		requested = string(ModelTierBalanced)
	}
	switch ModelTier(requested) {
	case ModelTierFast:
		if o.Fast != "" {
			return o.Fast
		}
	case ModelTierBalanced:
		if o.Balanced != "" {
			return o.Balanced
		}
	case ModelTierStrategic:
		if o.Strategic != "" {
			return o.Strategic
		}
	}
	return requested
}

// ModelOverrideProvider rewrites tier-named model requests before they
// reach the wrapped provider.
type ModelOverrideProvider struct {
	inner     Provider
	overrides ModelOverrides
}

// NewModelOverrideProvider wraps p with per-tier model overrides. With
// no overrides set, p is returned unchanged.
func NewModelOverrideProvider(p Provider, overrides ModelOverrides) Provider {
	if overrides.isZero() {
		return p
	}
	return &ModelOverrideProvider{inner: p, overrides: overrides}
}

// Name returns the wrapped provider's name.
func (m *ModelOverrideProvider) Name() string {
	return m.inner.Name()
}

// Capabilities returns the wrapped provider's capabilities.
func (m *ModelOverrideProvider) Capabilities() Capabilities {
	return m.inner.Capabilities()
}

// Complete rewrites the requested model and delegates.
func (m *ModelOverrideProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	req.Model = m.overrides.resolve(req.Model)
	return m.inner.Complete(ctx, req)
}
