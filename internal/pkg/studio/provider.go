package studio

import (
	"context"

	"github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/pkg/errors"
)

// SingleProvider serves one statically configured studio backend
type SingleProvider struct {
	cl  api.Studio
	srv string
}

// NewSingleProvider wraps a client into a provider
func NewSingleProvider(cl api.Studio, srv string) *SingleProvider {
	return &SingleProvider{cl: cl, srv: srv}
}

// Get returns the configured backend regardless of the requested key
func (p *SingleProvider) Get(srv string, allowNew bool) (api.Studio, string, error) {
	return p.cl, p.srv, nil
}

// Provider resolves a studio backend instance
type Provider interface {
	Get(srv string, allowNew bool) (api.Studio, string, error)
}

// ProviderBackend adapts a provider to job recovery and cancel calls
type ProviderBackend struct {
	pr Provider
}

// NewProviderBackend creates the adapter
func NewProviderBackend(pr Provider) *ProviderBackend {
	return &ProviderBackend{pr: pr}
}

// ListActive queries the backend for the owner's unfinished jobs
func (b *ProviderBackend) ListActive(ctx context.Context, owner string) ([]api.JobInfo, error) {
	st, _, err := b.pr.Get("", true)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("no studio backend")
	}
	return st.ListActive(ctx, owner)
}

// Cancel asks the backend to stop the job
func (b *ProviderBackend) Cancel(ctx context.Context, jobID string) (bool, error) {
	st, _, err := b.pr.Get("", true)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, errors.New("no studio backend")
	}
	return st.Cancel(ctx, jobID)
}
