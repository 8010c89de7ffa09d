package media

import (
	"context"
	"sync"

	"github.com/hyperjump/storyhook/internal/models"
)

type passKey struct{}

type passEntry struct {
	recordID int64
	url      string
}

type passResult struct {
	asset *models.Asset
	err   error
}

// pass remembers sideload outcomes for one rewrite of one document.
type pass struct {
	mu   sync.Mutex
	done map[passEntry]passResult
}

// WithPass returns a context carrying a fresh sideload pass. A context that
// already carries one is returned unchanged.
func WithPass(ctx context.Context) context.Context {
	if passFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, passKey{}, &pass{done: make(map[passEntry]passResult)})
}

func passFrom(ctx context.Context) *pass {
	p, _ := ctx.Value(passKey{}).(*pass)
	return p
}

func (p *pass) lookup(recordID int64, url string) (passResult, bool) {
	if p == nil {
		return passResult{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.done[passEntry{recordID, url}]
	return r, ok
}

func (p *pass) store(recordID int64, url string, asset *models.Asset, err error) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.done[passEntry{recordID, url}] = passResult{asset, err}
	p.mu.Unlock()
}
