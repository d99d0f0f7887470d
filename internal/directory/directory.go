// Package directory supplies the authenticated resource owner. The OAuth2
// core treats user management as an external collaborator: it only ever needs
// a principal id to stamp on authorization records and a profile lookup for
// bearer-token resolution.
package directory

import (
	"context"
	"sync"

	"github.com/ghtak/stardust/internal/errorx"
)

// Principal is the resource owner on whose behalf a client acts.
type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Directory resolves principal ids to profiles.
type Directory interface {
	Lookup(ctx context.Context, id int64) (*Principal, error)
}

// StaticDirectory is an in-memory Directory for development and tests.
type StaticDirectory struct {
	mu         sync.RWMutex
	principals map[int64]*Principal
}

func NewStaticDirectory(principals ...*Principal) *StaticDirectory {
	d := &StaticDirectory{principals: make(map[int64]*Principal)}
	for _, p := range principals {
		d.principals[p.ID] = p
	}
	return d
}

// Add registers or replaces a principal.
func (d *StaticDirectory) Add(p *Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

func (d *StaticDirectory) Lookup(ctx context.Context, id int64) (*Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.principals[id]
	if !ok {
		return nil, errorx.NotFound("principal %d", id)
	}
	out := *p
	return &out, nil
}
