package service

import (
	"context"
	"fmt"
	"time"

	"crmsync/internal/strategy"
)

// TouchService marks local entities as changed so the next push window
// includes them. Touching a row that is already pending does nothing.
type TouchService struct {
	Registry *strategy.Registry
	Now      func() time.Time
}

func (t *TouchService) Touch(ctx context.Context, entityType string, ids []uint64) (int64, error) {
	st, ok := t.Registry.ByEntityType(entityType)
	if !ok {
		return 0, fmt.Errorf("%w: %s", strategy.ErrUnknownStrategy, entityType)
	}
	return st.Entities().Touch(ctx, ids, clock(t.Now).now())
}

// TouchExternal marks rows whose CRM copy changed. CRM ids are resolved to
// local rows first; unknown ids are ignored and the next pull creates them.
// The next pull takes the remote values for these rows instead of pushing
// the local ones back.
func (t *TouchService) TouchExternal(ctx context.Context, entityType string, externalIDs []string) (int64, error) {
	st, ok := t.Registry.ByEntityType(entityType)
	if !ok {
		return 0, fmt.Errorf("%w: %s", strategy.ErrUnknownStrategy, entityType)
	}
	ids, err := st.Entities().IDsByExternalIDs(ctx, externalIDs)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return st.Entities().TouchRemote(ctx, ids)
}
