package pipeline

import (
	"context"

	"github.com/mjl-/bstore"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/auth"
)

// SetYank flips a version's yanked bit via DELETE /yank or PUT /unyank. It
// does not touch blobs, per spec.md §4.5.
func (p *Publisher) SetYank(ctx context.Context, principal auth.Principal, name, version string, yanked bool) {
	isOwner, err := p.DB.Packages().IsOwner(ctx, name, principalUserID(principal))
	if err != nil && err != bstore.ErrAbsent {
		apierr.Raise(err)
	}
	if !auth.MayPublish(principal, isOwner) {
		panic(apierr.Forbiddenf("not permitted to yank %s", name))
	}
	if _, err := p.DB.Versions().Get(ctx, name, version); err != nil {
		if err == bstore.ErrAbsent {
			panic(apierr.NotFoundf("%s@%s not found", name, version))
		}
		apierr.Raise(err)
	}
	apierr.Raise(p.DB.Versions().SetYanked(ctx, name, version, yanked))
	apierr.Raise(p.Index.Yank(ctx, name, version, yanked))
}

func principalUserID(p auth.Principal) int64 {
	switch {
	case p.User != nil:
		return p.User.ID
	case p.Token != nil:
		return p.Token.UserID
	default:
		return 0
	}
}
