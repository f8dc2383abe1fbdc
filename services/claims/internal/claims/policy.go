package claims

import (
	"context"
	"fmt"
)

// AuthorizationPolicy answers membership questions for the claimant lists and
// the validator roster. Any single validator may authorize; quorum size is
// reported but not aggregated.
type AuthorizationPolicy struct{ e *Engine }

func (p *AuthorizationPolicy) isMember(ctx context.Context, r Roster, id Identity) (bool, error) {
	var ok bool
	err := p.e.view(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		ok, err = tx.IsMember(ctx, r, id)
		return err
	})
	return ok, err
}

func (p *AuthorizationPolicy) IsWhitelisted(ctx context.Context, id Identity) (bool, error) {
	return p.isMember(ctx, RosterWhitelist, id)
}

func (p *AuthorizationPolicy) IsBlacklisted(ctx context.Context, id Identity) (bool, error) {
	return p.isMember(ctx, RosterBlacklist, id)
}

func (p *AuthorizationPolicy) IsAuthorizedValidator(ctx context.Context, id Identity) (bool, error) {
	return p.isMember(ctx, RosterValidators, id)
}

// IsEligibleClaimant is whitelisted and not blacklisted.
func (p *AuthorizationPolicy) IsEligibleClaimant(ctx context.Context, id Identity) (bool, error) {
	var ok bool
	err := p.e.view(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		ok, err = eligibleClaimant(ctx, tx, id)
		return err
	})
	return ok, err
}

func (p *AuthorizationPolicy) QuorumSize(ctx context.Context) (uint64, error) {
	params, err := p.e.Params.Current(ctx)
	if err != nil {
		return 0, err
	}
	return params.QuorumSize, nil
}

func (p *AuthorizationPolicy) Members(ctx context.Context, r Roster) ([]Identity, error) {
	var out []Identity
	err := p.e.view(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Members(ctx, r)
		return err
	})
	return out, err
}

func (p *AuthorizationPolicy) AddToWhitelist(ctx context.Context, caller, id Identity) (bool, error) {
	return p.Add(ctx, caller, RosterWhitelist, id)
}

func (p *AuthorizationPolicy) RemoveFromWhitelist(ctx context.Context, caller, id Identity) (bool, error) {
	return p.Remove(ctx, caller, RosterWhitelist, id)
}

func (p *AuthorizationPolicy) AddToBlacklist(ctx context.Context, caller, id Identity) (bool, error) {
	return p.Add(ctx, caller, RosterBlacklist, id)
}

func (p *AuthorizationPolicy) RemoveFromBlacklist(ctx context.Context, caller, id Identity) (bool, error) {
	return p.Remove(ctx, caller, RosterBlacklist, id)
}

func (p *AuthorizationPolicy) AddValidator(ctx context.Context, caller, id Identity) (bool, error) {
	return p.Add(ctx, caller, RosterValidators, id)
}

func (p *AuthorizationPolicy) RemoveValidator(ctx context.Context, caller, id Identity) (bool, error) {
	return p.Remove(ctx, caller, RosterValidators, id)
}

// Add reports whether id was newly added. Re-adding a member is a no-op.
func (p *AuthorizationPolicy) Add(ctx context.Context, caller Identity, r Roster, id Identity) (bool, error) {
	return p.change(ctx, caller, r, id, true)
}

// Remove reports whether id was present.
func (p *AuthorizationPolicy) Remove(ctx context.Context, caller Identity, r Roster, id Identity) (bool, error) {
	return p.change(ctx, caller, r, id, false)
}

func (p *AuthorizationPolicy) change(ctx context.Context, caller Identity, r Roster, id Identity, add bool) (bool, error) {
	r, err := ParseRoster(string(r))
	if err != nil {
		return false, err
	}
	changed := false
	err = p.e.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := requireOwner(ctx, tx, caller); err != nil {
			return err
		}
		if !id.Valid() {
			return fmt.Errorf("%w: identity is required", ErrInvalidParameter)
		}
		var err error
		if add {
			changed, err = tx.AddMember(ctx, r, id)
		} else {
			changed, err = tx.RemoveMember(ctx, r, id)
		}
		if err != nil || !changed {
			return err
		}
		_, err = appendEvent(ctx, tx, p.e.clock(), eventDraft{kind: rosterEventKind(r, add), actor: caller, payload: RosterChangedPayload{Roster: r, Identity: id}})
		return err
	})
	if err != nil {
		p.e.log.Warn("roster change rejected", "roster", r, "identity", id, "add", add, "caller", caller, "err", err)
		return false, err
	}
	if changed {
		p.e.log.Info("roster changed", "roster", r, "identity", id, "add", add, "caller", caller)
	}
	return changed, nil
}
