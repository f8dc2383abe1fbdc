package claims

import (
	"context"
	"fmt"
)

// ParameterStore holds the bounded governance parameters.
type ParameterStore struct{ e *Engine }

func (s *ParameterStore) Current(ctx context.Context) (ParameterSet, error) {
	var out ParameterSet
	err := s.e.view(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Parameters(ctx)
		return err
	})
	return out, err
}

func (s *ParameterStore) UpdateThreshold(ctx context.Context, caller Identity, threshold uint64) (ParameterSet, error) {
	return s.updateValue(ctx, caller, EventThresholdUpdated, threshold, ValidateThreshold, func(p *ParameterSet) *uint64 { return &p.LiquidationThreshold })
}

func (s *ParameterStore) UpdateFee(ctx context.Context, caller Identity, fee uint64) (ParameterSet, error) {
	return s.updateValue(ctx, caller, EventFeeUpdated, fee, ValidateFee, func(p *ParameterSet) *uint64 { return &p.FeePercentage })
}

func (s *ParameterStore) UpdateQuorum(ctx context.Context, caller Identity, quorum uint64) (ParameterSet, error) {
	return s.updateValue(ctx, caller, EventQuorumUpdated, quorum, ValidateQuorum, func(p *ParameterSet) *uint64 { return &p.QuorumSize })
}

func (s *ParameterStore) updateValue(ctx context.Context, caller Identity, kind EventKind, value uint64, validate func(uint64) error, field func(*ParameterSet) *uint64) (ParameterSet, error) {
	var out ParameterSet
	var previous uint64
	err := s.e.update(ctx, func(ctx context.Context, tx Tx) error {
		p, err := requireOwner(ctx, tx, caller)
		if err != nil {
			return err
		}
		if err := validate(value); err != nil {
			return err
		}
		previous = *field(&p)
		*field(&p) = value
		if err := tx.SaveParameters(ctx, p); err != nil {
			return err
		}
		if _, err := appendEvent(ctx, tx, s.e.clock(), eventDraft{kind: kind, actor: caller, payload: ParameterChangedPayload{Previous: previous, Current: value}}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		s.e.log.Warn("parameter update rejected", "kind", kind, "caller", caller, "value", value, "err", err)
		return ParameterSet{}, err
	}
	s.e.log.Info("parameter updated", "kind", kind, "caller", caller, "previous", previous, "current", value)
	return out, nil
}

func (s *ParameterStore) TransferOwnership(ctx context.Context, caller, next Identity) (ParameterSet, error) {
	var out ParameterSet
	err := s.e.update(ctx, func(ctx context.Context, tx Tx) error {
		p, err := requireOwner(ctx, tx, caller)
		if err != nil {
			return err
		}
		if !next.Valid() {
			return fmt.Errorf("%w: new owner is required", ErrInvalidParameter)
		}
		p.Owner = next
		if err := tx.SaveParameters(ctx, p); err != nil {
			return err
		}
		if _, err := appendEvent(ctx, tx, s.e.clock(), eventDraft{kind: EventOwnershipTransferred, actor: caller, payload: OwnershipTransferredPayload{Previous: caller, Current: next}}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		s.e.log.Warn("ownership transfer rejected", "caller", caller, "next", next, "err", err)
		return ParameterSet{}, err
	}
	s.e.log.Info("ownership transferred", "previous", caller, "current", next)
	return out, nil
}

// Pause halts submission, verification and settlement. Reads stay available.
func (s *ParameterStore) Pause(ctx context.Context, caller Identity) (ParameterSet, error) {
	return s.setPaused(ctx, caller, true)
}

func (s *ParameterStore) Unpause(ctx context.Context, caller Identity) (ParameterSet, error) {
	return s.setPaused(ctx, caller, false)
}

func (s *ParameterStore) setPaused(ctx context.Context, caller Identity, paused bool) (ParameterSet, error) {
	kind := EventUnpaused
	if paused {
		kind = EventPaused
	}
	var out ParameterSet
	err := s.e.update(ctx, func(ctx context.Context, tx Tx) error {
		p, err := requireOwner(ctx, tx, caller)
		if err != nil {
			return err
		}
		if p.Paused == paused {
			if paused {
				return fmt.Errorf("%w: already paused", ErrPaused)
			}
			return fmt.Errorf("%w: not paused", ErrInvalidParameter)
		}
		p.Paused = paused
		if err := tx.SaveParameters(ctx, p); err != nil {
			return err
		}
		if _, err := appendEvent(ctx, tx, s.e.clock(), eventDraft{kind: kind, actor: caller, payload: emptyPayload{}}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		s.e.log.Warn("pause toggle rejected", "kind", kind, "caller", caller, "err", err)
		return ParameterSet{}, err
	}
	s.e.log.Info("pause toggled", "kind", kind, "caller", caller)
	return out, nil
}
