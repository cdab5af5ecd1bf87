package game

import (
	"errors"
	"fmt"

	"flood-duel/internal/config"
)

// Error taxonomy. Details wrap their category so callers can match either.
var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrAlreadyInPhase      = fmt.Errorf("%w: already in phase", ErrInvalidTransition)
	ErrTransitionsLocked   = fmt.Errorf("%w: transitions locked", ErrInvalidTransition)
	ErrTransitionsDisabled = fmt.Errorf("%w: transitions disabled", ErrInvalidTransition)
	ErrReentrantTransition = fmt.Errorf("%w: transition issued from a phase hook", ErrInvalidTransition)

	ErrInvalidCommand    = errors.New("invalid command")
	ErrInvalidMaterial   = fmt.Errorf("%w: invalid material", ErrInvalidCommand)
	ErrUnknownPlayer     = fmt.Errorf("%w: unknown player", ErrInvalidCommand)
	ErrNotConnected      = fmt.Errorf("%w: player not connected", ErrInvalidCommand)
	ErrSelfTarget        = fmt.Errorf("%w: cannot target yourself", ErrInvalidCommand)
	ErrInvalidDamage     = fmt.Errorf("%w: damage must be positive", ErrInvalidCommand)
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", ErrInvalidCommand)
	ErrWrongPhase        = fmt.Errorf("%w: not allowed in current phase", ErrInvalidCommand)
	ErrDikeFull          = fmt.Errorf("%w: dike at maximum height", ErrInvalidCommand)
	ErrNameInUse         = fmt.Errorf("%w: name already in use", ErrInvalidCommand)
	ErrNameRequired      = fmt.Errorf("%w: name is required", ErrInvalidCommand)
	ErrSurrenderDisabled = fmt.Errorf("%w: surrender disabled", ErrInvalidCommand)
	ErrAwaitingReconnect = fmt.Errorf("%w: waiting for a player to reconnect", ErrInvalidCommand)

	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrAlreadyDeclared  = errors.New("victory already declared")
	ErrEngineStopped    = errors.New("engine stopped")

	ErrConfigurationMissing = config.ErrConfigurationMissing
)
