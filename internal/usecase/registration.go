package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// Effect is an action the driver performs after a transition.
type Effect int

const (
	// EffectReattempt calls register again.
	EffectReattempt Effect = iota
	// EffectForceHardware turns hardware data submission on.
	EffectForceHardware
	// EffectManualInteraction runs the out-of-band user step.
	EffectManualInteraction
	// EffectReconcile fetches the task list and applies it.
	EffectReconcile
)

func (e Effect) String() string {
	switch e {
	case EffectReattempt:
		return "reattempt"
	case EffectForceHardware:
		return "force-hardware"
	case EffectManualInteraction:
		return "manual-interaction"
	case EffectReconcile:
		return "reconcile"
	default:
		return "unknown"
	}
}

// Transition maps the status code of a registration attempt to the next
// state and the effects to run. Terminal states absorb every code.
func Transition(state domain.RegistrationState, code domain.StatusCode) (domain.RegistrationState, []Effect) {
	if state.Terminal() {
		return state, nil
	}

	switch code {
	case domain.CodeSuccess:
		return domain.StateDone, []Effect{EffectReconcile}
	case domain.CodeRetry:
		return domain.StateAttempting, []Effect{EffectReattempt}
	case domain.CodeConflict:
		return domain.StateConflict, []Effect{EffectForceHardware, EffectReattempt}
	case domain.CodeManual:
		return domain.StateManualInteraction, []Effect{EffectManualInteraction, EffectReattempt}
	case domain.CodeNoProduct, domain.CodeNoProductAlt:
		return domain.StateNoProduct, nil
	case domain.CodeTargetInit:
		return domain.StateTargetError, nil
	case domain.CodeNoBrowser:
		return domain.StateNoBrowser, nil
	case domain.CodeSourceManager:
		return domain.StateSourceManagerError, nil
	default:
		return domain.StateUnknownError, nil
	}
}

// RegistrarConfig bounds and tunes the registration loop.
type RegistrarConfig struct {
	ServerURL string
	// MaxAttempts caps register calls per run; zero means unbounded.
	MaxAttempts int
	// AttemptTimeout bounds each server call; zero means no timeout.
	AttemptTimeout time.Duration
	// Automated skips applying the task list; an automated installation
	// applies sources itself later.
	Automated bool
	// Refresh refreshes all sources after applying the task list.
	Refresh bool
}

// RegistrationRequest is what one registration run submits.
type RegistrationRequest struct {
	SessionID   string
	Credentials domain.Credentials
	// Addons in registration order.
	Addons []domain.Addon
}

// Outcome is the terminal result of a registration run.
type Outcome struct {
	State   domain.RegistrationState
	Code    domain.StatusCode
	Message string
	// Result is set when the task list was applied.
	Result *domain.ReconciliationResult
	// Err is set for fatal and cancelled outcomes.
	Err error
}

// Registrar drives the registration state machine. It performs the I/O
// between transitions: session setup, server calls, hardware profiling,
// the manual interaction step and reconciliation.
type Registrar struct {
	client     domain.RegistrationClient
	agent      domain.InteractionAgent
	profiler   domain.HardwareProfiler
	reconciler *Reconciler
	cfg        RegistrarConfig
	logger     *zap.Logger
}

// NewRegistrar creates a registration driver.
func NewRegistrar(
	client domain.RegistrationClient,
	agent domain.InteractionAgent,
	profiler domain.HardwareProfiler,
	reconciler *Reconciler,
	cfg RegistrarConfig,
	logger *zap.Logger,
) *Registrar {
	return &Registrar{
		client:     client,
		agent:      agent,
		profiler:   profiler,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run loops until the attempt reaches a terminal state. Cancelling ctx
// abandons the loop; reconciliation steps already applied stay applied.
func (r *Registrar) Run(ctx context.Context, attempt *domain.RegistrationAttempt, req RegistrationRequest) *Outcome {
	out := &Outcome{}

	for !attempt.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return r.finish(attempt, out, domain.StateCancelled, fmt.Errorf("%w: %w", domain.ErrCancelled, err))
		}
		if r.cfg.MaxAttempts > 0 && attempt.Iterations >= r.cfg.MaxAttempts {
			return r.finish(attempt, out, domain.StateTargetError,
				fmt.Errorf("%w: %w after %d attempts", domain.ErrTargetInit, domain.ErrAttemptLimit, attempt.Iterations))
		}

		if err := r.ensureInitialized(ctx, attempt, req); err != nil {
			if ctx.Err() != nil {
				return r.finish(attempt, out, domain.StateCancelled, fmt.Errorf("%w: %w", domain.ErrCancelled, err))
			}
			return r.finish(attempt, out, domain.StateTargetError, fmt.Errorf("%w: %w", domain.ErrTargetInit, err))
		}

		attempt.Iterations++
		resp, err := r.register(ctx, attempt, req)
		if err != nil {
			if ctx.Err() != nil {
				return r.finish(attempt, out, domain.StateCancelled, fmt.Errorf("%w: %w", domain.ErrCancelled, err))
			}
			return r.finish(attempt, out, domain.StateTargetError, fmt.Errorf("%w: register call: %w", domain.ErrTargetInit, err))
		}

		attempt.Code = resp.Code
		out.Code = resp.Code
		out.Message = resp.Message

		next, effects := Transition(attempt.State, resp.Code)
		r.moveTo(attempt, next)

		for _, effect := range effects {
			switch effect {
			case EffectForceHardware:
				if attempt.HardwareForced {
					return r.finish(attempt, out, domain.StateUnknownError,
						fmt.Errorf("%w: data conflict persists after hardware submission: %s", domain.ErrUnknownStatus, resp.Message))
				}
				hw, err := r.profiler.Profile()
				if err != nil {
					return r.finish(attempt, out, domain.StateTargetError,
						fmt.Errorf("%w: collecting hardware data: %w", domain.ErrTargetInit, err))
				}
				attempt.HardwareForced = true
				attempt.Hardware = hw
				r.logger.Info("hardware data submission forced on", zap.String("hostname", hw.Hostname))

			case EffectManualInteraction:
				if resp.Message != "" {
					if attempt.ManualText != "" {
						attempt.ManualText += "\n"
					}
					attempt.ManualText += resp.Message
				}
				if err := r.agent.Interact(ctx, resp.URL, resp.Message); err != nil {
					return r.interactionFailed(ctx, attempt, out, err)
				}

			case EffectReconcile:
				if r.cfg.Automated {
					r.logger.Info("registration done, source setup left to the caller")
					continue
				}
				out.Result = r.reconcile(ctx)

			case EffectReattempt:
			}
		}
	}

	return r.finish(attempt, out, attempt.State, r.terminalError(attempt.State, attempt.Code, out.Message))
}

// ensureInitialized sets the session up unless the same context was
// already used for a successful setup.
func (r *Registrar) ensureInitialized(ctx context.Context, attempt *domain.RegistrationAttempt, req RegistrationRequest) error {
	sc := r.sessionContext(attempt, req)
	fp, err := Fingerprint(sc)
	if err != nil {
		return err
	}
	if attempt.Initialized && fp == attempt.Fingerprint {
		r.logger.Debug("session context unchanged, skipping setup",
			zap.String("session", req.SessionID),
			zap.Int("generation", attempt.Generation))
		return nil
	}

	if attempt.State == domain.StateUninitialized {
		r.moveTo(attempt, domain.StateInitializing)
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	if err := r.client.Init(callCtx, sc); err != nil {
		attempt.Initialized = false
		return err
	}

	attempt.Fingerprint = fp
	attempt.Generation++
	attempt.Initialized = true
	r.logger.Debug("session initialized",
		zap.String("session", req.SessionID),
		zap.Int("generation", attempt.Generation))

	if attempt.State == domain.StateInitializing {
		r.moveTo(attempt, domain.StateAttempting)
	}
	return nil
}

func (r *Registrar) register(ctx context.Context, attempt *domain.RegistrationAttempt, req RegistrationRequest) (domain.RegisterResponse, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	var hw *domain.HardwareProfile
	if attempt.HardwareForced {
		hw = attempt.Hardware
	}
	resp, err := r.client.Register(callCtx, req.Credentials, req.Addons, hw)
	if err != nil {
		r.logger.Warn("register call failed",
			zap.Int("iteration", attempt.Iterations),
			zap.Error(err))
		return resp, err
	}
	r.logger.Info("register call returned",
		zap.Int("iteration", attempt.Iterations),
		zap.Int("code", int(resp.Code)))
	return resp, nil
}

func (r *Registrar) reconcile(ctx context.Context) *domain.ReconciliationResult {
	callCtx, cancel := r.callContext(ctx)
	tasks, err := r.client.GetTaskList(callCtx)
	cancel()
	if err != nil {
		r.logger.Warn("failed to fetch task list", zap.Error(err))
		result := domain.NewReconciliationResult()
		result.Fail(fmt.Errorf("fetching task list: %w", err))
		return result
	}
	return r.reconciler.Reconcile(ctx, tasks, r.cfg.Refresh)
}

func (r *Registrar) interactionFailed(ctx context.Context, attempt *domain.RegistrationAttempt, out *Outcome, err error) *Outcome {
	switch {
	case errors.Is(err, domain.ErrNoAgent):
		return r.finish(attempt, out, domain.StateNoBrowser, err)
	case errors.Is(err, domain.ErrCancelled), ctx.Err() != nil:
		return r.finish(attempt, out, domain.StateCancelled, fmt.Errorf("%w: %w", domain.ErrCancelled, err))
	default:
		return r.finish(attempt, out, domain.StateUnknownError,
			fmt.Errorf("%w: manual interaction failed: %w", domain.ErrUnknownStatus, err))
	}
}

func (r *Registrar) finish(attempt *domain.RegistrationAttempt, out *Outcome, state domain.RegistrationState, err error) *Outcome {
	if attempt.State != state {
		r.moveTo(attempt, state)
	}
	out.State = state
	out.Err = err
	if err != nil {
		r.logger.Warn("registration ended", zap.String("state", string(state)), zap.Error(err))
	} else {
		r.logger.Info("registration ended", zap.String("state", string(state)))
	}
	return out
}

// terminalError returns the error reported for a terminal state reached
// through a status code.
func (r *Registrar) terminalError(state domain.RegistrationState, code domain.StatusCode, msg string) error {
	switch state {
	case domain.StateTargetError:
		return fmt.Errorf("%w: %s", domain.ErrTargetInit, msg)
	case domain.StateNoBrowser:
		return fmt.Errorf("%w: %s", domain.ErrNoAgent, msg)
	case domain.StateSourceManagerError:
		return fmt.Errorf("%w: %s", domain.ErrSourceManager, msg)
	case domain.StateUnknownError:
		return fmt.Errorf("%w: status %d: %s", domain.ErrUnknownStatus, code, msg)
	}
	return nil
}

func (r *Registrar) moveTo(attempt *domain.RegistrationAttempt, state domain.RegistrationState) {
	r.logger.Debug("registration state change",
		zap.String("from", string(attempt.State)),
		zap.String("to", string(state)))
	attempt.MoveTo(state)
}

func (r *Registrar) sessionContext(attempt *domain.RegistrationAttempt, req RegistrationRequest) domain.SessionContext {
	keys := make([]string, len(req.Addons))
	for i, a := range req.Addons {
		keys[i] = a.Key()
	}
	return domain.SessionContext{
		SessionID:      req.SessionID,
		ServerURL:      r.cfg.ServerURL,
		Email:          req.Credentials.Email,
		RegCode:        req.Credentials.RegCode,
		Addons:         keys,
		HardwareForced: attempt.HardwareForced,
	}
}

func (r *Registrar) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.AttemptTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	}
	return context.WithCancel(ctx)
}

// Fingerprint hashes a session context.
func Fingerprint(sc domain.SessionContext) (string, error) {
	data, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("fingerprinting session context: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
