package submission

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"portal/internal/logging"
	"portal/internal/remote"
	"portal/internal/session"
	"portal/internal/status"
)

var (
	ErrIdentityRequired = errors.New("student identity required")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrUnknownDecision  = errors.New("unknown confirmation decision")
)

type Decision string

const (
	DecisionSend   Decision = "send"
	DecisionEdit   Decision = "edit"
	DecisionCancel Decision = "cancel"
)

// Outcome is how an interactive submission ended without error.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeEditIdentity means the identity was cleared and must be entered again.
	OutcomeEditIdentity Outcome = "edit_identity"
)

// Confirmer asks the student whether to send under the given identity.
type Confirmer interface {
	Confirm(ctx context.Context, identity session.Identity) (Decision, error)
}

// FixedDecision confirms with a decision that was already made, for example in a form post.
type FixedDecision Decision

func (d FixedDecision) Confirm(context.Context, session.Identity) (Decision, error) {
	return Decision(d), nil
}

// Identities is the part of the session context submissions need.
type Identities interface {
	Identity(ctx context.Context) (session.Identity, bool, error)
	ClearIdentity(ctx context.Context) error
}

// Sender uploads an assembled payload.
type Sender interface {
	Configured() bool
	Submit(ctx context.Context, identifier string, payload any) error
}

// StatusSink receives save state transitions.
type StatusSink interface {
	SetSave(state status.SaveState)
}

type Submitter struct {
	assembler  *Assembler
	identities Identities
	sender     Sender
	status     StatusSink
	log        *logging.Logger

	inFlight atomic.Bool
}

func NewSubmitter(assembler *Assembler, identities Identities, sender Sender, sink StatusSink, log *logging.Logger) *Submitter {
	if log == nil {
		log = logging.Nop()
	}
	return &Submitter{
		assembler:  assembler,
		identities: identities,
		sender:     sender,
		status:     sink,
		log:        log.With("component", "submission"),
	}
}

// InProgress reports whether an interactive submission is running.
func (s *Submitter) InProgress() bool {
	return s.inFlight.Load()
}

// SubmitInteractive runs the confirmed upload. Only one may run at a time.
func (s *Submitter) SubmitInteractive(ctx context.Context, confirmer Confirmer) (Outcome, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return "", ErrSubmitInProgress
	}
	defer s.inFlight.Store(false)

	identity, ok, err := s.identities.Identity(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrIdentityRequired
	}

	decision, err := confirmer.Confirm(ctx, identity)
	if err != nil {
		return "", err
	}
	switch decision {
	case DecisionSend:
	case DecisionEdit:
		if err := s.identities.ClearIdentity(ctx); err != nil {
			return "", err
		}
		return OutcomeEditIdentity, nil
	case DecisionCancel:
		return OutcomeCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	submission, err := s.assembler.Assemble(ctx, identity)
	if err != nil {
		return "", err
	}
	if !s.sender.Configured() {
		return "", remote.ErrNotConfigured
	}
	if err := s.sender.Submit(ctx, submission.Identifier, submission.Payload); err != nil {
		s.log.Error("submission failed", "identifier", submission.Identifier, "error", err)
		return "", err
	}
	answers, assignments := submission.Counts()
	s.log.Info("submission sent", "identifier", submission.Identifier, "answers", answers, "assignments", assignments)
	return OutcomeSent, nil
}

// SubmitSilent uploads without asking. Without an identity it does nothing at
// all; failures only show up in the save status and the returned error.
func (s *Submitter) SubmitSilent(ctx context.Context) error {
	identity, ok, err := s.identities.Identity(ctx)
	if err != nil || !ok {
		return err
	}

	submission, err := s.assembler.Assemble(ctx, identity)
	if errors.Is(err, ErrNothingToSubmit) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.sender.Configured() {
		return nil
	}

	s.setStatus(status.SaveSaving)
	if err := s.sender.Submit(ctx, submission.Identifier, submission.Payload); err != nil {
		s.setStatus(status.SaveError)
		return err
	}
	s.setStatus(status.SaveSaved)
	return nil
}

func (s *Submitter) setStatus(state status.SaveState) {
	if s.status != nil {
		s.status.SetSave(state)
	}
}
