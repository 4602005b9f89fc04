// Package settle implements the attack evaluation and settlement pipeline.
//
// A submission moves through Received, Validated, Judged, Settling and
// Settled; it can terminate as Rejected at any point before Settling. Once
// the settlement transaction starts it runs to completion: either all of its
// effects commit or none do.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mossfit/spc/internal/bus"
	"github.com/mossfit/spc/internal/detect"
	"github.com/mossfit/spc/internal/domain"
	"github.com/mossfit/spc/internal/judge"
	"github.com/mossfit/spc/internal/store"
	"golang.org/x/sync/errgroup"
)

// Pipeline errors.
var (
	// ErrValidation marks a submission rejected before any side effect for
	// bad or missing fields.
	ErrValidation = errors.New("invalid submission")

	// ErrEvaluation marks a submission rejected because the judge was
	// unavailable or timed out. No records are created.
	ErrEvaluation = errors.New("evaluation failed")
)

// settleTimeout bounds the settlement transaction after the client context
// has been detached.
const settleTimeout = 10 * time.Second

// Config holds orchestrator policy knobs.
type Config struct {
	// AwardAmount is transferred from defender to attacker per successful
	// attack.
	AwardAmount int64

	// EvaluatorTimeout bounds the judge call. Exceeding it rejects the
	// submission with ErrEvaluation.
	EvaluatorTimeout time.Duration

	// DetectorTimeout bounds the suspicion check. Exceeding it fails open.
	DetectorTimeout time.Duration
}

// Service orchestrates validation, judging, settlement and fan-out.
type Service struct {
	repo     store.Repository
	eval     judge.Evaluator
	detector detect.Classifier
	bus      *bus.Bus
	cfg      Config
}

// NewService wires the orchestrator with its collaborators.
func NewService(repo store.Repository, eval judge.Evaluator, detector detect.Classifier, b *bus.Bus, cfg Config) *Service {
	if cfg.EvaluatorTimeout <= 0 {
		cfg.EvaluatorTimeout = 30 * time.Second
	}
	if cfg.DetectorTimeout <= 0 {
		cfg.DetectorTimeout = 2 * time.Second
	}
	return &Service{repo: repo, eval: eval, detector: detector, bus: b, cfg: cfg}
}

// AttackSubmission is one incoming attack request.
type AttackSubmission struct {
	AttackerID string
	DefenseID  int64
	Text       string
}

// AttackResult is returned for every settled submission.
type AttackResult struct {
	AttackID   int64
	Successful bool
	Response   string
	Flagged    bool
}

// DefenseSubmission is one incoming defense request.
type DefenseSubmission struct {
	AccountID string
	Text      string
}

// SubmitAttack runs one submission through the full pipeline.
func (s *Service) SubmitAttack(ctx context.Context, sub AttackSubmission) (*AttackResult, error) {
	start := time.Now()
	result, outcome, err := s.submitAttack(ctx, sub)
	settlementsTotal.WithLabelValues(outcome).Inc()
	settlementDuration.Observe(time.Since(start).Seconds())
	return result, err
}

func (s *Service) submitAttack(ctx context.Context, sub AttackSubmission) (*AttackResult, string, error) {
	// Received -> Validated.
	if err := validateAttack(sub); err != nil {
		return nil, outcomeRejectedInput, err
	}

	attacker, err := s.repo.GetAccount(ctx, sub.AttackerID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, outcomeRejectedNotFound, fmt.Errorf("attacker: %w", err)
		}
		return nil, outcomeRejectedInternal, fmt.Errorf("resolve attacker: %w", err)
	}

	defense, err := s.repo.GetDefense(ctx, sub.DefenseID)
	if err != nil {
		if errors.Is(err, store.ErrDefenseNotFound) {
			return nil, outcomeRejectedNotFound, err
		}
		return nil, outcomeRejectedInternal, fmt.Errorf("resolve defense: %w", err)
	}

	// A successful self-attack would transfer funds from an account to
	// itself, which the ledger forbids. Reject before judging.
	if defense.AccountID == attacker.ID {
		return nil, outcomeRejectedInput, fmt.Errorf("%w: cannot attack your own defense", ErrValidation)
	}

	// Validated -> Judged. Judge and detector run concurrently; both must
	// complete before any mutation.
	verdict, flagged, err := s.judgeSubmission(ctx, defense.Text, sub.Text)
	if err != nil {
		return nil, outcomeRejectedJudge, err
	}

	// Judged -> Settling. The transaction is detached from the client
	// context: a disconnect from here on cannot leave partial state.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	outcome, err := s.repo.SettleAttack(settleCtx, store.SettlementParams{
		AttackerID: attacker.ID,
		DefenderID: defense.AccountID,
		DefenseID:  defense.ID,
		Text:       sub.Text,
		Successful: verdict.Successful,
		Response:   verdict.Response,
		Flagged:    flagged,
		Award:      s.cfg.AwardAmount,
		LogPrompt:  fmt.Sprintf("Defense: %s | Attack: %s", defense.Text, sub.Text),
		LogContext: domain.LogContextEvaluation,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, outcomeRejectedFunds, err
		}
		return nil, outcomeRejectedInternal, fmt.Errorf("settle attack: %w", err)
	}

	// Settling -> Settled. Fan-out is best-effort and never fails the
	// settlement.
	delivered := s.bus.Publish(domain.DashboardEvent{
		Type:            domain.EventAttackSettled,
		AttackID:        outcome.Attack.ID,
		DefenseID:       defense.ID,
		AttackerID:      attacker.ID,
		DefenderID:      defense.AccountID,
		Successful:      verdict.Successful,
		Flagged:         flagged,
		AttackerBalance: outcome.AttackerBalance,
		DefenderBalance: outcome.DefenderBalance,
	})

	slog.Info("attack settled",
		"attack_id", outcome.Attack.ID,
		"attacker_id", attacker.ID,
		"defender_id", defense.AccountID,
		"successful", verdict.Successful,
		"flagged", flagged,
		"observers_notified", delivered,
	)

	return &AttackResult{
		AttackID:   outcome.Attack.ID,
		Successful: verdict.Successful,
		Response:   verdict.Response,
		Flagged:    flagged,
	}, outcomeSettled, nil
}

// judgeSubmission runs the evaluator and the detector concurrently. The
// evaluator is mandatory; the detector fails open.
func (s *Service) judgeSubmission(ctx context.Context, defenseText, attackText string) (judge.Verdict, bool, error) {
	var verdict judge.Verdict
	var flagged bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		jctx, cancel := context.WithTimeout(gctx, s.cfg.EvaluatorTimeout)
		defer cancel()
		v, err := s.eval.Judge(jctx, defenseText, attackText)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		verdict = v
		return nil
	})
	g.Go(func() error {
		dctx, cancel := context.WithTimeout(gctx, s.cfg.DetectorTimeout)
		defer cancel()
		f, err := s.detector.Classify(dctx, attackText)
		if err != nil {
			slog.Warn("suspicion check failed, treating prompt as not flagged", "error", err)
			return nil
		}
		flagged = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return judge.Verdict{}, false, err
	}
	return verdict, flagged, nil
}

// SubmitDefense validates and stores a defense prompt, then notifies
// observers.
func (s *Service) SubmitDefense(ctx context.Context, sub DefenseSubmission) (*domain.DefensePrompt, error) {
	if sub.AccountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrValidation)
	}
	if sub.Text == "" {
		return nil, fmt.Errorf("%w: prompt_text is required", ErrValidation)
	}

	account, err := s.repo.GetAccount(ctx, sub.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	defense, err := s.repo.CreateDefense(ctx, account.ID, sub.Text)
	if err != nil {
		return nil, fmt.Errorf("create defense: %w", err)
	}
	defensesTotal.Inc()

	// The audit entry for a defense is advisory; its failure does not undo
	// the accepted defense.
	if _, err := s.repo.CreateLog(ctx, sub.Text, "defense submitted", domain.LogContextDefense, false); err != nil {
		slog.Warn("failed to log defense submission", "defense_id", defense.ID, "error", err)
	}

	s.bus.Publish(domain.DashboardEvent{
		Type:       domain.EventDefensePosted,
		DefenseID:  defense.ID,
		DefenderID: account.ID,
	})

	slog.Info("defense submitted", "defense_id", defense.ID, "account_id", account.ID)
	return defense, nil
}

func validateAttack(sub AttackSubmission) error {
	if sub.AttackerID == "" {
		return fmt.Errorf("%w: attacker_id is required", ErrValidation)
	}
	if sub.DefenseID <= 0 {
		return fmt.Errorf("%w: defense_id is required", ErrValidation)
	}
	if sub.Text == "" {
		return fmt.Errorf("%w: prompt_text is required", ErrValidation)
	}
	return nil
}
