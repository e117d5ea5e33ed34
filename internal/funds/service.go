// Package funds implements the two-step deposit and withdrawal workflows.
//
// Deposits credit nothing at request time; the balance credit happens
// exactly once, inside the transaction that approves the request.
// Withdrawals are the mirror image: the amount is reserved (debited)
// inside the transaction that creates the request, approval only flips
// status, and rejection must credit the reservation back.
package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/metrics"
	"github.com/betpitch/wallet-engine/internal/model"
	"github.com/betpitch/wallet-engine/internal/push"
	"github.com/betpitch/wallet-engine/internal/store"
)

// Config holds the workflow floors.
type Config struct {
	MinDeposit    decimal.Decimal
	MinWithdrawal decimal.Decimal
}

// DefaultConfig uses the 100-unit floor for both directions.
func DefaultConfig() Config {
	return Config{
		MinDeposit:    decimal.NewFromInt(100),
		MinWithdrawal: decimal.NewFromInt(100),
	}
}

// Service runs the deposit/withdrawal request workflows.
type Service struct {
	store store.Store
	cfg   Config
	hub   *push.Hub // optional
}

// NewService creates a funds service.
func NewService(st store.Store, cfg Config, hub *push.Hub) *Service {
	return &Service{store: st, cfg: cfg, hub: hub}
}

// CreateDeposit records a deposit claim with status Processing. The proof
// reference is an opaque blob-storage URL; the engine never sees bytes.
// No balance change happens here.
func (s *Service) CreateDeposit(ctx context.Context, userID string, amount decimal.Decimal, proofRef, txnRef string) (*model.DepositRequest, error) {
	if amount.LessThan(s.cfg.MinDeposit) {
		return nil, model.ErrBelowMinimum
	}
	if proofRef == "" {
		return nil, model.ErrMissingProof
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r := &model.DepositRequest{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		ProofRef:  proofRef,
		TxnRef:    txnRef,
		Status:    model.RequestProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateDepositRequest(ctx, r); err != nil {
		return nil, err
	}

	slog.Info("deposit request created", "request", r.ID, "user", userID, "amount", amount.String())
	return r, nil
}

// ApproveDeposit credits the user's balance with the (possibly
// admin-corrected) amount, flips the request to Approved, logs the ledger
// entry, and bumps the all-time summary — all in one transaction, so the
// credit can happen at most once.
func (s *Service) ApproveDeposit(ctx context.Context, requestID, userID string, amount decimal.Decimal) error {
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		req, err := tx.GetDepositRequest(requestID)
		if err != nil {
			return err
		}
		if req.UserID != userID {
			return fmt.Errorf("deposit %s does not belong to user %s: %w",
				requestID, userID, model.ErrRequestNotFound)
		}
		user, err := tx.GetUser(userID)
		if err != nil {
			return err
		}

		if err := tx.ApproveDepositRequest(requestID, amount); err != nil {
			return err
		}
		if err := tx.UpdateUserBalance(user.ID, user.WalletBalance.Add(amount)); err != nil {
			return err
		}
		if err := tx.InsertTransaction(&model.Transaction{
			ID:          uuid.New().String(),
			UserID:      user.ID,
			Amount:      amount,
			Type:        model.TxnDeposit,
			Description: fmt.Sprintf("deposit %s approved", requestID),
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.AddToSummary(amount, decimal.Zero, decimal.Zero, decimal.Zero)
	})
	if err != nil {
		return err
	}

	slog.Info("deposit approved", "request", requestID, "user", userID, "amount", amount.String())
	metrics.DepositsApproved.Inc()
	if s.hub != nil {
		s.hub.Broadcast(push.Event{Type: "deposit_approved", UserID: userID, Amount: amount.String()})
	}
	return nil
}

// RejectDeposit flips the request to Rejected. No balance was credited at
// request time, so there is nothing to reverse; a plain transition-checked
// status flip suffices.
func (s *Service) RejectDeposit(ctx context.Context, requestID string) error {
	if err := s.store.UpdateDepositStatus(ctx, requestID, model.RequestRejected); err != nil {
		return err
	}
	slog.Info("deposit rejected", "request", requestID)
	return nil
}

// CreateWithdrawal reserves the amount: the balance check, the debit, the
// bank-details snapshot, and the request creation are one atomic mutation.
// If any precondition fails nothing is written and nothing is debited.
func (s *Service) CreateWithdrawal(ctx context.Context, userID string, amount decimal.Decimal) (*model.WithdrawalRequest, error) {
	if amount.LessThan(s.cfg.MinWithdrawal) {
		return nil, model.ErrBelowMinimum
	}

	now := time.Now().UTC()
	r := &model.WithdrawalRequest{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Status:    model.RequestProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		user, err := tx.GetUser(userID)
		if err != nil {
			return err
		}
		if user.BankDetails == nil {
			return model.ErrNoBankDetails
		}
		if amount.GreaterThan(user.WalletBalance) {
			return model.ErrInsufficientFunds
		}
		r.BankDetails = *user.BankDetails // frozen for audit

		if err := tx.UpdateUserBalance(user.ID, user.WalletBalance.Sub(amount)); err != nil {
			return err
		}
		if err := tx.CreateWithdrawalRequest(r); err != nil {
			return err
		}
		return tx.InsertTransaction(&model.Transaction{
			ID:          uuid.New().String(),
			UserID:      user.ID,
			Amount:      amount.Neg(),
			Type:        model.TxnWithdrawalReserve,
			Description: fmt.Sprintf("withdrawal %s reserved", r.ID),
			CreatedAt:   now,
		})
	})
	if err != nil {
		if errors.Is(err, model.ErrInsufficientFunds) {
			metrics.InsufficientFundsRejections.Inc()
		}
		return nil, err
	}

	slog.Info("withdrawal request created", "request", r.ID, "user", userID, "amount", amount.String())
	if s.hub != nil {
		s.hub.Broadcast(push.Event{Type: "withdrawal_requested", UserID: userID, Amount: amount.String()})
	}
	return r, nil
}

// ApproveWithdrawal flips the request to Approved and bumps the summary.
// The funds were already reserved at request time, so approval debits
// nothing further.
func (s *Service) ApproveWithdrawal(ctx context.Context, requestID string) error {
	var userID string
	var amount decimal.Decimal

	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		req, err := tx.GetWithdrawalRequest(requestID)
		if err != nil {
			return err
		}
		userID = req.UserID
		amount = req.Amount

		if err := tx.UpdateWithdrawalStatus(requestID, model.RequestApproved); err != nil {
			return err
		}
		return tx.AddToSummary(decimal.Zero, req.Amount, decimal.Zero, decimal.Zero)
	})
	if err != nil {
		return err
	}

	slog.Info("withdrawal approved", "request", requestID, "user", userID, "amount", amount.String())
	metrics.WithdrawalsApproved.Inc()
	if s.hub != nil {
		s.hub.Broadcast(push.Event{Type: "withdrawal_approved", UserID: userID, Amount: amount.String()})
	}
	return nil
}

// RejectWithdrawal restores the reserved amount to the user's balance in
// the same transaction that flips the request to Rejected.
func (s *Service) RejectWithdrawal(ctx context.Context, requestID string) error {
	var userID string
	var amount decimal.Decimal

	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		req, err := tx.GetWithdrawalRequest(requestID)
		if err != nil {
			return err
		}
		user, err := tx.GetUser(req.UserID)
		if err != nil {
			return err
		}
		userID = req.UserID
		amount = req.Amount

		if err := tx.UpdateWithdrawalStatus(requestID, model.RequestRejected); err != nil {
			return err
		}
		if err := tx.UpdateUserBalance(user.ID, user.WalletBalance.Add(req.Amount)); err != nil {
			return err
		}
		return tx.InsertTransaction(&model.Transaction{
			ID:          uuid.New().String(),
			UserID:      user.ID,
			Amount:      req.Amount,
			Type:        model.TxnWithdrawalRefund,
			Description: fmt.Sprintf("withdrawal %s rejected, reservation returned", requestID),
			CreatedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	slog.Info("withdrawal rejected", "request", requestID, "user", userID, "amount", amount.String())
	if s.hub != nil {
		s.hub.Broadcast(push.Event{Type: "withdrawal_rejected", UserID: userID, Amount: amount.String()})
	}
	return nil
}
