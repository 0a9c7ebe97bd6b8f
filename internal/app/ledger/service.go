// Package ledger submits reward token transfers to a Solana-compatible RPC
// endpoint and records each accepted submission exactly once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"

	domain "github.com/mintforge/market-layer/internal/app/domain/ledger"
	"github.com/mintforge/market-layer/internal/app/storage"
	"github.com/mintforge/market-layer/pkg/logger"
)

// RPCClient is the subset of the Solana RPC surface the service depends on.
// *rpc.Client satisfies it; tests substitute a fake.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

var _ RPCClient = (*rpc.Client)(nil)

// Service resolves associated token accounts and submits signed transfers.
type Service struct {
	client      RPCClient
	signer      *Signer
	mint        solana.PublicKey
	decimals    uint8
	transfers   storage.TransferStore
	callTimeout time.Duration
	log         *logger.Logger
}

// New constructs the transfer service. The mint identity and its decimal
// exponent are fixed for the lifetime of the service.
func New(client RPCClient, signer *Signer, mint domain.Mint, transfers storage.TransferStore, log *logger.Logger) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("rpc client required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer required")
	}
	mintKey, err := solana.PublicKeyFromBase58(mint.Address)
	if err != nil {
		return nil, fmt.Errorf("parse mint address: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		client:      client,
		signer:      signer,
		mint:        mintKey,
		decimals:    mint.Decimals,
		transfers:   transfers,
		callTimeout: 30 * time.Second,
		log:         log,
	}, nil
}

// Mint returns the configured token mint identity.
func (s *Service) Mint() domain.Mint {
	return domain.Mint{Address: s.mint.String(), Decimals: s.decimals}
}

// Transfer moves humanAmount reward tokens from the signer to the recipient
// wallet. The raw amount is humanAmount scaled by the mint's fixed decimal
// exponent using integer multiplication only. A TransferRecord is written on
// ledger acceptance and never for failed submissions.
func (s *Service) Transfer(ctx context.Context, recipientAddress string, humanAmount uint64) (domain.TransferRecord, error) {
	recipient, err := solana.PublicKeyFromBase58(strings.TrimSpace(recipientAddress))
	if err != nil {
		return domain.TransferRecord{}, newError(KindInvalidAccount, fmt.Errorf("recipient address: %w", err))
	}
	if humanAmount == 0 {
		return domain.TransferRecord{}, newError(KindSubmission, errors.New("amount must be positive"))
	}

	rawAmount, err := scaleAmount(humanAmount, s.decimals)
	if err != nil {
		return domain.TransferRecord{}, newError(KindSubmission, err)
	}

	// Resolve both associated token accounts before touching the transfer.
	// A failed resolution aborts the whole operation; no transfer is
	// attempted.
	recipientATA, createRecipient, err := s.resolveTokenAccount(ctx, recipient)
	if err != nil {
		return domain.TransferRecord{}, newError(KindAccountResolution, fmt.Errorf("recipient token account: %w", err))
	}
	senderATA, createSender, err := s.resolveTokenAccount(ctx, s.signer.PublicKey())
	if err != nil {
		return domain.TransferRecord{}, newError(KindAccountResolution, fmt.Errorf("sender token account: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	blockhash, err := s.client.GetLatestBlockhash(callCtx, rpc.CommitmentFinalized)
	if err != nil {
		return domain.TransferRecord{}, s.classify(err, "fetch blockhash")
	}

	var instructions []solana.Instruction
	if createRecipient {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			s.signer.PublicKey(), recipient, s.mint,
		).Build())
	}
	if createSender {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			s.signer.PublicKey(), s.signer.PublicKey(), s.mint,
		).Build())
	}
	instructions = append(instructions, token.NewTransferInstruction(
		rawAmount, senderATA, recipientATA, s.signer.PublicKey(), nil,
	).Build())

	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(s.signer.PublicKey()))
	if err != nil {
		return domain.TransferRecord{}, newError(KindSubmission, fmt.Errorf("build transaction: %w", err))
	}
	if err := s.signer.Sign(tx); err != nil {
		return domain.TransferRecord{}, newError(KindSubmission, fmt.Errorf("sign transaction: %w", err))
	}

	sig, err := s.client.SendTransactionWithOpts(callCtx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		// The transaction signature is fixed once signed, so a timed-out
		// submission can be checked against the ledger before a caller
		// retries. Blind resubmission would double-spend.
		if isTimeout(err) && len(tx.Signatures) > 0 {
			if accepted := s.wasAccepted(ctx, tx.Signatures[0]); accepted {
				return s.record(ctx, recipientATA, senderATA, rawAmount, tx.Signatures[0])
			}
			return domain.TransferRecord{}, newError(KindRPCTimeout, err)
		}
		return domain.TransferRecord{}, s.classify(err, "submit transfer")
	}

	s.log.WithField("signature", sig.String()).
		WithField("raw_amount", rawAmount).
		WithField("recipient", recipient.String()).
		Info("transfer accepted")
	return s.record(ctx, recipientATA, senderATA, rawAmount, sig)
}

// ConfirmSignature reports whether the ledger has accepted the signature.
// Callers use it to avoid re-submitting an already-accepted transfer after a
// timeout.
func (s *Service) ConfirmSignature(ctx context.Context, signature string) (bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, newError(KindInvalidAccount, fmt.Errorf("signature: %w", err))
	}
	return s.wasAccepted(ctx, sig), nil
}

func (s *Service) record(ctx context.Context, recipientATA, senderATA solana.PublicKey, rawAmount uint64, sig solana.Signature) (domain.TransferRecord, error) {
	rec := domain.TransferRecord{
		ID:               uuid.NewString(),
		SenderAccount:    senderATA.String(),
		RecipientAccount: recipientATA.String(),
		MintAddress:      s.mint.String(),
		RawAmount:        rawAmount,
		Signature:        sig.String(),
		SubmittedAt:      time.Now().UTC(),
	}
	if s.transfers == nil {
		return rec, nil
	}
	stored, err := s.transfers.CreateTransfer(ctx, rec)
	if err != nil {
		// The ledger accepted the transfer; losing the local record is a
		// cross-system inconsistency, not a transfer failure.
		s.log.WithError(err).WithField("signature", rec.Signature).
			Error("transfer accepted on ledger but record write failed")
		return rec, nil
	}
	return stored, nil
}

// resolveTokenAccount derives the associated token account for the owner and
// reports whether it still needs to be created on the ledger.
func (s *Service) resolveTokenAccount(ctx context.Context, owner solana.PublicKey) (solana.PublicKey, bool, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, s.mint)
	if err != nil {
		return solana.PublicKey{}, false, fmt.Errorf("derive token account: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	_, err = s.client.GetAccountInfo(callCtx, ata)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return ata, true, nil
		}
		return solana.PublicKey{}, false, fmt.Errorf("query token account: %w", err)
	}
	return ata, false, nil
}

func (s *Service) wasAccepted(ctx context.Context, sig solana.Signature) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	statuses, err := s.client.GetSignatureStatuses(callCtx, true, sig)
	if err != nil {
		s.log.WithError(err).Warn("signature status query failed")
		return false
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return false
	}
	return statuses.Value[0].Err == nil
}

func (s *Service) classify(err error, op string) *Error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	switch {
	case isTimeout(err):
		return newError(KindRPCTimeout, wrapped)
	case strings.Contains(strings.ToLower(err.Error()), "insufficient funds"):
		return newError(KindInsufficientBalance, wrapped)
	default:
		return newError(KindSubmission, wrapped)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// scaleAmount converts a human amount to raw units: human × 10^decimals.
// Integer multiplication only; overflow is rejected rather than wrapped.
func scaleAmount(human uint64, decimals uint8) (uint64, error) {
	raw := human
	for i := uint8(0); i < decimals; i++ {
		if raw > (1<<64-1)/10 {
			return 0, fmt.Errorf("amount %d overflows at %d decimals", human, decimals)
		}
		raw *= 10
	}
	return raw, nil
}
