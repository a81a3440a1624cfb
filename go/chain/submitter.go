package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// BuiltTransaction is a venue's assembled swap, ready for submission.
// Instructions are combined into a single transaction at submit time so
// the blockhash is fetched as late as possible. ExtraSigners carries any
// ephemeral keys the venue introduced beyond the wallet itself.
type BuiltTransaction struct {
	Instructions []solana.Instruction
	ExtraSigners []solana.PrivateKey
}

// ParseCommitment maps a configured commitment name onto the RPC type.
// An empty name selects confirmed.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "", "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("unknown commitment %q (want processed, confirmed, or finalized)", s)
	}
}

// confirmationRank orders confirmation levels so a status at or above the
// configured commitment satisfies the wait.
func confirmationRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func commitmentRank(c rpc.CommitmentType) int {
	switch c {
	case rpc.CommitmentProcessed:
		return 1
	case rpc.CommitmentConfirmed:
		return 2
	case rpc.CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Submitter signs, submits, and confirms transactions against a single
// RPC endpoint with a fixed wallet.
type Submitter struct {
	client     *rpc.Client
	wallet     solana.PrivateKey
	commitment rpc.CommitmentType
	confirmIn  time.Duration
	pollEvery  time.Duration
}

// NewSubmitter wires a submitter. confirmIn bounds the total wait for the
// configured commitment level after a transaction is accepted.
func NewSubmitter(client *rpc.Client, wallet solana.PrivateKey, commitment rpc.CommitmentType, confirmIn time.Duration) *Submitter {
	return &Submitter{
		client:     client,
		wallet:     wallet,
		commitment: commitment,
		confirmIn:  confirmIn,
		pollEvery:  500 * time.Millisecond,
	}
}

// Wallet returns the public key transactions are paid from.
func (s *Submitter) Wallet() solana.PublicKey { return s.wallet.PublicKey() }

// SendAndConfirm assembles built into a transaction, signs it with the
// wallet plus any extra signers, submits it, and waits for the configured
// commitment. onSubmitted is invoked exactly once, as soon as the RPC node
// accepts the transaction and a signature exists.
func (s *Submitter) SendAndConfirm(ctx context.Context, built BuiltTransaction, onSubmitted func(signature string)) (string, error) {
	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("fetching blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		built.Instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(s.wallet.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("assembling transaction: %w", err)
	}

	if _, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.wallet.PublicKey()) {
			return &s.wallet
		}
		for i := range built.ExtraSigners {
			if key.Equals(built.ExtraSigners[i].PublicKey()) {
				return &built.ExtraSigners[i]
			}
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}

	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return "", fmt.Errorf("submitting transaction: %w", err)
	}
	if onSubmitted != nil {
		onSubmitted(sig.String())
	}
	log.WithFields(log.Fields{"signature": sig, "commitment": s.commitment}).
		Debug("transaction submitted; awaiting confirmation")

	if err = s.awaitConfirmation(ctx, sig); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

func (s *Submitter) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	var need = commitmentRank(s.commitment)
	var deadline = time.Now().Add(s.confirmIn)

	for {
		out, err := s.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			log.WithFields(log.Fields{"signature": sig, "error": err}).
				Warn("signature status poll failed; will retry")
		} else if len(out.Value) > 0 && out.Value[0] != nil {
			var st = out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, st.Err)
			}
			if confirmationRank(st.ConfirmationStatus) >= need {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("transaction %s not %s within %s", sig, s.commitment, s.confirmIn)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirming transaction %s: %w", sig, ctx.Err())
		case <-time.After(s.pollEvery):
		}
	}
}
