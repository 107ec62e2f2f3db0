package burn

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types (shared by Token-2022)
const (
	TokenProgramBurnInstruction        = uint8(8)
	TokenProgramBurnCheckedInstruction = uint8(15)
)

type InstructionKind string

const (
	InstructionUnknown  InstructionKind = "unknown"
	InstructionBurn     InstructionKind = "burn"
	InstructionTransfer InstructionKind = "transfer"
)

// InstructionSummary is a decoded view of one compiled instruction.
type InstructionSummary struct {
	Kind      InstructionKind
	ProgramID solana.PublicKey
	Amount    uint64
	// Decimals is only set for BurnChecked.
	Decimals *uint8
	// For a burn: token account. For a transfer: the paying wallet.
	Source solana.PublicKey
	// For a transfer only.
	Destination solana.PublicKey
	// For a burn only.
	Mint      solana.PublicKey
	Authority solana.PublicKey
}

// Inspect decodes every instruction of a compiled transaction message.
// Instructions it does not understand are returned as InstructionUnknown.
func Inspect(tx *solana.Transaction) ([]InstructionSummary, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}

	accountKeys := tx.Message.AccountKeys
	out := make([]InstructionSummary, 0, len(tx.Message.Instructions))
	for i, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			return nil, fmt.Errorf("instruction %d: program index out of bounds", i)
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		var (
			summary InstructionSummary
			err     error
		)
		switch {
		case programID.Equals(solana.SystemProgramID):
			summary, err = parseSystemTransfer(instruction, accountKeys)
		case IsTokenProgram(programID):
			summary, err = parseTokenBurn(instruction, accountKeys)
		default:
			summary = InstructionSummary{Kind: InstructionUnknown}
		}
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		summary.ProgramID = programID
		out = append(out, summary)
	}
	return out, nil
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (InstructionSummary, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	dec := bin.NewBinDecoder(instruction.Data)
	instructionType, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return InstructionSummary{}, fmt.Errorf("system instruction data too short: %w", err)
	}
	if instructionType != SystemProgramTransferInstruction {
		return InstructionSummary{Kind: InstructionUnknown}, nil
	}
	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return InstructionSummary{}, fmt.Errorf("transfer instruction data too short: %w", err)
	}

	// System Transfer accounts: [from, to]
	accounts, err := resolveAccounts(instruction, accountKeys, 2)
	if err != nil {
		return InstructionSummary{}, err
	}

	return InstructionSummary{
		Kind:        InstructionTransfer,
		Amount:      lamports,
		Source:      accounts[0],
		Destination: accounts[1],
	}, nil
}

// parseTokenBurn decodes Burn and BurnChecked from either token program.
func parseTokenBurn(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (InstructionSummary, error) {
	dec := bin.NewBinDecoder(instruction.Data)
	instructionType, err := dec.ReadUint8()
	if err != nil {
		return InstructionSummary{}, fmt.Errorf("empty token instruction data")
	}

	var decimals *uint8
	switch instructionType {
	case TokenProgramBurnInstruction, TokenProgramBurnCheckedInstruction:
	default:
		return InstructionSummary{Kind: InstructionUnknown}, nil
	}

	// Burn:        [0] = 8,  [1..9] = amount (u64)
	// BurnChecked: [0] = 15, [1..9] = amount (u64), [9] = decimals (u8)
	amount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return InstructionSummary{}, fmt.Errorf("burn instruction data too short: %w", err)
	}
	if instructionType == TokenProgramBurnCheckedInstruction {
		d, err := dec.ReadUint8()
		if err != nil {
			return InstructionSummary{}, fmt.Errorf("burnChecked instruction missing decimals: %w", err)
		}
		decimals = &d
	}

	// Account layout for both: [source_token_account, mint, authority, ...multisig signers]
	accounts, err := resolveAccounts(instruction, accountKeys, 3)
	if err != nil {
		return InstructionSummary{}, err
	}

	return InstructionSummary{
		Kind:      InstructionBurn,
		Amount:    amount,
		Decimals:  decimals,
		Source:    accounts[0],
		Mint:      accounts[1],
		Authority: accounts[2],
	}, nil
}

func resolveAccounts(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, n int) ([]solana.PublicKey, error) {
	if len(instruction.Accounts) < n {
		return nil, fmt.Errorf("expected at least %d accounts, got %d", n, len(instruction.Accounts))
	}
	out := make([]solana.PublicKey, n)
	for i := range n {
		idx := instruction.Accounts[i]
		if int(idx) >= len(accountKeys) {
			return nil, fmt.Errorf("account index %d out of bounds", idx)
		}
		out[i] = accountKeys[idx]
	}
	return out, nil
}

// Expectation is what a burn transaction must contain, and nothing else.
type Expectation struct {
	Request      Request
	Decimals     uint8
	TokenProgram solana.PublicKey
	TokenAccount solana.PublicKey
	Signer       solana.PublicKey
	Treasury     solana.PublicKey
}

// Verify checks that tx is exactly [burn, fee transfer] as described by exp and
// that the signer is the fee payer.
func Verify(tx *solana.Transaction, exp Expectation) error {
	summaries, err := Inspect(tx)
	if err != nil {
		return Wrap(KindInternal, err, "built transaction could not be decoded")
	}
	if len(summaries) != 2 {
		return Errorf(KindInternal, "built transaction has %d instructions, expected 2", len(summaries))
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(exp.Signer) {
		return Errorf(KindInternal, "built transaction fee payer is not the signer")
	}

	b := summaries[0]
	switch {
	case b.Kind != InstructionBurn:
		return Errorf(KindInternal, "first instruction is %s, expected burn", b.Kind)
	case !b.ProgramID.Equals(exp.TokenProgram):
		return Errorf(KindInternal, "burn targets program %s, expected %s", b.ProgramID, exp.TokenProgram)
	case b.Amount != exp.Request.Amount:
		return Errorf(KindInternal, "burn amount %d does not match requested %d", b.Amount, exp.Request.Amount)
	case b.Decimals == nil || *b.Decimals != exp.Decimals:
		return Errorf(KindInternal, "burn is not checked against %d decimals", exp.Decimals)
	case !b.Mint.Equals(exp.Request.Mint):
		return Errorf(KindInternal, "burn mint %s does not match requested %s", b.Mint, exp.Request.Mint)
	case !b.Source.Equals(exp.TokenAccount):
		return Errorf(KindInternal, "burn source %s is not the signer's token account", b.Source)
	case !b.Authority.Equals(exp.Signer):
		return Errorf(KindInternal, "burn authority %s is not the signer", b.Authority)
	}

	f := summaries[1]
	switch {
	case f.Kind != InstructionTransfer:
		return Errorf(KindInternal, "second instruction is %s, expected transfer", f.Kind)
	case f.Amount != exp.Request.FeeLamports:
		return Errorf(KindInternal, "fee transfer of %d lamports does not match requested %d", f.Amount, exp.Request.FeeLamports)
	case !f.Source.Equals(exp.Signer):
		return Errorf(KindInternal, "fee is paid from %s, not the signer", f.Source)
	case !f.Destination.Equals(exp.Treasury):
		return Errorf(KindInternal, "fee is paid to %s, not the treasury", f.Destination)
	}
	return nil
}
