package burn

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// BuildParams is everything BuildTransaction needs. All of it is public data.
type BuildParams struct {
	Request   Request
	Signer    solana.PublicKey
	Treasury  solana.PublicKey
	Mint      MintInfo
	Account   *TokenAccount
	Blockhash Blockhash
}

// BuildTransaction assembles the unsigned burn transaction: a BurnChecked of the
// exact requested amount from the signer's token account, followed by a system
// transfer of the fee to the treasury. The signer pays network fees.
func BuildTransaction(p BuildParams) (*solana.Transaction, error) {
	if p.Account == nil {
		return nil, Errorf(KindAccountNotFound, "%s holds no token account for mint %s", p.Signer, p.Request.Mint)
	}
	if !p.Mint.Address.Equals(p.Request.Mint) || !p.Account.Mint.Equals(p.Request.Mint) {
		return nil, Errorf(KindInternal, "mint data does not belong to mint %s", p.Request.Mint)
	}
	if p.Request.Amount == 0 {
		return nil, Errorf(KindZeroAmount, "burn amount must be greater than zero")
	}
	if p.Signer.IsZero() || p.Treasury.IsZero() {
		return nil, Errorf(KindInternal, "signer and treasury must be set")
	}

	burnIx, err := burnInstruction(p)
	if err != nil {
		return nil, err
	}

	feeIx, err := system.NewTransferInstruction(p.Request.FeeLamports, p.Signer, p.Treasury).ValidateAndBuild()
	if err != nil {
		return nil, Wrap(KindInternal, err, "failed to build fee transfer instruction")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{burnIx, feeIx},
		p.Blockhash.Hash,
		solana.TransactionPayer(p.Signer),
	)
	if err != nil {
		return nil, Wrap(KindInternal, err, "failed to assemble transaction")
	}
	return tx, nil
}

// burnInstruction encodes BurnChecked against whichever token program owns the mint.
// The token package is bound to the classic program id, so the encoded data and
// accounts are re-addressed for Token-2022; both programs share the layout.
func burnInstruction(p BuildParams) (solana.Instruction, error) {
	if !IsTokenProgram(p.Mint.TokenProgram) {
		return nil, Errorf(KindInternal, "mint %s is owned by %s, not a token program", p.Mint.Address, p.Mint.TokenProgram)
	}

	ix, err := token.NewBurnCheckedInstruction(
		p.Request.Amount,
		p.Mint.Decimals,
		p.Account.Address,
		p.Mint.Address,
		p.Signer,
		nil,
	).ValidateAndBuild()
	if err != nil {
		return nil, Wrap(KindInternal, err, "failed to build burn instruction")
	}

	data, err := ix.Data()
	if err != nil {
		return nil, Wrap(KindInternal, err, "failed to encode burn instruction")
	}
	return solana.NewInstruction(p.Mint.TokenProgram, ix.Accounts(), data), nil
}

// IsTokenProgram reports whether id is SPL Token or Token-2022.
func IsTokenProgram(id solana.PublicKey) bool {
	return id.Equals(solana.TokenProgramID) || id.Equals(solana.Token2022ProgramID)
}

// TokenProgramName returns a short fixed name for a token program id.
func TokenProgramName(id solana.PublicKey) string {
	switch {
	case id.Equals(solana.TokenProgramID):
		return "spl-token"
	case id.Equals(solana.Token2022ProgramID):
		return "spl-token-2022"
	}
	return "unknown"
}

// AssociatedTokenAddress derives owner's associated token account for mint under
// the given token program.
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}
