package burn

import (
	"math"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// lamportDigits is the number of decimal places in one SOL.
const lamportDigits = 9

// Validator checks burn input before any network call. It holds no state
// besides its bounds, so validating the same request twice gives the same answer.
type Validator struct {
	MinFeeLamports uint64
	MaxFeeLamports uint64
}

// Parse converts raw input into a Request. It rejects malformed values and a
// zero amount; range checks are left to Validate.
func (v Validator) Parse(in Input) (Request, error) {
	mint, err := ParseAddress(in.MintAddress)
	if err != nil {
		return Request{}, err
	}

	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return Request{}, err
	}
	if amount == 0 {
		return Request{}, Errorf(KindZeroAmount, "burn amount must be greater than zero")
	}

	fee, err := ParseSOL(in.FeeSOL)
	if err != nil {
		return Request{}, err
	}

	return Request{Mint: mint, Amount: amount, FeeLamports: fee}, nil
}

// Validate checks a parsed request against the fee bounds and, when known,
// the signer's token balance.
func (v Validator) Validate(req Request, knownBalance *uint64) error {
	if req.Mint.IsZero() {
		return Errorf(KindInvalidAddress, "mint address must not be the zero address")
	}
	if req.Amount == 0 {
		return Errorf(KindZeroAmount, "burn amount must be greater than zero")
	}
	if req.FeeLamports < v.MinFeeLamports || req.FeeLamports > v.MaxFeeLamports {
		return Errorf(KindFeeOutOfRange, "fee %s SOL is outside the allowed range %s to %s SOL",
			FormatSOL(req.FeeLamports), FormatSOL(v.MinFeeLamports), FormatSOL(v.MaxFeeLamports))
	}
	if knownBalance != nil && req.Amount > *knownBalance {
		return Errorf(KindInsufficientBalance, "burn amount %d exceeds token balance %d", req.Amount, *knownBalance)
	}
	return nil
}

// ParseAndValidate runs Parse then Validate without a balance.
func (v Validator) ParseAndValidate(in Input) (Request, error) {
	req, err := v.Parse(in)
	if err != nil {
		return Request{}, err
	}
	if err := v.Validate(req, nil); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ParseAddress parses a base58 account address.
func ParseAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, Errorf(KindInvalidAddress, "mint address is required")
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, Wrap(KindInvalidAddress, err, "%q is not a valid base58 address", s)
	}
	return pk, nil
}

// ParseAmount parses an unsigned integer count of base units.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Errorf(KindInvalidAmount, "burn amount is required")
	}
	if !isDigits(s) {
		return 0, Errorf(KindInvalidAmount, "burn amount %q must be a whole number of base units", s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, Wrap(KindInvalidAmount, err, "burn amount %q is too large", s)
	}
	return n, nil
}

// ParseSOL converts a decimal SOL string to lamports without going through floats.
// At most nine fractional digits are accepted.
func ParseSOL(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Errorf(KindInvalidFee, "fee is required")
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, Errorf(KindInvalidFee, "fee %q is not a number", s)
	}
	if (whole != "" && !isDigits(whole)) || (frac != "" && !isDigits(frac)) {
		return 0, Errorf(KindInvalidFee, "fee %q must be a non-negative decimal SOL amount", s)
	}
	if len(frac) > lamportDigits {
		return 0, Errorf(KindInvalidFee, "fee %q has more than %d decimal places", s, lamportDigits)
	}

	var w uint64
	if whole != "" {
		var err error
		w, err = strconv.ParseUint(whole, 10, 64)
		if err != nil {
			return 0, Wrap(KindInvalidFee, err, "fee %q is too large", s)
		}
	}
	if w > math.MaxUint64/solana.LAMPORTS_PER_SOL {
		return 0, Errorf(KindInvalidFee, "fee %q is too large", s)
	}

	var f uint64
	if frac != "" {
		padded := frac + strings.Repeat("0", lamportDigits-len(frac))
		var err error
		f, err = strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, Wrap(KindInvalidFee, err, "fee %q is not a number", s)
		}
	}

	lamports := w * solana.LAMPORTS_PER_SOL
	if lamports > math.MaxUint64-f {
		return 0, Errorf(KindInvalidFee, "fee %q is too large", s)
	}
	return lamports + f, nil
}

// FormatSOL renders lamports as a decimal SOL string with trailing zeros trimmed.
func FormatSOL(lamports uint64) string {
	whole := lamports / solana.LAMPORTS_PER_SOL
	frac := lamports % solana.LAMPORTS_PER_SOL
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := strconv.FormatUint(frac, 10)
	fs = strings.Repeat("0", lamportDigits-len(fs)) + fs
	return strconv.FormatUint(whole, 10) + "." + strings.TrimRight(fs, "0")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
