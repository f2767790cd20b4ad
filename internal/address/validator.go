// Package address validates payout and refund addresses per asset.
// Shape checks only: prefixes, length windows and character sets. No
// checksum verification and no I/O — the rail rejects anything that
// slips through.
package address

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError carries a reason suitable for showing to the actor
// who submitted the address.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

var (
	btcRe    = regexp.MustCompile(`^(1|3)[1-9A-HJ-NP-Za-km-z]{25,34}$|^bc1[02-9ac-hj-np-z]{11,87}$`)
	ethRe    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	ltcRe    = regexp.MustCompile(`^(L|M)[1-9A-HJ-NP-Za-km-z]{25,34}$|^ltc1[02-9ac-hj-np-z]{11,87}$`)
	base58Re = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// Validate reports whether addr is plausibly a valid address for the
// given coin symbol. A nil return means the address passed every shape
// check; otherwise the error is a *ValidationError naming the problem.
func Validate(addr, symbol string) error {
	if addr == "" {
		return &ValidationError{Reason: "address is required"}
	}
	if strings.ContainsAny(addr, " \t\n") {
		return &ValidationError{Reason: "address contains whitespace"}
	}
	if len(addr) < 26 || len(addr) > 90 {
		return &ValidationError{Reason: "address length is invalid"}
	}

	switch strings.ToUpper(symbol) {
	case "BTC":
		if !btcRe.MatchString(addr) {
			return &ValidationError{Reason: "Bitcoin addresses must start with 1, 3 or bc1"}
		}
	case "ETH", "USDT", "USDC":
		if !ethRe.MatchString(addr) {
			return &ValidationError{Reason: "Ethereum addresses must start with 0x and be 42 characters"}
		}
	case "LTC":
		if !ltcRe.MatchString(addr) {
			return &ValidationError{Reason: "Litecoin addresses must start with L, M or ltc1"}
		}
	case "SOL":
		if len(addr) < 32 || len(addr) > 44 || !base58Re.MatchString(addr) {
			return &ValidationError{Reason: "Solana addresses must be 32-44 base58 characters"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unsupported coin: %s", symbol)}
	}

	return nil
}

// Hint returns per-coin format guidance shown to the seller when an
// address is rejected.
func Hint(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "BTC":
		return "Bitcoin addresses start with 1 (legacy), 3 (SegWit) or bc1 (native SegWit)."
	case "ETH":
		return "Ethereum addresses start with 0x and are exactly 42 characters."
	case "LTC":
		return "Litecoin addresses start with L (legacy), M (P2SH) or ltc1."
	case "SOL":
		return "Solana addresses are 32-44 characters of base58."
	case "USDT":
		return "USDT (ERC-20) uses Ethereum addresses: 0x followed by 40 hex characters."
	case "USDC":
		return "USDC (ERC-20) uses Ethereum addresses: 0x followed by 40 hex characters."
	}
	return "Double-check the address format for your coin."
}

// Example returns a syntactically valid sample address. Used in hints
// and tests, never as a destination.
func Example(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "BTC":
		return "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"
	case "ETH", "USDT", "USDC":
		return "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1"
	case "LTC":
		return "LhK2kQwiaAvhjWY799cZvMyYwnQAcxkarr"
	case "SOL":
		return "7EqQdEUwY3dZVNsVLqRz4CkVDFGmxb1CLRkTqxrmgzLC"
	}
	return ""
}
