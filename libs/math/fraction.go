package math

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Fraction defined in terms of a numerator divided by a denominator in uint64
// format. Fraction must be positive.
type Fraction struct {
	// The portion of the denominator in the faction, e.g. 2 in 2/3.
	Numerator uint64 `json:"numerator" toml:"numerator"`
	// The value by which the numerator is divided, e.g. 3 in 2/3.
	Denominator uint64 `json:"denominator" toml:"denominator"`
}

// TwoThirds is the default finality quorum.
var TwoThirds = Fraction{Numerator: 2, Denominator: 3}

func (fr Fraction) String() string {
	return fmt.Sprintf("%d/%d", fr.Numerator, fr.Denominator)
}

// ValidateBasic checks the fraction lies in (0, 1). A fraction of one could
// never be exceeded.
func (fr Fraction) ValidateBasic() error {
	if fr.Denominator == 0 {
		return errors.New("denominator can't be 0")
	}
	if fr.Numerator == 0 {
		return errors.New("numerator can't be 0")
	}
	if fr.Numerator >= fr.Denominator {
		return fmt.Errorf("fraction %v is not less than one", fr)
	}
	return nil
}

// Exceeds reports whether part/total is strictly greater than the fraction.
// The comparison is done with arbitrary precision so that large weights can't
// overflow.
func (fr Fraction) Exceeds(part, total uint64) bool {
	if total == 0 {
		return false
	}
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(part), new(big.Int).SetUint64(fr.Denominator))
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(total), new(big.Int).SetUint64(fr.Numerator))
	return lhs.Cmp(rhs) > 0
}

// ParseFraction parses a fraction from a string of the form "a/b".
func ParseFraction(f string) (Fraction, error) {
	o := strings.Split(f, "/")
	if len(o) != 2 {
		return Fraction{}, errors.New("incorrect formating: should have a single slash i.e. \"1/3\"")
	}
	numerator, err := strconv.ParseUint(o[0], 10, 64)
	if err != nil {
		return Fraction{}, fmt.Errorf("incorrect formatting, err: %w", err)
	}

	denominator, err := strconv.ParseUint(o[1], 10, 64)
	if err != nil {
		return Fraction{}, fmt.Errorf("incorrect formatting, err: %w", err)
	}
	fr := Fraction{Numerator: numerator, Denominator: denominator}
	if err := fr.ValidateBasic(); err != nil {
		return Fraction{}, err
	}
	return fr, nil
}
