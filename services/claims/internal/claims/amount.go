package claims

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit quantity of ledger units. The zero value is 0.
type Amount struct {
	v uint256.Int
}

func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount reads a base-10 integer in [0, 2^256).
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty amount", ErrInvalidParameter)
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: amount %q is not a non-negative integer", ErrInvalidParameter, s)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, fmt.Errorf("%w: amount %q exceeds 256 bits", ErrInvalidParameter, s)
	}
	return Amount{v: *u}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string { return a.v.ToBig().String() }

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, fmt.Errorf("%w: %s + %s overflows", ErrInvalidParameter, a, b)
	}
	return out, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, fmt.Errorf("%w: %s - %s underflows", ErrInsufficientBalance, a, b)
	}
	return out, nil
}

// MulDiv returns a*m/d with truncating division.
func (a Amount) MulDiv(m, d uint64) (Amount, error) {
	if d == 0 {
		return Amount{}, fmt.Errorf("%w: division by zero", ErrInvalidParameter)
	}
	var out Amount
	mul := uint256.NewInt(m)
	if _, overflow := out.v.MulOverflow(&a.v, mul); overflow {
		return Amount{}, fmt.Errorf("%w: %s * %d overflows", ErrInvalidParameter, a, m)
	}
	out.v.Div(&out.v, uint256.NewInt(d))
	return out, nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
