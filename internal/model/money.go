package model

import "fmt"

// Money is an integer minor-units amount with an ISO 4217 currency code.
// Kept as an exact integer (not float64) to avoid accumulation error when
// amounts are summed for limit counters; the teacher's demo ISO 20022
// structures carry amounts as decimal strings, which is adequate for a
// throwaway XML example but not for limit bookkeeping in the core.
type Money struct {
	MinorUnits int64
	Currency   string
}

// String renders the amount in major units, e.g. "1000.00 TWD".
func (m Money) String() string {
	whole := m.MinorUnits / 100
	frac := m.MinorUnits % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, m.Currency)
}

// Add returns m+o. Panics if currencies differ — callers must not mix
// currencies within a single limit counter.
func (m Money) Add(o Money) Money {
	if m.Currency != o.Currency && m.Currency != "" && o.Currency != "" {
		panic(fmt.Sprintf("model: cannot add mismatched currencies %s and %s", m.Currency, o.Currency))
	}
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	return Money{MinorUnits: m.MinorUnits + o.MinorUnits, Currency: cur}
}

// Sub returns m-o, same currency rule as Add.
func (m Money) Sub(o Money) Money {
	return m.Add(Money{MinorUnits: -o.MinorUnits, Currency: o.Currency})
}

func (m Money) IsPositive() bool { return m.MinorUnits > 0 }
func (m Money) IsZero() bool     { return m.MinorUnits == 0 }

func (m Money) GreaterThan(o Money) bool { return m.MinorUnits > o.MinorUnits }
func (m Money) LessThan(o Money) bool    { return m.MinorUnits < o.MinorUnits }
