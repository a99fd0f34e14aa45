package domain

import "math"

// CurrentPrice computes the clearing price for the next unit at the given
// supply level on a linear bonding curve:
//
//	price = basePrice + priceIncrement * supply
//
// All arithmetic is overflow-checked; an overflow returns ErrMathOverflow
// rather than a wrapped value. The function is pure and may be called any
// number of times in any order.
func CurrentPrice(basePrice, priceIncrement, supply uint64) (uint64, error) {
	step, err := CheckedMul(priceIncrement, supply)
	if err != nil {
		return 0, err
	}
	return CheckedAdd(basePrice, step)
}

// CheckedAdd returns a+b or ErrMathOverflow if the sum exceeds uint64.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrMathOverflow
	}
	return a + b, nil
}

// CheckedSub returns a-b or ErrMathOverflow if b > a. An underflow here is
// always a bookkeeping defect, never a legitimate business outcome.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrMathOverflow
	}
	return a - b, nil
}

// CheckedMul returns a*b or ErrMathOverflow if the product exceeds uint64.
func CheckedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxUint64/b {
		return 0, ErrMathOverflow
	}
	return a * b, nil
}
