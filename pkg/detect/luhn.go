package detect

// LuhnValid reports whether digits passes the Luhn checksum: doubling every
// second digit from the rightmost, subtracting 9 when a doubled digit
// exceeds 9, and requiring the total to be divisible by 10.
func LuhnValid(digits string) bool {
	if digits == "" {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}
