package wire

// IsNewer reports whether next follows last in the wrapping 8-bit sequence.
// A counter is newer when it lies within the 127 values after last.
func IsNewer(last, next uint8) bool {
	return int8(next-last) > 0
}

// Counter hands out the wrapping 8-bit input sequence numbers.
type Counter struct {
	value uint8
}

func (c *Counter) Next() uint8 {
	c.value++
	return c.value
}
