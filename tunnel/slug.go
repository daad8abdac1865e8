package tunnel

import "crypto/rand"

// 36 symbols, hence 5.17 bits per character.
// At 8 characters, that's 41 bits.
const slugChars = "abcdefghijklmnopqrstuvwxyz0123456789"
const slugLen = 8

// makeSlug generates a random label usable as a subdomain.
func makeSlug() string {
	buf := make([]byte, slugLen)
	if n, _ := rand.Read(buf); n != slugLen {
		panic("Unable to read from crypto/rand")
	}
	for i := range buf {
		buf[i] = slugChars[buf[i]%byte(len(slugChars))]
	}
	return string(buf)
}
