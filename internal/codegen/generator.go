package codegen

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/kkkkikiki/couponbook/internal/apperr"
)

const (
	// DefaultCharset is used when the generator is built with an empty charset
	DefaultCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Placeholder marks where the random part goes inside a pattern
	Placeholder = "{}"

	maxPatternLen = 40
	attemptFactor = 10
)

// Generator produces random coupon codes
type Generator struct {
	charset []byte
	rand    io.Reader
}

// New creates a generator drawing from charset with crypto/rand
func New(charset string) *Generator {
	if charset == "" {
		charset = DefaultCharset
	}
	return &Generator{charset: []byte(charset), rand: rand.Reader}
}

// Generate returns count codes unique within the batch and absent from
// existing. It gives up after count*10 draws, which means length is too short
// for the requested volume.
func (g *Generator) Generate(count int, pattern string, length int, existing map[string]struct{}) ([]string, error) {
	if count <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "count must be positive, got %d", count)
	}
	if length <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "length must be positive, got %d", length)
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	maxAttempts := count * attemptFactor

	for attempts := 0; len(codes) < count && attempts < maxAttempts; attempts++ {
		random, err := g.randomString(length)
		if err != nil {
			return nil, err
		}
		code := apply(pattern, random)

		if _, dup := seen[code]; dup {
			continue
		}
		if _, dup := existing[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	if len(codes) < count {
		return nil, apperr.New(apperr.InvalidArgument,
			"could not generate %d unique codes, only generated %d; increase the code length or change the pattern",
			count, len(codes))
	}
	return codes, nil
}

// apply places random into pattern
func apply(pattern, random string) string {
	switch {
	case pattern == "":
		return random
	case strings.Contains(pattern, Placeholder):
		return strings.Replace(pattern, Placeholder, random, 1)
	default:
		return pattern + random
	}
}

// CodeLength is the length of codes built from pattern with a random part of
// length characters.
func CodeLength(pattern string, length int) int {
	if strings.Contains(pattern, Placeholder) {
		return len(pattern) - len(Placeholder) + length
	}
	return len(pattern) + length
}

// randomString draws length characters uniformly from the charset. Bytes that
// would bias the modulo are rejected.
func (g *Generator) randomString(length int) (string, error) {
	n := len(g.charset)
	limit := 256 - 256%n

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, g.charset[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// ValidatePattern reports whether pattern is an acceptable code template.
func ValidatePattern(pattern string) bool {
	if len(pattern) > maxPatternLen {
		return false
	}
	for _, r := range pattern {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '{', r == '}':
		default:
			return false
		}
	}
	return true
}
