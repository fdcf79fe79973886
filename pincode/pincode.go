// Package pincode generates, validates and normalizes the human-typable join
// codes used by sessions and tournaments. Codes look like "ABC-123".
package pincode

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"

	"github.com/wfunc/babyfoot/apperr"
)

const (
	// Letters excludes I and O, which read as 1 and 0.
	Letters   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	Digits    = "0123456789"
	Separator = '-'

	codeChars = 6
)

var (
	pattern = regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}$`)

	ErrExhausted = apperr.Conflict("could not allocate a free pin code")
)

// Generator draws codes from an entropy source.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorFrom is used by tests to make generation reproducible.
func NewGeneratorFrom(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a uniformly random LLL-DDD code. It does not check
// uniqueness; see Allocate.
func (g *Generator) Generate() (string, error) {
	var sb strings.Builder
	sb.Grow(codeChars + 1)
	for i := 0; i < 3; i++ {
		c, err := g.pick(Letters)
		if err != nil {
			return "", err
		}
		sb.WriteByte(c)
	}
	sb.WriteByte(Separator)
	for i := 0; i < 3; i++ {
		c, err := g.pick(Digits)
		if err != nil {
			return "", err
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

func (g *Generator) pick(charset string) (byte, error) {
	n, err := rand.Int(g.rand, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, fmt.Errorf("read entropy: %w", err)
	}
	return charset[n.Int64()], nil
}

// upper uppercases a-z only. Unicode case mapping would turn runes like
// 'ı' or 'ſ' into ASCII letters.
func upper(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, s)
}

// Validate reports whether code is exactly LLL-DDD, ignoring case.
func Validate(code string) bool {
	return pattern.MatchString(upper(code))
}

// Canonical returns the uppercase form of a valid code.
func Canonical(code string) (string, bool) {
	up := upper(code)
	if !pattern.MatchString(up) {
		return "", false
	}
	return up, true
}

// Format normalizes partial keyboard input: non-alphanumerics are dropped,
// letters uppercased, input capped at six characters, and the separator is
// inserted once all six are present.
func Format(raw string) string {
	buf := make([]byte, 0, codeChars+1)
	for _, r := range upper(raw) {
		if len(buf) == codeChars {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			buf = append(buf, byte(r))
		}
	}
	if len(buf) < codeChars {
		return string(buf)
	}
	return string(buf[:3]) + string(Separator) + string(buf[3:])
}

// InUseFunc reports whether a code is held by a currently active record.
type InUseFunc func(ctx context.Context, code string) (bool, error)

// Allocate generates codes until one is not in use. The code space is large
// (24^3 * 10^3) but only active records are checked, so collisions are rare
// and attempts bounds the pathological case.
func Allocate(ctx context.Context, gen *Generator, inUse InUseFunc, attempts int) (string, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		code, err := gen.Generate()
		if err != nil {
			return "", err
		}
		taken, err := inUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrExhausted
}
