package pincode

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/babyfoot/apperr"
)

func TestGenerate_ShapeAndAlphabet(t *testing.T) {
	gen := NewGenerator()
	for i := 0; i < 500; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)
		require.True(t, Validate(code), "generated %q", code)
		assert.NotContains(t, code[:3], "I")
		assert.NotContains(t, code[:3], "O")
	}
}

func TestGenerate_EntropyFailure(t *testing.T) {
	gen := NewGeneratorFrom(bytes.NewReader(nil))
	_, err := gen.Generate()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"ABC-123", true},
		{"abc-123", true},
		{"ZZZ-999", true},
		{"ABC123", false},
		{"AB-1234", false},
		{"123-ABC", false},
		{"ABC-12A", false},
		{" ABC-123", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.want, Validate(tc.code))
		})
	}
}

func TestCanonical(t *testing.T) {
	got, ok := Canonical("xyz-042")
	require.True(t, ok)
	assert.Equal(t, "XYZ-042", got)

	_, ok = Canonical("xyz042")
	assert.False(t, ok)
}

func TestFormat(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"a":           "A",
		"ab c":        "ABC",
		"abc1":        "ABC1",
		"abc12":       "ABC12",
		"abc123":      "ABC-123",
		"abc-123":     "ABC-123",
		" a.b,c 1/23": "ABC-123",
		"abc1234567":  "ABC-123",
		"ABC-123":     "ABC-123",
	}
	for in, want := range cases {
		assert.Equal(t, want, Format(in), "Format(%q)", in)
	}
}

func TestNonASCIILettersAreNotFolded(t *testing.T) {
	assert.Equal(t, "AB123", Format("ıab123"))
	assert.Equal(t, "AB1-234", Format("ſab1234"))
	assert.False(t, Validate("ıab-123"))
	_, ok := Canonical("ſab-123")
	assert.False(t, ok)
}

func TestFormat_IdempotentAndValidates(t *testing.T) {
	inputs := []string{"abc123", "x y z 9 8 7", "qwe-rty-123", "KLM 000 trailing", "a", "ab-c1"}
	for _, in := range inputs {
		once := Format(in)
		assert.Equal(t, once, Format(once), "idempotence for %q", in)
	}

	// Six alphanumerics in letter/digit order always normalize into a valid code.
	for _, in := range []string{"abc123", "a-b-c-1-2-3", "  Hjk 4 5 6 extra"} {
		assert.True(t, Validate(Format(in)), "Validate(Format(%q))", in)
	}
}

func TestAllocate_RetriesOnCollision(t *testing.T) {
	gen := NewGenerator()
	calls := 0
	code, err := Allocate(context.Background(), gen, func(_ context.Context, c string) (bool, error) {
		calls++
		return calls < 3, nil
	}, 5)
	require.NoError(t, err)
	assert.True(t, Validate(code))
	assert.Equal(t, 3, calls)
}

func TestAllocate_Exhausted(t *testing.T) {
	_, err := Allocate(context.Background(), NewGenerator(), func(context.Context, string) (bool, error) {
		return true, nil
	}, 4)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestAllocate_PropagatesLookupFailure(t *testing.T) {
	boom := errors.New("store down")
	_, err := Allocate(context.Background(), NewGenerator(), func(context.Context, string) (bool, error) {
		return false, boom
	}, 4)
	assert.ErrorIs(t, err, boom)
}
