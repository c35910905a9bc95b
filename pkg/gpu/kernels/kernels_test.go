package kernels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedPTX(t *testing.T) {
	m, err := ParsePTX(PTX())
	require.NoError(t, err)

	assert.Equal(t, "8.4", m.Version)
	assert.Equal(t, "sm_52", m.Target)
	require.Len(t, m.Entries, 1)

	e, err := m.Lookup(Entry)
	require.NoError(t, err)
	assert.Equal(t, []string{"u64", "u64", "u64", "u64", "u64", "u32"}, e.Params)
	assert.NoError(t, CheckReduction(e))
}

func TestEmbeddedOpenCL(t *testing.T) {
	m, err := ParseOpenCL(OpenCL())
	require.NoError(t, err)

	e, err := m.Lookup(Entry)
	require.NoError(t, err)
	assert.Len(t, e.Params, 6)
}

func TestPTXIsCopied(t *testing.T) {
	a := PTX()
	a[0] = 'X'
	assert.NotEqual(t, a[0], PTX()[0])
}

func TestParsePTXErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", "   \n"},
		{"no version", ".target sm_52\n.visible .entry k(\n.param .u64 p\n)\n{ ret; }"},
		{"no target", ".version 8.4\n.visible .entry k(\n.param .u64 p\n)\n{ ret; }"},
		{"unterminated", ".version 8.4\n.target sm_52\n.visible .entry k(\n.param .u64 p,\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePTX([]byte(tt.src))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestLookupMissingEntry(t *testing.T) {
	m, err := ParsePTX([]byte(".version 8.4\n.target sm_52\n.visible .entry other(\n\t.param .u64 p0\n)\n{\n\tret;\n}\n"))
	require.NoError(t, err)

	_, err = m.Lookup(Entry)
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestCheckReduction(t *testing.T) {
	t.Run("signed length accepted", func(t *testing.T) {
		e := EntryPoint{Name: Entry, Params: []string{"u64", "u64", "u64", "u64", "u64", "s32"}}
		assert.NoError(t, CheckReduction(e))
	})

	t.Run("wrong arity", func(t *testing.T) {
		e := EntryPoint{Name: Entry, Params: []string{"u64", "u64", "u32"}}
		assert.ErrorIs(t, CheckReduction(e), ErrSignature)
	})

	t.Run("wrong type", func(t *testing.T) {
		e := EntryPoint{Name: Entry, Params: []string{"u64", "u32", "u64", "u64", "u64", "u32"}}
		assert.ErrorIs(t, CheckReduction(e), ErrSignature)
	})
}

func TestParseOpenCLNoKernels(t *testing.T) {
	_, err := ParseOpenCL([]byte("float helper(float x) { return x; }"))
	assert.ErrorIs(t, err, ErrMalformed)
}
