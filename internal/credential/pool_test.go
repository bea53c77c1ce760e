package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr error
	}{
		{name: "single key", raw: "abc", want: []string{"abc"}},
		{name: "ordered keys", raw: "k1,k2,k3", want: []string{"k1", "k2", "k3"}},
		{name: "trims and drops blanks", raw: " k1 ,, k2 ,", want: []string{"k1", "k2"}},
		{name: "dedupes keeping first", raw: "k2,k1,k2", want: []string{"k2", "k1"}},
		{name: "empty string", raw: "", wantErr: ErrEmptyPool},
		{name: "only separators", raw: " , ,", wantErr: ErrEmptyPool},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pool, err := Parse(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pool.Keys())
		})
	}
}

func TestPoolRemoveShrinksMonotonically(t *testing.T) {
	t.Parallel()

	pool, err := Parse("k1,k2,k3")
	require.NoError(t, err)

	first, ok := pool.First()
	require.True(t, ok)
	assert.Equal(t, "k1", first)

	assert.True(t, pool.Remove("k2"))
	assert.Equal(t, []string{"k1", "k3"}, pool.Keys())

	// idempotent
	assert.False(t, pool.Remove("k2"))
	assert.Equal(t, 2, pool.Len())

	assert.True(t, pool.Remove("k1"))
	first, ok = pool.First()
	require.True(t, ok)
	assert.Equal(t, "k3", first)

	assert.True(t, pool.Remove("k3"))
	assert.True(t, pool.Empty())
	_, ok = pool.First()
	assert.False(t, ok)
}

func TestPoolKeysIsACopy(t *testing.T) {
	t.Parallel()

	pool, err := Parse("k1,k2")
	require.NoError(t, err)
	keys := pool.Keys()
	keys[0] = "mutated"
	assert.True(t, pool.Contains("k1"))
	assert.False(t, pool.Contains("mutated"))
}

func TestMask(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "****", Mask("abcd"))
	assert.Equal(t, "****efgh", Mask("abcdefgh"))
	assert.Equal(t, "", Mask(""))
}
