package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("+ 1 alice\n- 2 bob\n"), 200)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			require.NoError(t, err)

			byID, err := ByID(c.ID())
			require.NoError(t, err)
			assert.Equal(t, name, byID.Name())

			compressed, err := c.Compress(payload)
			require.NoError(t, err)
			if c.ID() != None {
				assert.Less(t, len(compressed), len(payload))
			}

			out, err := c.Decompress(compressed, len(payload))
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestCodecs_Empty(t *testing.T) {
	for _, name := range Names() {
		c, err := ByName(name)
		require.NoError(t, err)

		compressed, err := c.Compress(nil)
		require.NoError(t, err)
		out, err := c.Decompress(compressed, 0)
		require.NoError(t, err)
		assert.Empty(t, out, name)
	}
}

func TestCodecs_Corrupt(t *testing.T) {
	for _, id := range []ID{Gzip, Zstd, Snappy, LZ4} {
		c, err := ByID(id)
		require.NoError(t, err)

		_, err = c.Decompress([]byte("definitely not compressed"), 1<<20)
		assert.Error(t, err, c.Name())
	}
}

func TestCodecs_OutputOverLimit(t *testing.T) {
	payload := bytes.Repeat([]byte{0}, 1<<20)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			require.NoError(t, err)

			compressed, err := c.Compress(payload)
			require.NoError(t, err)

			_, err = c.Decompress(compressed, 1024)
			require.ErrorIs(t, err, ErrTooLarge)

			out, err := c.Decompress(compressed, len(payload))
			require.NoError(t, err)
			assert.Len(t, out, len(payload))
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := ByName("brotli")
	require.Error(t, err)
	_, err = ByID(42)
	require.Error(t, err)
}
