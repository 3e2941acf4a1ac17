package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// classBytes looks like a class file: magic followed by repetitive pool
// entries.
func classBytes() []byte {
	data := []byte{0xca, 0xfe, 0xba, 0xbe, 0x00, 0x00, 0x00, 0x34}
	return append(data, bytes.Repeat([]byte("\x01\x00\x10java/lang/Object"), 64)...)
}

func TestRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeNone, TypeGzip, TypeZstd} {
		t.Run(typ.String(), func(t *testing.T) {
			for _, level := range []Level{LevelFastest, LevelDefault, LevelBest} {
				c, err := New(typ, level)
				require.NoError(t, err)

				packed, err := c.Compress(classBytes())
				require.NoError(t, err)
				assert.Equal(t, typ, c.Type())
				assert.Equal(t, typ, DetectType(packed))
				if typ != TypeNone {
					assert.Less(t, len(packed), len(classBytes()))
				}

				unpacked, err := c.Decompress(packed)
				require.NoError(t, err)
				assert.Equal(t, classBytes(), unpacked)

				auto, err := AutoDecompress(packed)
				require.NoError(t, err)
				assert.Equal(t, classBytes(), auto)

				Close(c)
			}
		})
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(Type(42), LevelDefault)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Type(42)")
}

func TestDefault(t *testing.T) {
	c := Default()
	defer Close(c)
	assert.Equal(t, TypeZstd, c.Type())
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"", TypeZstd, false},
		{"zstd", TypeZstd, false},
		{" ZST ", TypeZstd, false},
		{"gzip", TypeGzip, false},
		{"gz", TypeGzip, false},
		{"none", TypeNone, false},
		{"off", TypeNone, false},
		{"lz4", TypeNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeForPath(t *testing.T) {
	assert.Equal(t, TypeZstd, TypeForPath("out/report.json.zst"))
	assert.Equal(t, TypeZstd, TypeForPath("report.ZSTD"))
	assert.Equal(t, TypeGzip, TypeForPath("report.json.gz"))
	assert.Equal(t, TypeNone, TypeForPath("report.json"))
	assert.Equal(t, TypeNone, TypeForPath("report"))

	for _, typ := range []Type{TypeGzip, TypeZstd} {
		assert.Equal(t, typ, TypeForPath("r.json"+typ.Extension()))
	}
	assert.Empty(t, TypeNone.Extension())
}

func TestDetectType(t *testing.T) {
	assert.Equal(t, TypeZstd, DetectType([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}))
	assert.Equal(t, TypeGzip, DetectType([]byte{0x1f, 0x8b}))
	assert.Equal(t, TypeNone, DetectType([]byte{0xca, 0xfe, 0xba, 0xbe}))
	assert.Equal(t, TypeNone, DetectType(nil))
}

func TestAutoDecompress_Errors(t *testing.T) {
	_, err := AutoDecompress([]byte{0x1f, 0x8b, 0x00})
	assert.Error(t, err)

	_, err = AutoDecompress([]byte{0x28, 0xb5, 0x2f, 0xfd, 0xff, 0xff})
	assert.Error(t, err)

	raw := []byte("plain")
	out, err := AutoDecompress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}
