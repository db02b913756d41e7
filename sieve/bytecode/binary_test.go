package bytecode

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResolver map[string]uint64

func (r testResolver) ResolveExtension(name string, version uint64) (int, error) {
	v, ok := r[name]
	if !ok || v != version {
		return 0, fmt.Errorf("%s: %w", name, ErrUnsupportedExtension)
	}
	return len(name), nil
}

func buildBinary(t *testing.T) *Binary {
	t.Helper()
	bin := New()
	ext, err := bin.LinkExtension("fileinto", 1, 0)
	require.NoError(t, err)
	again, err := bin.LinkExtension("fileinto", 1, 0)
	require.NoError(t, err)
	assert.Same(t, ext, again)

	vars, err := bin.LinkExtension("variables", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), vars.LocalID)

	data, err := bin.AddBlock(KindData)
	require.NoError(t, err)
	data.EmitString("greeting")
	require.NoError(t, bin.SetExtensionBlock(vars, data))

	debug, err := bin.AddBlock(KindDebug)
	require.NoError(t, err)
	NewDebugWriter(debug).Emit(0, 1)

	bin.Main().EmitCode(5)
	bin.Main().EmitStringOperand("INBOX")
	require.NoError(t, bin.Finalize())
	return bin
}

func TestBinaryRoundTrip(t *testing.T) {
	bin := buildBinary(t)
	raw, err := bin.MarshalBinary()
	require.NoError(t, err)

	loaded, err := Load(raw, testResolver{"fileinto": 1, "variables": 2})
	require.NoError(t, err)
	assert.True(t, loaded.Finalized())
	assert.Equal(t, bin.Checksum(), loaded.Checksum())
	assert.Equal(t, bin.Main().Bytes(), loaded.Main().Bytes())

	require.Len(t, loaded.Extensions(), 2)
	vars, ok := loaded.ExtensionByName("variables")
	require.True(t, ok)
	assert.Equal(t, uint64(2), vars.LocalID)
	assert.Equal(t, len("variables"), vars.Handle)
	require.NotNil(t, vars.Block)
	assert.Equal(t, KindData, vars.Block.Kind())

	byID, ok := loaded.Extension(1)
	require.True(t, ok)
	assert.Equal(t, "fileinto", byID.Name)
	_, ok = loaded.Extension(0)
	assert.False(t, ok)

	require.NotNil(t, loaded.DebugBlock())
	_, err = loaded.AddBlock(KindData)
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	raw, err := buildBinary(t).MarshalBinary()
	require.NoError(t, err)

	_, err = Load(raw, testResolver{"fileinto": 1})
	assert.ErrorIs(t, err, ErrUnsupportedExtension)

	_, err = Load(raw, testResolver{"fileinto": 1, "variables": 3})
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestLoadVersionMismatch(t *testing.T) {
	raw, err := buildBinary(t).MarshalBinary()
	require.NoError(t, err)

	newer := append([]byte(nil), raw...)
	binary.BigEndian.PutUint16(newer[len(Magic):], VersionMajor+1)
	_, err = Load(newer, testResolver{"fileinto": 1, "variables": 2})
	assert.ErrorIs(t, err, ErrVersionMismatch)

	newer = append([]byte(nil), raw...)
	binary.BigEndian.PutUint16(newer[len(Magic)+2:], VersionMinor+1)
	_, err = Load(newer, testResolver{"fileinto": 1, "variables": 2})
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestLoadCorrupt(t *testing.T) {
	raw, err := buildBinary(t).MarshalBinary()
	require.NoError(t, err)
	resolver := testResolver{"fileinto": 1, "variables": 2}

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "bad magic",
			mutate:  func(b []byte) []byte { b[0] = 'X'; return b },
			wantErr: ErrBadMagic,
		},
		{
			name:    "flipped body byte",
			mutate:  func(b []byte) []byte { b[len(b)-checksumSize-1] ^= 0xff; return b },
			wantErr: ErrChecksum,
		},
		{
			name:    "truncated",
			mutate:  func(b []byte) []byte { return b[:headerSize] },
			wantErr: ErrTruncated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), raw...))
			_, err := Load(data, resolver)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestMarshalRequiresFinalize(t *testing.T) {
	bin := New()
	_, err := bin.MarshalBinary()
	assert.ErrorIs(t, err, ErrNotFinalized)
	require.NoError(t, bin.Finalize())
	assert.ErrorIs(t, bin.Finalize(), ErrFinalized)
}
