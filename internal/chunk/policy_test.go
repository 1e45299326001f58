package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyChunkSize(t *testing.T) {
	tests := []struct {
		name     string
		fileSize int64
		tier     Tier
		want     int64
	}{
		{"empty file privileged", 0, TierPrivileged, 4 * MiB},
		{"small file privileged", 100 * MiB, TierPrivileged, 4 * MiB},
		{"exactly first ceiling", 4 * GiB, TierPrivileged, 4 * MiB},
		{"just over first ceiling", 4*GiB + 1, TierPrivileged, 8 * MiB},
		{"exactly 8 GiB", 8 * GiB, TierPrivileged, 8 * MiB},
		{"20 GiB", 20 * GiB, TierPrivileged, 32 * MiB},
		{"exactly last ceiling", 128 * GiB, TierPrivileged, 128 * MiB},
		{"beyond last ceiling", 500 * GiB, TierPrivileged, 128 * MiB},
		{"standard small", 1 * MiB, TierStandard, 4 * MiB},
		{"standard huge", 500 * GiB, TierStandard, 4 * MiB},
	}

	p := DefaultPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ChunkSize(tt.fileSize, tt.tier))
			assert.Equal(t, tt.want, Size(tt.fileSize, tt.tier))
		})
	}
}

func TestPolicyChunkSizeMonotonic(t *testing.T) {
	p := DefaultPolicy()
	for _, tier := range []Tier{TierStandard, TierPrivileged} {
		prev := int64(0)
		for size := int64(0); size <= 200*GiB; size += 512 * MiB {
			got := p.ChunkSize(size, tier)
			require.GreaterOrEqual(t, got, prev, "tier %s size %d", tier, size)
			prev = got
		}
	}
}

func TestPolicyMinChunkSize(t *testing.T) {
	p := DefaultPolicy()
	p.MinChunkSize = 5 * MiB

	assert.Equal(t, 5*MiB, p.ChunkSize(100*MiB, TierStandard))
	assert.Equal(t, 8*MiB, p.ChunkSize(6*GiB, TierPrivileged))
}

func TestPolicyFits(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.Fits(4*GiB, TierStandard))
	assert.False(t, p.Fits(4*GiB+1, TierStandard))
	assert.True(t, p.Fits(100*GiB, TierPrivileged))
	assert.True(t, p.Fits(128*GiB, TierPrivileged))
	assert.False(t, p.Fits(128*GiB+1, TierPrivileged))

	p.MaxChunks = 0
	assert.True(t, p.Fits(1024*GiB, TierStandard))
}

func TestCountAndRange(t *testing.T) {
	assert.Equal(t, 0, Count(0, 4*MiB))
	assert.Equal(t, 25, Count(100*MiB, 4*MiB))
	assert.Equal(t, 26, Count(100*MiB+1, 4*MiB))
	assert.Equal(t, 1, Count(1, 4*MiB))

	off, n := Range(24, 100*MiB, 4*MiB)
	assert.Equal(t, 96*MiB, off)
	assert.Equal(t, 4*MiB, n)

	off, n = Range(25, 100*MiB+1, 4*MiB)
	assert.Equal(t, 100*MiB, off)
	assert.Equal(t, int64(1), n)

	_, n = Range(30, 100*MiB, 4*MiB)
	assert.Equal(t, int64(0), n)
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"", TierStandard, false},
		{"standard", TierStandard, false},
		{"Privileged", TierPrivileged, false},
		{"vip", TierPrivileged, false},
		{"gold", TierStandard, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
