package config

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// ParseLaneMatrix parses seven colon-separated hexadecimal masks in the
// order BR:LS:ALU_S:ALU_C:LS_FP:ALU_FP:MTF.
func ParseLaneMatrix(s string) (LaneMatrix, error) {
	var m LaneMatrix

	if strings.Count(s, ":") != len(m)-1 {
		return m, fmt.Errorf("lane matrix %q: want %d fields", s, len(m))
	}

	for i, field := range strings.Split(s, ":") {
		field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
		v, err := strconv.ParseUint(field, 16, 32)
		if err != nil {
			return m, fmt.Errorf("lane matrix %q: field %d: %w", s, i, err)
		}
		m[i] = uint32(v)
	}

	return m, nil
}

// String renders the matrix as the lane-matrix banner.
func (m LaneMatrix) String() string {
	parts := make([]string, len(m))
	for i, v := range m {
		parts[i] = fmt.Sprintf("0x%x", v)
	}
	return "Lane Matrix: " + strings.Join(parts, " ")
}

// ParseCacheGeometry parses S:W:B, where S sets and B-byte blocks are
// powers of two. Latencies are taken from base.
func ParseCacheGeometry(s string, base CacheGeometry) (CacheGeometry, error) {
	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return base, fmt.Errorf("cache %q: want S:W:B", s)
	}

	var v [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			return base, fmt.Errorf("cache %q: bad field %q", s, f)
		}
		v[i] = n
	}

	sets, ways, block := v[0], v[1], v[2]
	if sets&(sets-1) != 0 || block&(block-1) != 0 {
		return base, fmt.Errorf("cache %q: sets and block size must be powers of 2", s)
	}

	g := base
	g.Sets = sets
	g.Ways = ways
	g.LineBits = bits.TrailingZeros(uint(block))
	return g, nil
}
