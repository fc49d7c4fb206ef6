// Package engine describes the supported inpainting models and talks to the
// model services over unix sockets.
package engine

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/mask"
)

// Type names an inpainting model
type Type string

const (
	// LaMa is a per-frame large mask inpainting model
	LaMa Type = "lama"
	// MAT is a per-frame mask-aware transformer
	MAT Type = "mat"
	// E2FGVI is the fast flow-guided video inpainting model
	E2FGVI Type = "e2fgvi"
	// E2FGVIHQ is the high quality flow-guided video inpainting model
	E2FGVIHQ Type = "e2fgvi_hq"
)

// ErrUnknownType is returned for a model name which is not supported
var ErrUnknownType = errors.New("unknown engine type")

// Profile holds processing parameters tied to a model
type Profile struct {
	Type Type
	// Temporal engines clean whole segments at once
	Temporal bool
	// Dilate is the elliptic kernel applied to masks. Zero leaves masks as is
	Dilate int
	// OverlapRatio is the share of the shorter neighbouring core duplicated across a boundary
	OverlapRatio float64
	// ChunkRatio bounds segment cores to this share of the clip. Zero means unbounded
	ChunkRatio float64
	// MinChunk is the smallest core allowed when ChunkRatio applies
	MinChunk int
	// ChannelOrder the model expects pixels in
	ChannelOrder frame.ChannelOrder
}

var profiles = map[Type]Profile{
	LaMa: {
		Type:         LaMa,
		Dilate:       mask.DefaultKernel,
		ChannelOrder: frame.BGR,
	},
	MAT: {
		Type:         MAT,
		Dilate:       mask.DefaultKernel,
		ChannelOrder: frame.BGR,
	},
	E2FGVI: {
		Type:         E2FGVI,
		Temporal:     true,
		OverlapRatio: 0.01,
		ChunkRatio:   0.08,
		MinChunk:     10,
		ChannelOrder: frame.RGB,
	},
	E2FGVIHQ: {
		Type:         E2FGVIHQ,
		Temporal:     true,
		OverlapRatio: 0.02,
		ChunkRatio:   0.15,
		MinChunk:     10,
		ChannelOrder: frame.RGB,
	},
}

// ParseType resolves a model name, case insensitive
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[t]; !ok {
		return "", errors.Wrapf(ErrUnknownType, "'%s'", s)
	}
	return t, nil
}

// ProfileFor returns default profile of the model
func ProfileFor(t Type) (Profile, error) {
	p, ok := profiles[t]
	if !ok {
		return Profile{}, errors.Wrapf(ErrUnknownType, "'%s'", t)
	}
	return p, nil
}

// Types lists supported models
func Types() []Type {
	return []Type{LaMa, MAT, E2FGVI, E2FGVIHQ}
}
