// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package presence

import "github.com/google/uuid"

// Color is a palette entry: the caret/label color and a translucent variant
// used for selection highlights.
type Color struct {
	Color string
	Light string
}

// Palette is the fixed set of presence colors.
var Palette = []Color{
	{Color: "#30bced", Light: "#30bced33"},
	{Color: "#6eeb83", Light: "#6eeb8333"},
	{Color: "#ffbc42", Light: "#ffbc4233"},
	{Color: "#ecd444", Light: "#ecd44433"},
	{Color: "#ee6352", Light: "#ee635233"},
	{Color: "#9ac2c9", Light: "#9ac2c933"},
	{Color: "#8acb88", Light: "#8acb8833"},
	{Color: "#1be7ff", Light: "#1be7ff33"},
}

// PickColor maps seed onto the palette. Equal seeds always give equal colors,
// so a palette index can be passed directly.
func PickColor(seed int64) Color {
	n := int64(len(Palette))
	i := seed % n
	if i < 0 {
		i += n
	}
	return Palette[i]
}

// RandomColor picks a palette entry for providers without a configured seed.
func RandomColor() Color {
	return PickColor(int64(uuid.New().ID()))
}

// NewClientID returns a random awareness client id.
func NewClientID() uint32 {
	for {
		if id := uuid.New().ID(); id != 0 {
			return id
		}
	}
}
