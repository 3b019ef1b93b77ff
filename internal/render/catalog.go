package render

import (
	"sort"

	"github.com/user/remixsync/internal/types"
)

// Filter describes a filter the preview pipeline knows how to draw.
type Filter struct {
	Name        string
	Description string
	Defaults    types.Params
}

// Catalog indexes filters by name.
type Catalog map[string]Filter

// Builtin returns the filters shipped with the studio.
func Builtin() Catalog {
	c := Catalog{}
	for _, f := range []Filter{
		{Name: "blur", Description: "gaussian blur", Defaults: types.Params{"radius": 5}},
		{Name: "colorize", Description: "hue and saturation shift", Defaults: types.Params{"hue": 180, "saturation": 0.5}},
		{Name: "vhs", Description: "tape noise and scanlines", Defaults: types.Params{"intensity": 0.7}},
		{Name: "glitch", Description: "block displacement", Defaults: types.Params{"amount": 0.3, "speed": 0.5}},
		{Name: "pixelate", Description: "mosaic", Defaults: types.Params{"size": 10}},
		{Name: "reverb", Description: "audio room reverb", Defaults: types.Params{"roomSize": 0.8, "wet": 0.5}},
		{Name: "rgbShift", Description: "channel offset", Defaults: types.Params{"amount": 0.01, "angle": 0}},
		{Name: "neon", Description: "edge glow", Defaults: types.Params{"brightness": 0.1, "contrast": 1.5}},
	} {
		c[f.Name] = f
	}
	return c
}

// Known reports whether name is in the catalog.
func (c Catalog) Known(name string) bool {
	_, ok := c[name]
	return ok
}

// DefaultParams returns a copy of the default parameters for name, or an
// empty map for filters the catalog does not know.
func (c Catalog) DefaultParams(name string) types.Params {
	return c[name].Defaults.Clone()
}

// Names returns the catalog entries in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
