// Package model defines the request and response types of the HTTP API.
package model

import (
	"math"
	"strconv"

	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatPNG  Format = "png"
)

type TileRequest struct {
	Node     string
	Channels []string
	Rect     raster.Rectangle
	Format   Format
}

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

func FromRect(r raster.Rectangle) Rect {
	return Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// Sample encodes NaN and the infinities as null.
type Sample float64

func (s Sample) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

type ChannelTile struct {
	Channel string   `json:"channel"`
	Type    string   `json:"type"`
	NoData  *float64 `json:"nodata,omitempty"`
	Samples []Sample `json:"samples"`
}

type TileResponse struct {
	Node     string        `json:"node"`
	Rect     Rect          `json:"rect"`
	Channels []ChannelTile `json:"channels"`
}

type ChannelInfo struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Unit   string   `json:"unit,omitempty"`
	NoData *float64 `json:"nodata,omitempty"`
}

type NodeInfo struct {
	ID       string            `json:"id"`
	Operator string            `json:"operator"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Channels []ChannelInfo     `json:"channels"`
	Params   map[string]string `json:"params,omitempty"`
}

type ParamInfo struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Alias       string   `json:"alias,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Description string   `json:"description,omitempty"`
	Default     string   `json:"default,omitempty"`
	Interval    string   `json:"interval,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	ValueSet    []string `json:"value_set,omitempty"`
	NotNull     bool     `json:"not_null,omitempty"`
}

type OperatorInfo struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Params      []ParamInfo `json:"params"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
