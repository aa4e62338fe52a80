// Package operator defines the contract processing steps implement and the
// per-instance context through which they reach their sources.
package operator

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

var (
	// ErrNotImplemented signals a misconfigured operator: a compute strategy
	// was invoked that the operator does not provide.
	ErrNotImplemented     = errors.New("not implemented")
	ErrNotInitialized     = errors.New("operator not initialized")
	ErrAlreadyInitialized = errors.New("operator already initialized")
	ErrRunClosed          = errors.New("run closed")
	ErrUnknownOperator    = errors.New("unknown operator type")
	ErrUnknownChannel     = errors.New("unknown channel")
)

// Operator is a node of the processing graph. Initialize is called exactly
// once before any compute call and returns the output raster descriptor.
// Dispose is always called when the run ends.
//
// An operator computes through TileComputer, AllBandsComputer or both.
type Operator interface {
	Initialize(c *Context) (*raster.Product, error)
	Dispose()
}

// TileComputer fills one channel's tile. target.Rect is the requested
// region and target.Channel the requested channel.
type TileComputer interface {
	ComputeTile(ctx context.Context, target *raster.Tile, pm progress.Monitor) error
}

// AllBandsComputer fills the tiles of several channels for one rectangle
// in a single pass. targets is keyed by channel name.
type AllBandsComputer interface {
	ComputeAllBands(ctx context.Context, targets map[string]*raster.Tile, rect raster.Rectangle, pm progress.Monitor) error
}

// SourceRegioner declares that computing target needs a larger region of
// the named source, e.g. for neighbourhood filters.
type SourceRegioner interface {
	SourceRegion(source string, target raster.Rectangle) raster.Rectangle
}

// Base can be embedded by operators that hold no resources.
type Base struct{}

func (Base) Dispose() {}

// Strategies reports which compute capabilities op provides.
func Strategies(op Operator) (perBand, allBands bool) {
	_, perBand = op.(TileComputer)
	_, allBands = op.(AllBandsComputer)
	return perBand, allBands
}
