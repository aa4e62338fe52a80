// Package operators holds the built-in operator types. Importing it adds
// them to operator.Default.
package operators

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/param"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

//go:embed schema/*.yaml
var schemas embed.FS

func init() {
	param.RegisterValidator("hexColors", func() (param.Validator, error) {
		return param.ValidatorFunc(validateHexColors), nil
	})

	operator.Register(operator.Spi{
		Type:        "ramp",
		Description: "Synthetic source: a linear ramp per channel.",
		Create:      func() operator.Operator { return &Ramp{} },
		Fields:      mustFields("ramp"),
	})
	operator.Register(operator.Spi{
		Type:        "redis_reader",
		Description: "Reads an ingested raster from the Redis block store.",
		Create:      func() operator.Operator { return &RedisReader{} },
		Fields:      mustFields("redis_reader"),
	})
	operator.Register(operator.Spi{
		Type:        "linear",
		Description: "scale*x+offset on each selected source channel.",
		Create:      func() operator.Operator { return &Linear{} },
		Fields:      mustFields("linear"),
	})
	operator.Register(operator.Spi{
		Type:        "band_maths",
		Description: "Normalized difference (a-b)/(a+b) with a validity mask.",
		Create:      func() operator.Operator { return &BandMaths{} },
		Fields:      mustFields("band_maths"),
	})
	operator.Register(operator.Spi{
		Type:        "box_filter",
		Description: "Mean over a square neighbourhood.",
		Create:      func() operator.Operator { return &BoxFilter{} },
		Fields:      mustFields("box_filter"),
	})
	operator.Register(operator.Spi{
		Type:        "colorize",
		Description: "Maps one channel through a colour ramp to red, green and blue.",
		Create:      func() operator.Operator { return &Colorize{} },
		Fields:      mustFields("colorize"),
	})
}

func mustFields(name string) []param.Field {
	b, err := schemas.ReadFile("schema/" + name + ".yaml")
	if err != nil {
		panic(fmt.Sprintf("operators: schema %s: %v", name, err))
	}
	fields, err := param.LoadFields(bytes.NewReader(b))
	if err != nil {
		panic(fmt.Sprintf("operators: schema %s: %v", name, err))
	}
	return fields
}

func validateHexColors(_ *param.Descriptor, v any) error {
	list, _ := v.([]string)
	for _, s := range list {
		if _, err := colorful.Hex(s); err != nil {
			return fmt.Errorf("%q is not a #rrggbb colour", s)
		}
	}
	return nil
}

var (
	sourceMu sync.RWMutex
	source   RasterSource
)

// UseRasterSource sets the store RedisReader instances initialize against.
func UseRasterSource(s RasterSource) {
	sourceMu.Lock()
	source = s
	sourceMu.Unlock()
}

func currentSource() RasterSource {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return source
}

// selectChannels returns the source channels named in want, or all of them.
func selectChannels(src *raster.Product, want []string) ([]raster.Channel, error) {
	if len(want) == 0 {
		return append([]raster.Channel(nil), src.Channels...), nil
	}
	out := make([]raster.Channel, 0, len(want))
	for _, name := range want {
		c := src.Channel(name)
		if c == nil {
			return nil, fmt.Errorf("%w %q in %s", operator.ErrUnknownChannel, name, src.Name)
		}
		out = append(out, *c)
	}
	return out, nil
}

func requireSource(c *operator.Context, name string) (*raster.Product, error) {
	s := c.Source(name)
	if s == nil || s.Product == nil {
		return nil, fmt.Errorf("source %q is not connected", name)
	}
	return s.Product, nil
}
