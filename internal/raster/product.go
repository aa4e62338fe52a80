package raster

import "fmt"

// Channel is a named output surface of an operator, the unit tiles are
// requested for.
type Channel struct {
	Name   string
	Type   DataType
	Unit   string
	NoData *float64
}

// Product describes an operator's output raster.
type Product struct {
	Name     string
	Width    int
	Height   int
	Channels []Channel
}

func NewProduct(name string, w, h int) *Product {
	return &Product{Name: name, Width: w, Height: h}
}

func (p *Product) Bounds() Rectangle {
	return Rectangle{Width: p.Width, Height: p.Height}
}

func (p *Product) AddChannel(c Channel) error {
	if c.Name == "" {
		return fmt.Errorf("product %q: channel name is required", p.Name)
	}
	if p.Channel(c.Name) != nil {
		return fmt.Errorf("product %q: duplicate channel %q", p.Name, c.Name)
	}
	if c.Type == 0 {
		c.Type = Float32
	}
	p.Channels = append(p.Channels, c)
	return nil
}

func (p *Product) Channel(name string) *Channel {
	for i := range p.Channels {
		if p.Channels[i].Name == name {
			return &p.Channels[i]
		}
	}
	return nil
}

func (p *Product) ChannelNames() []string {
	out := make([]string, len(p.Channels))
	for i, c := range p.Channels {
		out[i] = c.Name
	}
	return out
}
