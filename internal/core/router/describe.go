package router

import (
	"fmt"

	"github.com/mohammed-shakir/tilegraph/internal/core/model"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/param"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// DescribeOperators lists the registered operator types with their
// parameter descriptors, sorted by type.
func DescribeOperators(reg *operator.Registry) []model.OperatorInfo {
	types := reg.Types()
	out := make([]model.OperatorInfo, 0, len(types))
	for _, name := range types {
		spi, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		info := model.OperatorInfo{Type: spi.Type, Description: spi.Description, Params: []model.ParamInfo{}}
		for _, d := range spi.Params().Descriptors() {
			info.Params = append(info.Params, describeParam(d))
		}
		out = append(out, info)
	}
	return out
}

func describeParam(d *param.Descriptor) model.ParamInfo {
	pi := model.ParamInfo{
		Name:        d.Name(),
		Type:        d.Type().String(),
		Alias:       d.Alias(),
		Unit:        d.Unit(),
		Description: d.Description(),
		Pattern:     d.Pattern(),
		NotNull:     d.NotNull(),
	}
	if iv, ok := d.Interval(); ok {
		pi.Interval = iv.String()
	}
	if v, ok := d.Default(); ok {
		pi.Default = formatValue(d, v)
	}
	for _, v := range d.ValueSet() {
		pi.ValueSet = append(pi.ValueSet, fmt.Sprint(v))
	}
	return pi
}

func formatValue(d *param.Descriptor, v any) string {
	if c := d.Converter(); c != nil {
		if s, err := c.Format(v); err == nil {
			return s
		}
	}
	return fmt.Sprint(v)
}

// DescribeNode renders the output descriptor and bound parameters of a node.
func DescribeNode(id, opType string, p *raster.Product, params *param.Container) model.NodeInfo {
	info := model.NodeInfo{ID: id, Operator: opType, Channels: []model.ChannelInfo{}}
	if p != nil {
		info.Width, info.Height = p.Width, p.Height
		for _, c := range p.Channels {
			info.Channels = append(info.Channels, model.ChannelInfo{Name: c.Name, Type: c.Type.String(), Unit: c.Unit, NoData: c.NoData})
		}
	}
	if params != nil {
		vals := params.Values()
		info.Params = make(map[string]string, len(vals.Names()))
		for _, name := range vals.Names() {
			if !vals.Has(name) {
				continue
			}
			if s, err := params.Text(name); err == nil {
				info.Params[name] = s
			}
		}
	}
	return info
}
