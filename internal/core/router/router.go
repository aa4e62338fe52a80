package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tilegraph/internal/core/config"
	"github.com/mohammed-shakir/tilegraph/internal/core/model"
	"github.com/mohammed-shakir/tilegraph/internal/engine"
	"github.com/mohammed-shakir/tilegraph/internal/graph"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/param"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/quicklook"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// maxTileSide is the largest w or h a request may ask for.
const maxTileSide = 4096

// Source is the computation the handlers read from; *engine.Run implements
// it.
type Source interface {
	Tiles(ctx context.Context, node string, channels []string, rect raster.Rectangle, pm progress.Monitor) (map[string]*raster.Tile, error)
	Nodes() []string
	Product(node string) *raster.Product
	Params(node string) *param.Container
	OperatorType(node string) string
}

// HandleTile validates the request and serves the tile samples as JSON or a
// PNG quicklook.
func HandleTile(logger *slog.Logger, cfg config.Config, src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, warn, err := ParseTileRequest(r, cfg)
		if warn != "" {
			logger.Warn(warn)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p := src.Product(q.Node)
		if p == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w %q", graph.ErrUnknownNode, q.Node))
			return
		}
		if len(q.Channels) == 0 {
			q.Channels = p.ChannelNames()
		}

		tiles, err := src.Tiles(r.Context(), q.Node, q.Channels, q.Rect, progress.New(r.Context(), nil))
		if err != nil {
			status := StatusFor(err)
			if status >= 500 {
				logger.ErrorContext(r.Context(), "tile request failed", "node", q.Node, "rect", q.Rect.String(), "err", err)
			}
			writeError(w, status, err)
			return
		}

		ordered := make([]*raster.Tile, len(q.Channels))
		for i, ch := range q.Channels {
			ordered[i] = tiles[ch]
		}
		if q.Format == model.FormatPNG {
			img, err := quicklook.Render(ordered...)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			if err := quicklook.EncodePNG(w, img); err != nil {
				logger.Warn("write png", "err", err)
			}
			return
		}

		out := model.TileResponse{Node: q.Node, Rect: model.FromRect(q.Rect)}
		for _, t := range ordered {
			ct := model.ChannelTile{Channel: t.Channel, Type: t.Type().String(), Samples: make([]model.Sample, t.Data.Len())}
			if c := p.Channel(t.Channel); c != nil {
				ct.NoData = c.NoData
			}
			for i := range ct.Samples {
				ct.Samples[i] = model.Sample(t.Data.At(i))
			}
			out.Channels = append(out.Channels, ct)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ParseTileRequest reads the node and channel from the route and the region
// from the query. w and h default to the configured tile size.
func ParseTileRequest(r *http.Request, cfg config.Config) (model.TileRequest, string, error) {
	var warn string
	node := strings.TrimSpace(chi.URLParam(r, "node"))
	if node == "" {
		return model.TileRequest{}, "", errors.New("missing node")
	}

	var channels []string
	if raw := strings.TrimSpace(r.URL.Query().Get("channels")); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				channels = append(channels, c)
			}
		}
	}
	if ch := strings.TrimSpace(chi.URLParam(r, "channel")); ch != "" {
		if len(channels) > 0 {
			warn = "both path channel and channels query supplied; using path channel"
		}
		channels = []string{ch}
	}

	x, err := intParam(r, "x", -1)
	if err != nil {
		return model.TileRequest{}, warn, err
	}
	y, err := intParam(r, "y", -1)
	if err != nil {
		return model.TileRequest{}, warn, err
	}
	w, err := intParam(r, "w", cfg.TileWidth)
	if err != nil {
		return model.TileRequest{}, warn, err
	}
	h, err := intParam(r, "h", cfg.TileHeight)
	if err != nil {
		return model.TileRequest{}, warn, err
	}
	rect, err := raster.Rect(x, y, w, h)
	if err != nil {
		return model.TileRequest{}, warn, err
	}
	if rect.Empty() {
		return model.TileRequest{}, warn, fmt.Errorf("empty region %s", rect)
	}
	if w > maxTileSide || h > maxTileSide {
		return model.TileRequest{}, warn, fmt.Errorf("region %s exceeds %d pixels per side", rect, maxTileSide)
	}

	format := model.Format(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
	switch format {
	case "":
		format = model.FormatJSON
	case model.FormatJSON, model.FormatPNG:
	default:
		return model.TileRequest{}, warn, fmt.Errorf("unsupported format %q (json|png)", format)
	}

	return model.TileRequest{Node: node, Channels: channels, Rect: rect, Format: format}, warn, nil
}

// intParam reads a non-negative integer; def < 0 makes it required.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		if def < 0 {
			return 0, fmt.Errorf("missing required parameter: %s", name)
		}
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: parse int: %w", name, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return n, nil
}

// StatusFor maps engine errors onto HTTP status codes.
func StatusFor(err error) int {
	var ve *param.ValidationError
	switch {
	case errors.Is(err, graph.ErrUnknownNode), errors.Is(err, operator.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidRegion), errors.As(err, &ve):
		return http.StatusBadRequest
	case progress.IsCanceled(err), errors.Is(err, operator.ErrRunClosed), errors.Is(err, operator.ErrNotInitialized):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleNodes lists every node of the run with its output descriptor.
func HandleNodes(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ids := src.Nodes()
		out := make([]model.NodeInfo, 0, len(ids))
		for _, id := range ids {
			out = append(out, DescribeNode(id, src.OperatorType(id), src.Product(id), src.Params(id)))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func HandleNode(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "node")
		p := src.Product(id)
		if p == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w %q", graph.ErrUnknownNode, id))
			return
		}
		writeJSON(w, http.StatusOK, DescribeNode(id, src.OperatorType(id), p, src.Params(id)))
	}
}

func HandleOperators(reg *operator.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, DescribeOperators(reg))
	}
}

// writeJSON encodes v before the header goes out so an encoding failure
// still reaches the client as a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b, _ = json.Marshal(model.ErrorResponse{Error: "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, model.ErrorResponse{Error: err.Error()})
}
