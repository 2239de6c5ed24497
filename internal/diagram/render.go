package diagram

import (
	"context"
	"strings"

	"github.com/rendis/rulekit/pkg/schema"
)

// Formats lists the output formats accepted by Render.
var Formats = []string{"mermaid", "ascii", string(FormatPNG), string(FormatSVG)}

// Render encodes model in the named format. Text formats never fail.
func Render(ctx context.Context, model *Model, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "mermaid":
		return []byte(RenderMermaid(model)), nil
	case "ascii":
		return []byte(RenderASCII(model)), nil
	case string(FormatPNG), string(FormatSVG):
		return RenderImage(ctx, model, ImageFormat(strings.ToLower(format)))
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation,
		"unknown diagram format %q (want one of %s)", format, strings.Join(Formats, ", "))
}
