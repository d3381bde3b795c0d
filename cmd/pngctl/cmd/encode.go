package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parng/parng/pkg/png"
	"github.com/parng/parng/pkg/pool"
)

// NewEncodeCmd creates the encode cobra command
func NewEncodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "encode raw pixel rows to PNG",
		Long:  "Reads packed raw pixel rows from a file or stdin and writes a PNG, compressing row chunks in parallel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, _ := cmd.Flags().GetString("in")
			if inPath == "" && len(args) > 0 {
				inPath = args[0]
			}
			outPath, _ := cmd.Flags().GetString("out")
			if outPath == "" {
				return fmt.Errorf("output path is required. Use --out")
			}
			width, _ := cmd.Flags().GetUint32("width")
			height, _ := cmd.Flags().GetUint32("height")
			colorName, _ := cmd.Flags().GetString("color")
			depth, _ := cmd.Flags().GetUint8("depth")
			filterName, _ := cmd.Flags().GetString("filter")
			level, _ := cmd.Flags().GetInt("level")
			chunkSize, _ := cmd.Flags().GetInt("chunk-size")
			threads, _ := cmd.Flags().GetInt("threads")
			palettePath, _ := cmd.Flags().GetString("palette")

			return runEncode(ctx, inPath, outPath, width, height, colorName, depth, filterName, level, chunkSize, threads, palettePath)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "raw pixel input path, or - for stdin")
	pf.StringP("out", "o", "", "PNG output path")
	pf.Uint32("width", 0, "image width in pixels")
	pf.Uint32("height", 0, "image height in pixels")
	pf.String("color", "truecolor-alpha", "color type (greyscale, truecolor, indexed, greyscale-alpha, truecolor-alpha)")
	pf.Uint8("depth", 8, "bit depth")
	pf.String("filter", "adaptive", "filter mode (adaptive, none, sub, up, average, paeth)")
	pf.Int("level", png.DefaultCompressionLevel, "deflate level 1-9")
	pf.Int("chunk-size", png.DefaultChunkSize, "minimum raw bytes per parallel chunk")
	pf.Int("threads", 0, "worker threads, 0 for one per CPU")
	pf.String("palette", "", "packed RGB palette path (required for indexed color)")

	return cmd
}

func runEncode(ctx context.Context, inPath, outPath string, width, height uint32, colorName string, depth uint8, filterName string, level, chunkSize, threads int, palettePath string) error {
	color, err := parseColor(colorName)
	if err != nil {
		return err
	}
	filter, err := parseFilter(filterName)
	if err != nil {
		return err
	}

	var in io.Reader
	switch inPath {
	case "", "-":
		in = os.Stdin
	default:
		f, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = bufio.NewReader(f)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()
	bw := bufio.NewWriter(out)

	p := pool.New(threads)
	defer func() {
		if err := p.Release(); err != nil {
			slog.WarnContext(ctx, "pool release failed", "error", err)
		}
	}()

	enc, err := png.NewEncoder(bw, p)
	if err != nil {
		return err
	}
	if err := enc.SetSize(width, height); err != nil {
		return err
	}
	if err := enc.SetColor(color, depth); err != nil {
		return err
	}
	if err := enc.SetFilter(filter); err != nil {
		return err
	}
	if err := enc.SetCompressionLevel(level); err != nil {
		return err
	}
	if err := enc.SetChunkSize(chunkSize); err != nil {
		return err
	}
	if palettePath != "" {
		rgb, err := os.ReadFile(palettePath)
		if err != nil {
			return fmt.Errorf("failed to read palette: %w", err)
		}
		if err := enc.SetPalette(rgb); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := enc.WriteHeader(); err != nil {
		return err
	}
	if err := enc.WriteImage(in); err != nil {
		return err
	}
	if err := enc.Finish(); err != nil {
		return err
	}

	slog.InfoContext(ctx, "encoded",
		"out", outPath,
		"width", width, "height", height,
		"color", color.String(), "depth", depth,
		"elapsed", time.Since(start).String(),
	)
	return nil
}

func parseColor(name string) (png.ColorType, error) {
	switch name {
	case "greyscale", "grayscale":
		return png.Greyscale, nil
	case "truecolor":
		return png.Truecolor, nil
	case "indexed":
		return png.Indexed, nil
	case "greyscale-alpha", "grayscale-alpha":
		return png.GreyscaleAlpha, nil
	case "truecolor-alpha":
		return png.TruecolorAlpha, nil
	}
	return 0, fmt.Errorf("unknown color type %q", name)
}

func parseFilter(name string) (png.Filter, error) {
	switch name {
	case "adaptive":
		return png.FilterAdaptive, nil
	case "none":
		return png.FilterNone, nil
	case "sub":
		return png.FilterSub, nil
	case "up":
		return png.FilterUp, nil
	case "average":
		return png.FilterAverage, nil
	case "paeth":
		return png.FilterPaeth, nil
	}
	return 0, fmt.Errorf("unknown filter mode %q", name)
}
