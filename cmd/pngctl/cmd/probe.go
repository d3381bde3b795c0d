package cmd

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/parng/parng/pkg/png"
)

// NewProbeCmd creates the probe cobra command
func NewProbeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "inspect PNG container structure",
		Long:  "Walks a PNG file's chunk table and prints each chunk's type, length, offset and CRC status. Pixel data is not decoded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath, _ := cmd.Flags().GetString("file")
			if filePath == "" && len(args) > 0 {
				filePath = args[0]
			}
			if filePath == "" {
				return fmt.Errorf("file path is required. Use --file flag or provide as argument")
			}
			return runProbe(filePath)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("file", "f", "", "PNG file path to inspect")

	return cmd
}

func runProbe(filePath string) error {
	var in io.Reader
	if filePath == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		in = bufio.NewReader(f)
	}

	// Re-read the IHDR payload alongside the walk so dimensions can be
	// reported; Walk itself discards payload bytes.
	var ihdr []byte
	tee := &ihdrTee{r: in}
	chunks, err := png.Walk(tee)
	if err != nil {
		return fmt.Errorf("walk error: %w", err)
	}
	ihdr = tee.ihdr

	fmt.Printf("Total chunks: %d\n\n", len(chunks))
	if len(ihdr) >= 13 {
		fmt.Println("=== IHDR ===")
		fmt.Printf("Width: %d\n", binary.BigEndian.Uint32(ihdr[0:4]))
		fmt.Printf("Height: %d\n", binary.BigEndian.Uint32(ihdr[4:8]))
		fmt.Printf("BitDepth: %d\n", ihdr[8])
		fmt.Printf("ColorType: %s\n", png.ColorType(ihdr[9]))
		fmt.Printf("Interlace: %d\n\n", ihdr[12])
	}

	fmt.Println("=== Chunks ===")
	var idat int
	for _, c := range chunks {
		crc := "ok"
		if !c.CRCOK {
			crc = "BAD"
		}
		fmt.Printf("%-6s len=%-10d off=%-10d crc=%s\n", c.Type, c.Length, c.Offset, crc)
		if c.Type == "IDAT" {
			idat++
		}
	}
	fmt.Printf("\nIDAT chunks: %d\n", idat)
	return nil
}

// ihdrTee captures the first IHDR payload passing through a reader.
type ihdrTee struct {
	r    io.Reader
	buf  []byte
	ihdr []byte
}

func (t *ihdrTee) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if t.ihdr == nil && n > 0 {
		t.buf = append(t.buf, p[:n]...)
		// signature(8) + length(4) + "IHDR"(4) + payload(13)
		if len(t.buf) >= 29 && string(t.buf[12:16]) == "IHDR" {
			t.ihdr = append([]byte(nil), t.buf[16:29]...)
			t.buf = nil
		}
	}
	return n, err
}
