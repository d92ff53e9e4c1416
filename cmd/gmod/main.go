// Command gmod encodes and decodes images with the modular coder from
// the command line.
//
// Usage:
//
//	gmod enc [options] <input>       PNG/JPEG → .mod (use "-" for stdin)
//	gmod dec [options] <input.mod>   .mod → PNG (use "-" for stdin, -o - for stdout)
//	gmod info <input.mod>            Display stream metadata
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepteams/modular"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "enc":
		err = runEnc(os.Args[2:])
	case "dec":
		err = runDec(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "gmod: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "gmod: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  gmod enc [options] <input>       Encode PNG or JPEG losslessly
  gmod dec [options] <input.mod>   Decode back to PNG
  gmod info <input.mod>            Show stream metadata

Use "-" as input to read from stdin, "-o -" to write to stdout.

Run "gmod <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// --- container ---

// The .mod container is a fixed header in front of the coded stream:
// magic, width, height, channel count and the maximum sample value,
// all little endian.
var modMagic = [4]byte{'m', 'o', 'd', '1'}

var errBadContainer = errors.New("not a .mod stream")

func writeContainer(w io.Writer, img *modular.Image, stream []byte) error {
	var hdr [20]byte
	copy(hdr[:4], modMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(img.W))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(img.H))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(img.Channel)))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(img.MaxVal))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(stream)
	return err
}

func readContainer(data []byte) (*modular.Image, []byte, error) {
	if len(data) < 20 || [4]byte(data[:4]) != modMagic {
		return nil, nil, errBadContainer
	}
	w := int(binary.LittleEndian.Uint32(data[4:]))
	h := int(binary.LittleEndian.Uint32(data[8:]))
	nch := int(binary.LittleEndian.Uint32(data[12:]))
	maxVal := int32(binary.LittleEndian.Uint32(data[16:]))
	if w <= 0 || h <= 0 || nch <= 0 || nch > 4 || w*h > 1<<28 {
		return nil, nil, errBadContainer
	}
	return modular.NewImage(w, h, maxVal, nch), data[20:], nil
}

// --- pixel conversion ---

// imageToChannels splits a decoded image into planes: one channel for
// grayscale input, three for color, plus an alpha channel when the
// image carries one.
func imageToChannels(src image.Image) *modular.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	// Straight (non-premultiplied) samples keep translucent pixels
	// lossless.
	px := func(x, y int) color.NRGBA {
		return color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
	}

	gray := true
	opaque := true
	for y := 0; y < h && (gray || opaque); y++ {
		for x := 0; x < w; x++ {
			c := px(x, y)
			if c.R != c.G || c.G != c.B {
				gray = false
			}
			if c.A != 0xff {
				opaque = false
			}
			if !gray && !opaque {
				break
			}
		}
	}

	nch := 3
	if gray {
		nch = 1
	}
	if !opaque {
		nch++
	}
	img := modular.NewImage(w, h, 255, nch)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := px(x, y)
			i := y*w + x
			if gray {
				img.Channel[0].Pixels[i] = int32(c.R)
			} else {
				img.Channel[0].Pixels[i] = int32(c.R)
				img.Channel[1].Pixels[i] = int32(c.G)
				img.Channel[2].Pixels[i] = int32(c.B)
			}
			if !opaque {
				img.Channel[nch-1].Pixels[i] = int32(c.A)
			}
		}
	}
	return img
}

func channelsToImage(img *modular.Image) (image.Image, error) {
	clamp := func(v int32) uint8 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint8(v)
	}
	switch len(img.Channel) {
	case 1:
		out := image.NewGray(image.Rect(0, 0, img.W, img.H))
		for i, v := range img.Channel[0].Pixels {
			out.Pix[i] = clamp(v)
		}
		return out, nil
	case 2:
		out := image.NewNRGBA(image.Rect(0, 0, img.W, img.H))
		for i, v := range img.Channel[0].Pixels {
			g := clamp(v)
			out.Pix[4*i+0] = g
			out.Pix[4*i+1] = g
			out.Pix[4*i+2] = g
			out.Pix[4*i+3] = clamp(img.Channel[1].Pixels[i])
		}
		return out, nil
	case 3, 4:
		out := image.NewNRGBA(image.Rect(0, 0, img.W, img.H))
		for i := range img.Channel[0].Pixels {
			out.Pix[4*i+0] = clamp(img.Channel[0].Pixels[i])
			out.Pix[4*i+1] = clamp(img.Channel[1].Pixels[i])
			out.Pix[4*i+2] = clamp(img.Channel[2].Pixels[i])
			if len(img.Channel) == 4 {
				out.Pix[4*i+3] = clamp(img.Channel[3].Pixels[i])
			} else {
				out.Pix[4*i+3] = 255
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot render %d channels", len(img.Channel))
}

// --- enc ---

func runEnc(args []string) error {
	fs := flag.NewFlagSet("enc", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: input with .mod extension, - for stdout)")
	effort := fs.Float64("effort", 0.5, "fraction of pixels sampled while learning the context tree (0..1)")
	wpMode := fs.Int("wp", 0, "adaptive predictor parameter preset (0..3)")
	verbose := fs.Bool("v", false, "print timing and sizes")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("enc: exactly one input file required")
	}
	input := fs.Arg(0)

	in, err := openInput(input)
	if err != nil {
		return err
	}
	defer in.Close()
	src, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}

	img := imageToChannels(src)
	opts := modular.DefaultOptions()
	opts.NbRepeats = *effort
	opts.WPMode = *wpMode
	opts.Predictors = []modular.Predictor{
		modular.PredGradient, modular.PredWeighted, modular.PredZero, modular.PredLeft,
	}

	start := time.Now()
	stream, err := modular.Encode(img, opts)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := *output
	if out == "" {
		out = strings.TrimSuffix(input, filepath.Ext(input)) + ".mod"
	}
	var f *os.File
	if out == "-" {
		f = os.Stdout
	} else {
		f, err = os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
	}
	if err := writeContainer(f, img, stream); err != nil {
		return err
	}
	if *verbose {
		raw := img.W * img.H * len(img.Channel)
		fmt.Fprintf(os.Stderr, "%dx%d, %d channels: %d -> %d bytes (%.2f bpp) in %v\n",
			img.W, img.H, len(img.Channel), raw, len(stream),
			float64(len(stream))*8/float64(img.W*img.H), elapsed)
	}
	return nil
}

// --- dec ---

func runDec(args []string) error {
	fs := flag.NewFlagSet("dec", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: input with .png extension, - for stdout)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("dec: exactly one input file required")
	}
	input := fs.Arg(0)

	in, err := openInput(input)
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	img, stream, err := readContainer(data)
	if err != nil {
		return err
	}
	if err := modular.Decode(stream, img, nil); err != nil && !errors.Is(err, modular.ErrNotEnoughData) {
		return err
	}
	out, err := channelsToImage(img)
	if err != nil {
		return err
	}

	dst := *output
	if dst == "" {
		dst = strings.TrimSuffix(input, filepath.Ext(input)) + ".png"
	}
	var f *os.File
	if dst == "-" {
		f = os.Stdout
	} else {
		f, err = os.Create(dst)
		if err != nil {
			return err
		}
		defer f.Close()
	}
	return png.Encode(f, out)
}

// --- info ---

func runInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("info: exactly one input file required")
	}
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	img, stream, err := readContainer(data)
	if err != nil {
		return err
	}
	fmt.Printf("%dx%d, %d channels, max value %d, %d stream bytes\n",
		img.W, img.H, len(img.Channel), img.MaxVal, len(stream))
	return nil
}
