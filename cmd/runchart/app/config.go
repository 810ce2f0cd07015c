package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

type Config struct {
	DBPath     string
	PID        string
	OutputFile string
	Format     ImageFormat
	FontPath   string
	ValueScale float64
	ValueUnit  string
	Width      int
	Height     int
	Verbose    bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:     ImagePNG,
		ValueScale: 1,
		Width:      1200,
		Height:     400,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var imageFormat string
	flag.StringVar(&c.DBPath, "db", "", "Path to the trace database file")
	flag.StringVar(&c.PID, "pid", "", "Bus identifier to chart, e.g. 0x0D0")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output file (extension is appended)")
	flag.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	flag.StringVar(&c.FontPath, "font", "", "Path to a TTF font for labels")
	flag.Float64Var(&c.ValueScale, "scale", 1, "Multiplier applied to stored values before plotting")
	flag.StringVar(&c.ValueUnit, "unit", "", "Unit label for the Y axis, e.g. km/h")
	flag.IntVar(&c.Width, "w", 1200, "Chart width in pixels")
	flag.IntVar(&c.Height, "h", 400, "Chart height in pixels")
	flag.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	flag.Parse()

	imageFormat = strings.ToLower(imageFormat)

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.PID == "" {
		err = errors.New("pid is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if c.FontPath == "" {
		err = errors.New("font path is required")
	} else if c.Width < 200 || c.Height < 100 {
		err = errors.New("chart must be at least 200x100")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
