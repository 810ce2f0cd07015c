package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

const (
	dpi            = 120.0
	fontSize       = 12.0
	tickMarkLength = 5
	pixelsPerLabel = 150.0

	// Default border sizes in pixels
	defaultTopBorder    = 20
	defaultLeftBorder   = 80
	defaultBottomBorder = 70
	defaultRightBorder  = 20

	defaultTimeFormat     = "15:04:05"
	defaultDatetimeFormat = time.DateTime
)

var (
	gridColor = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	lineColor = color.RGBA{R: 0x1E, G: 0x66, B: 0xC8, A: 0xFF}
)

// BorderConfig defines the sizes of white space around the plot area
type BorderConfig struct {
	Top    int
	Left   int // Space for the value scale
	Bottom int // Space for the time scale and information bar
	Right  int
}

// RenderConfig holds all configuration options for chart rendering
type RenderConfig struct {
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location

	FontPath string
	FontSize float64

	Width  int // Plot area width in pixels
	Height int // Plot area height in pixels

	ValueUnit string

	BorderConfig BorderConfig
}

// ChartRenderer draws one telemetry series as a line chart
type ChartRenderer struct {
	config RenderConfig
}

// NewChartRenderer creates a new chart renderer with the given configuration
func NewChartRenderer(config RenderConfig) (*ChartRenderer, error) {
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}
	if config.FontPath == "" {
		return nil, fmt.Errorf("font path is required")
	}

	return &ChartRenderer{config: config}, nil
}

// Render creates an image of the series with annotations
func (r *ChartRenderer) Render(series *SeriesData) (*image.RGBA, error) {
	fullWidth := r.config.Width + r.config.BorderConfig.Left + r.config.BorderConfig.Right
	fullHeight := r.config.Height + r.config.BorderConfig.Top + r.config.BorderConfig.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	plotArea := image.Rect(
		r.config.BorderConfig.Left,
		r.config.BorderConfig.Top,
		r.config.BorderConfig.Left+r.config.Width,
		r.config.BorderConfig.Top+r.config.Height,
	)

	ann, err := newAnnotator(annotatorConfig{
		TimeFormat:     r.config.TimeFormat,
		DatetimeFormat: r.config.DatetimeFormat,
		Location:       r.config.Location,
		FontPath:       r.config.FontPath,
		FontSize:       r.config.FontSize,
		ValueUnit:      r.config.ValueUnit,
		Borders:        r.config.BorderConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err = ann.annotate(img, plotArea, series); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	r.renderSeries(img, plotArea, series)

	return img, nil
}

// renderSeries draws the polyline through the sample points
func (r *ChartRenderer) renderSeries(img *image.RGBA, area image.Rectangle, series *SeriesData) {
	if series.Empty() {
		return
	}

	prev, havePrev := image.Point{}, false
	for _, point := range series.Points {
		p := projectPoint(area, series, point)
		if havePrev {
			drawLine(img, prev, p, lineColor)
		}
		prev, havePrev = p, true
	}
}

// projectPoint maps a sample into plot area pixel coordinates. A series
// covering zero time or a constant value collapses onto the area edge.
func projectPoint(area image.Rectangle, series *SeriesData, point Point) image.Point {
	var xRatio, yRatio float64
	if span := series.Duration(); span > 0 {
		xRatio = float64(point.Timestamp.Sub(series.TimestampStart)) / float64(span)
	}
	if valueSpan := series.ValueMax - series.ValueMin; valueSpan > 0 {
		yRatio = (point.Value - series.ValueMin) / valueSpan
	}

	return image.Point{
		X: area.Min.X + int(xRatio*float64(area.Dx()-1)),
		Y: area.Max.Y - 1 - int(yRatio*float64(area.Dy()-1)),
	}
}

// drawLine is Bresenham between two points
func drawLine(img *image.RGBA, a, b image.Point, c color.Color) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}

	err := dx + dy
	x, y := a.X, a.Y
	for {
		img.Set(x, y, c)
		if x == b.X && y == b.Y {
			return
		}
		if e2 := 2 * err; e2 >= dy {
			err += dy
			x += sx
		} else {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Internal annotator implementation
type annotatorConfig struct {
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location
	FontPath       string
	FontSize       float64
	ValueUnit      string
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	fontBytes, err := os.ReadFile(config.FontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font: %w", err)
	}

	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, series *SeriesData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawValueScale(img, area, series); err != nil {
		return fmt.Errorf("drawing value scale: %w", err)
	}
	if err := a.drawTimeScale(img, area, series); err != nil {
		return fmt.Errorf("drawing time scale: %w", err)
	}
	if err := a.drawInfoBar(img, series); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}

	return nil
}

func (a *annotator) drawValueScale(img *image.RGBA, area image.Rectangle, series *SeriesData) error {
	valueSpan := series.ValueMax - series.ValueMin
	if series.Empty() || valueSpan <= 0 {
		return nil
	}

	valueStep := calculateNiceValueStep(valueSpan, area.Dy())
	startValue := math.Ceil(series.ValueMin/valueStep) * valueStep

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	for value := startValue; value <= series.ValueMax; value += valueStep {
		yRatio := (value - series.ValueMin) / valueSpan
		y := area.Max.Y - 1 - int(yRatio*float64(area.Dy()-1))

		// Tick mark and faint gridline across the plot
		for x := area.Min.X - tickMarkLength; x < area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}
		for x := area.Min.X; x < area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}

		label := formatValue(value, a.config.ValueUnit)
		textY := y + fontHeight/2 - metrics.Descent.Round()
		pt := freetype.Pt(10, textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing value label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, area image.Rectangle, series *SeriesData) error {
	duration := series.Duration()
	if series.Empty() || duration <= 0 {
		return nil
	}

	timeStep := calculateNiceTimeStep(duration, area.Dx())

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := area.Max.Y + tickMarkLength + fontHeight

	for offset := time.Duration(0); offset <= duration; offset += timeStep {
		xRatio := float64(offset) / float64(duration)
		x := area.Min.X + int(xRatio*float64(area.Dx()-1))

		for y := area.Max.Y; y < area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}

		timeInLoc := series.TimestampStart.Add(offset).In(a.config.Location)
		label := timeInLoc.Format(a.config.TimeFormat)
		width := font.MeasureString(a.fontFace, label)
		pt := freetype.Pt(x-(width.Round()/2), textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, series *SeriesData) error {
	if series.Empty() {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Time: %s - %s",
		series.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
		series.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Range: %s to %s",
		formatValue(series.ValueMin, a.config.ValueUnit),
		formatValue(series.ValueMax, a.config.ValueUnit)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Samples: %s", humanize.Comma(int64(len(series.Points)))))

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom/2-fontHeight)/2 - metrics.Descent.Round()

	pt := freetype.Pt(a.config.Borders.Left, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	return nil
}

// Helper functions

func calculateNiceValueStep(span float64, height int) float64 {
	steps := []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000}

	desiredSteps := float64(height) / 50.0
	targetStep := span / desiredSteps

	for _, step := range steps {
		if step >= targetStep {
			if span/step >= 2 {
				return step
			}
			break
		}
	}

	return span / 2
}

func calculateNiceTimeStep(duration time.Duration, width int) time.Duration {
	desiredSteps := float64(width) / pixelsPerLabel
	roughStep := duration.Seconds() / desiredSteps

	niceIntervals := []float64{
		1,    // 1 second
		5,    // 5 seconds
		10,   // 10 seconds
		30,   // 30 seconds
		60,   // 1 minute
		300,  // 5 minutes
		600,  // 10 minutes
		1800, // 30 minutes
		3600, // 1 hour
	}

	for _, interval := range niceIntervals {
		if roughStep <= interval {
			return time.Duration(interval) * time.Second
		}
	}

	return time.Hour * 2 // Default for very long captures
}

func formatValue(v float64, unit string) string {
	fract, suffix := humanize.ComputeSI(v)
	if unit == "" {
		return fmt.Sprintf("%0.1f%s", fract, suffix)
	}
	return fmt.Sprintf("%0.1f %s%s", fract, suffix, unit)
}
