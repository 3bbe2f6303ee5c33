package quality

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Heuristics are the thresholds used by HeuristicGate.
type Heuristics struct {
	// BlurVariance is the Laplacian variance below which an image is blurry.
	BlurVariance float64
	// MinDimension is the shorter side, in pixels, below which an image is low resolution.
	MinDimension int
	// MinContrast is the luminance standard deviation below which contrast is poor.
	MinContrast float64
	// MaxSampleSide caps the analysed grid; larger images are sampled with a stride.
	MaxSampleSide int
	// MaxPixels is the largest declared width*height that is decoded. Zero disables the check.
	MaxPixels int64
	// PDFScore is reported for structurally valid PDFs.
	PDFScore int
}

// DefaultHeuristics returns thresholds tuned for phone photos and flatbed scans.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		BlurVariance:  100,
		MinDimension:  600,
		MinContrast:   40,
		MaxSampleSide: 1024,
		MaxPixels:     40_000_000,
		PDFScore:      85,
	}
}

// HeuristicGate scores images from pixel statistics and PDFs from their structure.
type HeuristicGate struct {
	h      Heuristics
	logger *zap.Logger
}

// NewHeuristicGate creates a gate with the given thresholds.
func NewHeuristicGate(h Heuristics, logger *zap.Logger) *HeuristicGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicGate{h: h, logger: logger.With(zap.String("system", "quality"), zap.String("mode", ModeHeuristic))}
}

// Assess implements Gate.
func (g *HeuristicGate) Assess(ctx context.Context, data []byte, mediaType string) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("quality assessment panicked", zap.Any("panic", r))
			report = Default()
		}
	}()

	if len(data) == 0 {
		g.logger.Warn("empty artifact, using default quality report")
		return Default()
	}

	mt := DetectMediaType(data, mediaType)
	var err error
	if mt == "application/pdf" {
		report, err = g.assessPDF(data)
	} else {
		report, err = g.assessImage(data)
	}
	if err != nil {
		g.logger.Warn("quality assessment failed, using default report",
			zap.String("media_type", mt),
			zap.Error(err))
		return Default()
	}
	return report
}

func (g *HeuristicGate) assessPDF(data []byte) (Report, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return Report{}, fmt.Errorf("invalid pdf: %w", err)
	}
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return Report{}, fmt.Errorf("count pdf pages: %w", err)
	}
	if pages < 1 {
		return Report{}, fmt.Errorf("pdf has no pages")
	}

	return Report{
		HasGoodContrast: true,
		QualityScore:    clampScore(g.h.PDFScore),
		Pages:           pages,
	}, nil
}

func (g *HeuristicGate) assessImage(data []byte) (Report, error) {
	// decoders allocate the full pixel buffer from the header before reading any pixels
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Report{}, fmt.Errorf("decode image header: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); g.h.MaxPixels > 0 && pixels > g.h.MaxPixels {
		return Report{}, fmt.Errorf("image declares %dx%d pixels, limit is %d", cfg.Width, cfg.Height, g.h.MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Report{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	minSide := min(bounds.Dx(), bounds.Dy())
	if minSide < 3 {
		return Report{}, fmt.Errorf("image too small to analyse: %dx%d", bounds.Dx(), bounds.Dy())
	}

	lum, w, h := luminance(img, g.h.MaxSampleSide)
	sharpness := laplacianVariance(lum, w, h)
	contrast := stddev(lum)

	report := Report{
		IsBlurry:        sharpness < g.h.BlurVariance,
		IsLowResolution: minSide < g.h.MinDimension,
		HasGoodContrast: contrast >= g.h.MinContrast,
		Pages:           1,
	}

	// Sharpness dominates: a blurred scan is unreadable regardless of size.
	sharpScore := ratio(sharpness, 2*g.h.BlurVariance)
	resScore := ratio(float64(minSide), float64(g.h.MinDimension))
	contrastScore := ratio(contrast, 1.5*g.h.MinContrast)
	report.QualityScore = clampScore(int(math.Round(55*sharpScore + 20*resScore + 25*contrastScore)))

	g.logger.Debug("image assessed",
		zap.String("format", format),
		zap.Int("min_side", minSide),
		zap.Float64("laplacian_variance", sharpness),
		zap.Float64("luminance_stddev", contrast),
		zap.Int("score", report.QualityScore))
	return report, nil
}

// luminance samples img onto a grid no larger than maxSide on its longer axis.
func luminance(img image.Image, maxSide int) ([]float64, int, int) {
	b := img.Bounds()
	step := 1
	if longest := max(b.Dx(), b.Dy()); maxSide > 0 && longest > maxSide {
		step = (longest + maxSide - 1) / maxSide
	}

	w := (b.Dx() + step - 1) / step
	h := (b.Dy() + step - 1) / step
	lum := make([]float64, 0, w*h)
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			gray := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			lum = append(lum, float64(gray.Y))
		}
	}
	return lum, w, h
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over interior pixels.
func laplacianVariance(lum []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			l := 4*lum[i] - lum[i-1] - lum[i+1] - lum[i-w] - lum[i+w]
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

func ratio(value, target float64) float64 {
	if target <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, value/target))
}
