package services

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/jpegli"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"notekeeper/metrics"
	"notekeeper/utils"
)

const (
	DefaultImageQuality = 85
	DefaultMaxPixels    = 64 << 20

	// jpegli accepts 0 (sequential) to 2 (most scans)
	progressiveLevel = 2
)

var rasterExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
	"tif":  true,
	"tiff": true,
	"webp": true,
}

// ImageNormalizer re-encodes raster uploads as opaque progressive JPEG files
type ImageNormalizer struct {
	Quality   int
	MaxPixels int
	Logger    *logrus.Logger
}

func NewImageNormalizer(quality int, logger *logrus.Logger) *ImageNormalizer {
	if quality < 1 || quality > 100 {
		quality = DefaultImageQuality
	}
	return &ImageNormalizer{Quality: quality, MaxPixels: DefaultMaxPixels, Logger: logger}
}

// Normalize converts the file at path to JPEG and returns the new path.
// Files that are not recognised rasters are returned untouched. Failures are
// logged and the original path is returned with the original file intact.
func (n *ImageNormalizer) Normalize(path string) string {
	if !rasterExtensions[utils.Extension(path)] {
		metrics.ImageNormalizations.WithLabelValues("skipped").Inc()
		return path
	}

	out, err := n.convert(path)
	if err != nil {
		metrics.ImageNormalizations.WithLabelValues("failed").Inc()
		n.logger().WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("Image normalization skipped")
		return path
	}
	metrics.ImageNormalizations.WithLabelValues("converted").Inc()
	return out
}

func (n *ImageNormalizer) convert(path string) (string, error) {
	src, err := n.decode(path)
	if err != nil {
		return "", err
	}

	// alpha and palette images are composed onto white
	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Over)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".normalize-*.jpg")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	opts := &jpegli.EncodingOptions{
		Quality:              n.Quality,
		ProgressiveLevel:     progressiveLevel,
		ChromaSubsampling:    image.YCbCrSubsampleRatio420,
		OptimizeCoding:       true,
		AdaptiveQuantization: true,
	}
	if err := jpegli.Encode(tmp, canvas, opts); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	target := strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg"
	if target != path {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			os.Remove(tmpName)
			return "", err
		}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if target != path {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			n.logger().WithError(err).WithField("path", path).Warn("Failed to remove original after normalization")
		}
	}
	return target, nil
}

func (n *ImageNormalizer) decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if n.MaxPixels > 0 && cfg.Width*cfg.Height > n.MaxPixels {
		return nil, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

func (n *ImageNormalizer) logger() *logrus.Logger {
	if n.Logger == nil {
		return logrus.StandardLogger()
	}
	return n.Logger
}
