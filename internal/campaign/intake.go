package campaign

import (
	"fmt"
	"strings"

	"adforge/internal/models"

	"github.com/gabriel-vasile/mimetype"
)

// Default intake limits.
const (
	DefaultMaxImages     = 10
	DefaultMaxImageBytes = 5 << 20
)

// IntakeLimits bounds what Intake accepts.
type IntakeLimits struct {
	MaxImages     int
	MaxImageBytes int64
}

func (l IntakeLimits) withDefaults() IntakeLimits {
	if l.MaxImages <= 0 {
		l.MaxImages = DefaultMaxImages
	}
	if l.MaxImageBytes <= 0 {
		l.MaxImageBytes = DefaultMaxImageBytes
	}
	return l
}

// ValidateMaterial checks the reference images and returns accepted material.
// The MIME type of every image is detected from its content; a declared type
// is ignored.
func ValidateMaterial(images []models.ReferenceImage, guidance string, limits IntakeLimits) (models.Material, error) {
	limits = limits.withDefaults()

	if len(images) == 0 {
		return models.Material{}, models.ErrNoImages
	}
	if len(images) > limits.MaxImages {
		return models.Material{}, fmt.Errorf("%w: got %d, at most %d allowed", models.ErrTooManyImages, len(images), limits.MaxImages)
	}

	accepted := make([]models.ReferenceImage, 0, len(images))
	for i, img := range images {
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("image %d", i+1)
		}
		if int64(len(img.Data)) > limits.MaxImageBytes {
			return models.Material{}, fmt.Errorf("%w: %s is %d bytes, limit is %d", models.ErrImageTooLarge, name, len(img.Data), limits.MaxImageBytes)
		}
		mt := mimetype.Detect(img.Data)
		if !strings.HasPrefix(mt.String(), "image/") {
			return models.Material{}, fmt.Errorf("%w: %s (detected %s)", models.ErrNotAnImage, name, mt.String())
		}
		accepted = append(accepted, models.ReferenceImage{
			Name:     name,
			MIMEType: mt.String(),
			Data:     img.Data,
		})
	}

	return models.Material{Images: accepted, Guidance: strings.TrimSpace(guidance)}, nil
}
