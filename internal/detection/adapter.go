package detection

import (
	"fmt"
	"strings"

	"traffic-fines-service/internal/domain/violation"
	"traffic-fines-service/internal/utils"
)

// Input is one image's detector output as delivered on the wire.
type Input struct {
	ImageID      string  `json:"image_id"`
	Timestamp    string  `json:"timestamp"`
	Motorbike    int     `json:"motorbike"`
	Person       int     `json:"person"`
	Helmet       int     `json:"helmet"`
	LicensePlate int     `json:"license_plate"`
	OCRText      *string `json:"ocr_text,omitempty"`
}

// Detection is the normalized shape consumed by the classifier.
type Detection struct {
	Counts violation.DetectionCount
	// Plate is the normalized OCR reading, empty when OCR did not run or
	// produced nothing.
	Plate string
	// OCRAttempted is true when the detector supplied OCR text at all.
	OCRAttempted bool
	PlateLegible bool
}

// Normalize validates in and converts it. It has no side effects.
func Normalize(in Input) (Detection, error) {
	imageID := strings.TrimSpace(in.ImageID)
	if imageID == "" {
		return Detection{}, fmt.Errorf("%w: image_id is required", violation.ErrInvalidDetection)
	}

	counts := map[string]int{
		"motorbike":     in.Motorbike,
		"person":        in.Person,
		"helmet":        in.Helmet,
		"license_plate": in.LicensePlate,
	}
	for _, name := range []string{"motorbike", "person", "helmet", "license_plate"} {
		if counts[name] < 0 {
			return Detection{}, fmt.Errorf("%w: %s count must be non-negative, got %d",
				violation.ErrInvalidDetection, name, counts[name])
		}
	}

	d := Detection{
		Counts: violation.DetectionCount{
			ImageID:      imageID,
			Timestamp:    strings.TrimSpace(in.Timestamp),
			Motorbike:    in.Motorbike,
			Person:       in.Person,
			Helmet:       in.Helmet,
			LicensePlate: in.LicensePlate,
		},
	}

	if in.OCRText != nil {
		d.OCRAttempted = true
		d.Plate = utils.NormalizePlate(*in.OCRText)
		d.PlateLegible = utils.IsLegiblePlate(d.Plate)
	}

	return d, nil
}
