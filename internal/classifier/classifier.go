// Package classifier turns per-image detection counts into violations.
// The three rules are evaluated independently; an image may carry all
// of them at once.
package classifier

import (
	"strings"

	"traffic-fines-service/internal/detection"
	"traffic-fines-service/internal/domain/violation"
)

// Classify applies the violation rules to d. Types without instances are
// omitted, so an empty map means "No Violation".
func Classify(d detection.Detection) violation.Violations {
	out := violation.Violations{}
	c := d.Counts
	if c.Motorbike <= 0 {
		return out
	}

	if missing := c.Person - c.Helmet; missing > 0 {
		items := make([]violation.ViolationInstance, 0, missing)
		for i := 1; i <= missing; i++ {
			items = append(items, violation.ViolationInstance{"rider": i})
		}
		out[violation.NoHelmet] = items
	}

	if c.Person > 2 {
		out[violation.TripleRiding] = []violation.ViolationInstance{
			{"riders": c.Person},
		}
	}

	if c.LicensePlate == 0 || (d.OCRAttempted && !d.PlateLegible) {
		detail := violation.ViolationInstance{"plates_detected": c.LicensePlate}
		if d.OCRAttempted {
			detail["ocr_text"] = d.Plate
		}
		out[violation.NoNumberPlate] = []violation.ViolationInstance{detail}
	}

	violation.DropRetired(out)
	return out
}

var labels = map[violation.ViolationType]string{
	violation.NoHelmet:      "Helmet Missing",
	violation.TripleRiding:  "Triple Riding",
	violation.NoNumberPlate: "No Number Plate",
}

// Label renders a human summary such as "Helmet Missing, Triple Riding".
func Label(v violation.Violations) string {
	var parts []string
	for _, t := range violation.AllTypes() {
		if len(v[t]) > 0 {
			parts = append(parts, labels[t])
		}
	}
	if len(parts) == 0 {
		return "No Violation"
	}
	return strings.Join(parts, ", ")
}
