package session

import (
	"math"
	"strings"

	"github.com/nao1215/onionfetch/internal/tor"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BootstrapStatus is a normalized snapshot of bootstrap progress.
type BootstrapStatus struct {
	// Progress is the completion percentage, 0 to 100.
	Progress int `json:"progress"`
	// Tag identifies the bootstrap phase, e.g. "launching".
	Tag string `json:"tag"`
	// Description is a human-readable account of the phase.
	Description string `json:"description"`
}

// Done reports whether the status describes a completed bootstrap.
func (s BootstrapStatus) Done() bool {
	return s.Progress >= 100
}

var titleCaser = cases.Title(language.English)

// statusFromPhase maps a native overlay phase to a BootstrapStatus.
func statusFromPhase(p tor.BootstrapPhase) BootstrapStatus {
	fraction := p.Fraction
	if math.IsNaN(fraction) {
		fraction = 0
	}
	progress := int(math.Round(max(0, min(1, fraction)) * 100))

	description := p.Summary
	if description == "" {
		description = titleCaser.String(strings.ReplaceAll(p.Phase, "_", " "))
	}

	return BootstrapStatus{
		Progress:    progress,
		Tag:         p.Phase,
		Description: description,
	}
}
