// Package version checks agent compatibility against a minimum version, using
// blang/semver the way the teacher compares on-disk PGDATA versions
// during an in-place major upgrade (internal/cmd/manager/instance/
// upgrade/execute).
package version

import (
	"fmt"

	"github.com/blang/semver"
)

// ErrIncompatibleAgent is returned when a reporting agent's version is
// older than the formation's configured minimum.
type ErrIncompatibleAgent struct {
	Reported string
	Minimum  string
}

func (e *ErrIncompatibleAgent) Error() string {
	return fmt.Sprintf("engine: agent version %s is older than the required minimum %s", e.Reported, e.Minimum)
}

// CheckMinimum parses reported and minimum as semver and returns
// ErrIncompatibleAgent if reported is strictly older. A malformed
// version string on either side is reported as a plain error, distinct
// from the compatibility failure.
func CheckMinimum(reported, minimum string) error {
	r, err := semver.Parse(reported)
	if err != nil {
		return fmt.Errorf("engine: parsing reported agent version %q: %w", reported, err)
	}

	m, err := semver.Parse(minimum)
	if err != nil {
		return fmt.Errorf("engine: parsing minimum agent version %q: %w", minimum, err)
	}

	if r.LT(m) {
		return &ErrIncompatibleAgent{Reported: reported, Minimum: minimum}
	}
	return nil
}
