package versions

import (
	"errors"
	"fmt"
	"regexp"
)

// Versions are interpolated directly into image tags, release tags, URLs and
// file paths, so the grammar is enforced before any source handler runs.
var semverRegex = func() *regexp.Regexp {
	re := regexp.MustCompile(`^([0-9]+)\.([0-9]+)\.([0-9]+)(-[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*)?(\+[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*)?$`)
	re.Longest()
	return re
}()

var ErrInvalidSemver = errors.New("not a valid semantic version")

// Validate checks that v matches MAJOR.MINOR.PATCH[-PRERELEASE][+BUILD].
// The literal "latest" gets its own message since it is the most common
// misconfiguration, but it fails all the same.
func Validate(v string) error {
	if v == "latest" {
		return fmt.Errorf("%w: %q is not allowed, pin an explicit release version", ErrInvalidSemver, v)
	}
	if !semverRegex.MatchString(v) {
		return fmt.Errorf("%w: %q", ErrInvalidSemver, v)
	}
	return nil
}
