package verdict

import (
	"strings"

	"github.com/itstheanurag/codejudge/internal/model"
)

// Compare trims surrounding whitespace on both sides and requires exact
// equality of what remains. Internal whitespace, case and number formatting
// are significant.
func Compare(actual, expected string) model.Status {
	if strings.TrimSpace(actual) == strings.TrimSpace(expected) {
		return model.StatusAccepted
	}
	return model.StatusWrongAnswer
}
