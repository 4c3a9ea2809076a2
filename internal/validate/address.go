package validate

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/event-extractor/internal/resilience"
)

const minAddressTokens = 5

// CheckAddress accepts addresses with at least five whitespace-separated
// tokens, or any value mentioning "online".
func CheckAddress(addr string) error {
	if len(strings.Fields(addr)) >= minAddressTokens {
		return nil
	}
	if strings.Contains(strings.ToLower(addr), "online") {
		return nil
	}
	return resilience.Tag(resilience.KindAddress, eris.Errorf("validate: implausible address %q", addr))
}
