package link

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// testPageText is the body of the diagnostic page. Encoded in code page 437
// below: most ESC/POS firmwares default to that single-byte code page.
const testPageText = "LimaPrint test page\n*** 1234567890 ***\n\n\n"

// testPagePayload builds the fixed diagnostic payload: the initialize
// sequence followed by the encoded page text.
func testPagePayload() ([]byte, error) {
	text, err := charmap.CodePage437.NewEncoder().Bytes([]byte(testPageText))
	if err != nil {
		return nil, fmt.Errorf("test page encoding failed: %w", err)
	}
	payload := make([]byte, 0, len(initSequence)+len(text))
	payload = append(payload, initSequence...)
	payload = append(payload, text...)
	return payload, nil
}
