// Package deeplink decodes print requests embedded in limaprint:// URIs.
// Everything in the URI is untrusted; malformed input is rejected here,
// before any device I/O is attempted.
package deeplink

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/mensetian/LimaPrint/adapter"
	"github.com/mensetian/LimaPrint/link"
)

// Scheme is the custom URI scheme carrying print payloads, e.g.
// limaprint://print?data=<base64>[&addr=AA:BB:CC:DD:EE:FF].
const Scheme = "limaprint"

// maxPayloadSize caps decoded payloads; deep links carry label-sized jobs,
// not document spools.
const maxPayloadSize = 1 << 20

// PrintRequest is a decoded deep-link print job. Address is empty when the
// URI leaves printer selection to the persisted default.
type PrintRequest struct {
	Address string
	Payload []byte
}

// Parse validates rawURI and extracts the print payload.
func Parse(rawURI string) (*PrintRequest, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", link.ErrInvalidPayload, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("%w: unexpected scheme %q", link.ErrInvalidPayload, u.Scheme)
	}
	if u.Host != "print" {
		return nil, fmt.Errorf("%w: unexpected action %q", link.ErrInvalidPayload, u.Host)
	}

	data := u.Query().Get("data")
	if data == "" {
		return nil, fmt.Errorf("%w: missing data parameter", link.ErrInvalidPayload)
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// Deep links produced by browsers sometimes arrive URL-safe encoded.
		payload, err = base64.URLEncoding.DecodeString(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 data: %v", link.ErrInvalidPayload, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", link.ErrInvalidPayload)
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", link.ErrInvalidPayload, maxPayloadSize)
	}

	addr := u.Query().Get("addr")
	if addr != "" && !adapter.ValidAddress(addr) {
		return nil, fmt.Errorf("%w: malformed device address %q", link.ErrInvalidPayload, addr)
	}

	return &PrintRequest{Address: addr, Payload: payload}, nil
}
