package domain

import (
	"bytes"
	"encoding/json"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// NormalizePayload returns body as JSON. Bodies that are not valid JSON are
// carried as a JSON string.
func NormalizePayload(body []byte) Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return Payload(trimmed)
	}
	b, _ := json.Marshal(string(body))
	return Payload(b)
}

// PayloadCID returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash of the payload bytes.
func PayloadCID(p Payload) (string, error) {
	sum, err := multihash.Sum(p, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// NewSubmissionRequest fingerprints the payload and builds the request.
func NewSubmissionRequest(requestID uint64, p Payload) (SubmissionRequest, error) {
	c, err := PayloadCID(p)
	if err != nil {
		return SubmissionRequest{}, err
	}
	return SubmissionRequest{RequestID: requestID, Payload: p, PayloadCID: c}, nil
}
