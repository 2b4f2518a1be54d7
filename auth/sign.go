// Package auth implements the request signing used by both the REST client
// and the websocket login handshake.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/juju/errors"
)

var (
	// ErrEmptySecretKey is returned by Sign when the secret key is empty.
	ErrEmptySecretKey = errors.New("secret key is empty")

	// ErrEmptyPayload is returned by Sign when there is nothing to sign.
	ErrEmptyPayload = errors.New("payload is empty")
)

// Sign computes the hex-encoded HMAC-SHA256 signature of payload+reqTime
// keyed by secretKey. It is deterministic: identical inputs always produce an
// identical signature.
//
// For the websocket login handshake, payload is the API key.
func Sign(secretKey, payload, reqTime string) (string, error) {
	if secretKey == "" {
		return "", errors.Trace(ErrEmptySecretKey)
	}

	if payload == "" {
		return "", errors.Trace(ErrEmptyPayload)
	}

	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(payload))
	h.Write([]byte(reqTime))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SignRequest signs a REST request. The signature target is the API key, the
// request time, and the serialized request parameters (the query string for
// GET, the JSON body for POST), concatenated in that order. params may be
// empty.
func SignRequest(secretKey, apiKey, reqTime, params string) (string, error) {
	if secretKey == "" {
		return "", errors.Trace(ErrEmptySecretKey)
	}

	if apiKey == "" {
		return "", errors.Trace(ErrEmptyPayload)
	}

	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(apiKey))
	h.Write([]byte(reqTime))
	h.Write([]byte(params))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReqTime returns the request timestamp in the wire format the server
// expects: milliseconds since epoch, as a decimal string.
func ReqTime(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixNano()/int64(time.Millisecond))
}
