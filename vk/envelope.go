package vk

import (
	"encoding/json"
	"fmt"

	"github.com/mlafeldt/xkcd-vk/errs"
)

// envelope is the wrapper VK puts around every method response. Besides the
// documented nested "error" object, a flat "error_msg" key is accepted.
type envelope struct {
	Response json.RawMessage `json:"response"`
	ErrorMsg *string         `json:"error_msg"`
	Error    *struct {
		Code int    `json:"error_code"`
		Msg  string `json:"error_msg"`
	} `json:"error"`
}

// decodeEnvelope returns the response payload of a method call, or the error
// VK reported instead.
func decodeEnvelope(method string, body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrMalformedResponse, method, err)
	}

	switch {
	case env.Response != nil:
		return env.Response, nil
	case env.ErrorMsg != nil:
		return nil, &errs.RemoteAPIError{Method: method, Message: *env.ErrorMsg}
	case env.Error != nil:
		return nil, &errs.RemoteAPIError{Method: method, Code: env.Error.Code, Message: env.Error.Msg}
	}
	return nil, fmt.Errorf("%w: %s: neither response nor error in body", errs.ErrMalformedResponse, method)
}
