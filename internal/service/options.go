package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"upqueue/internal/domain"
)

// EncodeOptions encodes upload options for storage in a request's params.
func EncodeOptions(options map[string]interface{}) (string, error) {
	if options == nil {
		options = map[string]interface{}{}
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("encoding options: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeOptions reverses EncodeOptions. Anything that is not a base64 encoded
// JSON object yields domain.ErrOptionsFailure.
func DecodeOptions(encoded string) (map[string]interface{}, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOptionsFailure, err)
	}
	var options map[string]interface{}
	if err := json.Unmarshal(data, &options); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOptionsFailure, err)
	}
	if options == nil {
		return nil, fmt.Errorf("%w: options must be an object", domain.ErrOptionsFailure)
	}
	return options, nil
}
