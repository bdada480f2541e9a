package run

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	xe "github.com/opst/testpod-controller/pkg/errors"
)

// RasAction is an update deferred to the result archive.
type RasAction struct {
	RunID            string `json:"runId"`
	DesiredRunStatus string `json:"desiredRunStatus"`
	DesiredRunResult string `json:"desiredRunResult"`
}

type RasActions []RasAction

// Encode serialises actions as a base64 encoded JSON array.
//
// Empty actions are encoded as "".
func (actions RasActions) Encode() (string, error) {
	if len(actions) == 0 {
		return "", nil
	}
	j, err := json.Marshal([]RasAction(actions))
	if err != nil {
		return "", xe.Wrap(err)
	}
	return base64.StdEncoding.EncodeToString(j), nil
}

// DecodeRasActions parses a value made by Encode.
func DecodeRasActions(encoded string) (RasActions, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	j, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, xe.WrapWithNote("rasActions is not base64", xe.Invalidf("%s", err))
	}
	var actions []RasAction
	if err := json.Unmarshal(j, &actions); err != nil {
		return nil, xe.WrapWithNote("rasActions is not a JSON array", xe.Invalidf("%s", err))
	}
	return RasActions(actions), nil
}
