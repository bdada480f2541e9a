package controller

import (
	"fmt"
	"os"

	xe "github.com/opst/testpod-controller/pkg/errors"
	"gopkg.in/yaml.v3"
)

// load controller config from a file.
//
// returns *ControllerConfig, error:
//
//	When loading success, returns `(*ControllerConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func Load(filepath string) (*ControllerConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return Unmarshal(content)
}

// Unmarshal parses and validates yaml config.
//
// Misconfigurations are reported as errors satisfying errors.Is(err, errors.ErrInvalid).
func Unmarshal(conf []byte) (out *ControllerConfig, err error) {
	var _out *ControllerConfigMarshall
	if err := yaml.Unmarshal(conf, &_out); err != nil {
		return nil, xe.WrapWithNote("config is not yaml", xe.Invalidf("%s", err))
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = xe.Invalidf("%s", fmt.Sprint(r))
		}
	}()
	return TrySeal(_out), nil
}
