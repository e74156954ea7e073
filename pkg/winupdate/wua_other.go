//go:build !windows

package winupdate

import "errors"

// NewAgent returns an agent that always fails off Windows.
func NewAgent() Agent { return unsupportedAgent{} }

type unsupportedAgent struct{}

func (unsupportedAgent) OpenSession() (Session, error) {
	return nil, errors.New("the Windows Update Agent is only available on Windows")
}
