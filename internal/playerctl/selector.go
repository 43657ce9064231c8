package playerctl

import (
	"os/exec"

	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/model"
)

// ProbeFunc checks whether a candidate backend's executable is usable.
type ProbeFunc func() bool

// ExecutableProbe returns a ProbeFunc that succeeds if name resolves via
// exec.LookPath.
func ExecutableProbe(name string) ProbeFunc {
	return func() bool {
		_, err := exec.LookPath(name)
		return err == nil
	}
}

// Candidate pairs a constructor with the probe that gates it.
type Candidate struct {
	Name    string
	Probe   ProbeFunc
	Factory func() Adapter
}

// Select tries candidates in order and returns the first whose probe
// succeeds. If none succeed, startup must refuse to construct an adapter
// at all and report a fatal configuration error.
func Select(candidates []Candidate) (Adapter, error) {
	for _, c := range candidates {
		if c.Probe() {
			logrus.Infof("playerctl: selected %s backend", c.Name)
			return c.Factory(), nil
		}
		logrus.Warnf("playerctl: %s backend unavailable, trying next", c.Name)
	}
	return nil, model.ErrBackendUnavailable
}
