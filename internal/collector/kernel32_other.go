//go:build !windows

package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

var errKernel32Unsupported = errors.New("GetSystemPowerStatus is only available on windows")

// Kernel32Source is a stub outside Windows; every query fails.
type Kernel32Source struct{}

// NewKernel32Source always fails outside Windows.
func NewKernel32Source() (*Kernel32Source, error) {
	return nil, errKernel32Unsupported
}

func (s *Kernel32Source) Name() string { return "kernel32" }

func (s *Kernel32Source) Query(context.Context) (power.Record, error) {
	return power.Record{}, fmt.Errorf("%w: %v", power.ErrUnavailable, errKernel32Unsupported)
}
