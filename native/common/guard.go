package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed module set, as loaded from
// node configuration.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[strings.ToLower(strings.TrimSpace(module))]
}
