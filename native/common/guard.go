package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is halted.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a static PauseView built from configuration.
type PauseSet map[string]bool

// NewPauseSet marks every listed module as paused. Names are matched
// case-insensitively.
func NewPauseSet(modules ...string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, module := range modules {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			set[trimmed] = true
		}
	}
	return set
}

// IsPaused implements PauseView.
func (s PauseSet) IsPaused(module string) bool {
	return s[strings.ToLower(strings.TrimSpace(module))]
}
