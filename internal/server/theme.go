package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calipso/calipso/internal/config"
	"github.com/calipso/calipso/internal/logging"
)

// ErrUnknownTheme is returned when switching to a theme without a directory
// under <basePath>/themes.
var ErrUnknownTheme = errors.New("unknown theme")

// ThemeTags lists the stages rebuilt on a theme switch.
var ThemeTags = []string{TagThemeStylus, TagThemeStatic}

// ThemeDir returns <basePath>/themes/<theme>.
func ThemeDir(basePath, theme string) string {
	return filepath.Join(basePath, "themes", theme)
}

// SwitchTheme rebuilds the theme-tagged stages for name with the registered
// factories and publishes them in one swap. The other stages keep their
// position and identity.
func (a *App) SwitchTheme(name string) error {
	if err := config.ValidateThemeName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownTheme, err)
	}
	info, err := os.Stat(ThemeDir(a.basePath, name))
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrUnknownTheme, name)
	}

	stages := make([]Stage, 0, len(ThemeTags))
	for _, tag := range ThemeTags {
		factory, ok := a.factories.Fetch(tag)
		if !ok {
			return fmt.Errorf("no stage factory registered for %s", tag)
		}
		stage := factory(a.basePath, name)
		if stage.Tag != tag {
			return fmt.Errorf("factory for %s produced stage tagged %q", tag, stage.Tag)
		}
		stages = append(stages, stage)
	}
	if err := a.ReplaceStages(stages...); err != nil {
		return err
	}

	a.mu.Lock()
	previous := a.activeTheme
	a.activeTheme = name
	a.mu.Unlock()

	a.logger.WithFields(logging.ThemeFields("theme_switch", previous, name)).Info("theme switched")
	return nil
}
