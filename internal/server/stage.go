package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
)

// Stage tags, in pipeline order.
const (
	TagMethodOverride = "methodOverride"
	TagCookieParser   = "cookieParser"
	TagResponseTime   = "responseTime"
	TagSession        = "session"
	TagThemeStylus    = "theme.stylus"
	TagThemeStatic    = "theme.static"
	TagMediaStatic    = "media.static"
	TagForm           = "form"
	TagTranslate      = "translate"
	TagRouter         = "router"
)

// Stage is one unit of request processing. Handlers follow fiber's
// middleware contract and call c.Next() to pass the request on.
type Stage struct {
	Tag     string
	Handler fiber.Handler
}

// StageFactory builds a theme-dependent stage for the given site root and
// theme directory name. Calling it twice with different themes must produce
// stages that share no mutable state.
type StageFactory func(basePath, theme string) Stage

var (
	// ErrDuplicateStage is returned when a tag is attached twice.
	ErrDuplicateStage = errors.New("stage already attached")
	// ErrStageNotFound is returned when replacing a tag that is not attached.
	ErrStageNotFound = errors.New("stage not attached")
	// ErrInvalidStage is returned for stages without a tag or handler.
	ErrInvalidStage = errors.New("stage requires a tag and a handler")
)

func (s Stage) valid() bool {
	return s.Tag != "" && s.Handler != nil
}
