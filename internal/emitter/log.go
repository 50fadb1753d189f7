package emitter

import (
	"maps"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// LogEmitter writes one structured log event per change.
type LogEmitter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogEmitter creates a change logger. Additions and removals log at
// level; modifications log field level from/to pairs at the same level.
func NewLogEmitter(logger *zerolog.Logger, level zerolog.Level) *LogEmitter {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &LogEmitter{
		logger: l.With().Str("component", "changes").Logger(),
		level:  level,
	}
}

// OnChanges implements Emitter.
func (e *LogEmitter) OnChanges(changes []resource.Change) {
	for _, c := range changes {
		ev := e.logger.WithLevel(e.level).
			Str("id", c.Identity.ResourceID).
			Str("type", c.Identity.ResourceType).
			Str("account", c.Identity.AccountID).
			Str("region", c.Identity.Region).
			Str("change", string(c.Type))

		if c.Entry != nil && c.Entry.DisplayName != "" {
			ev = ev.Str("name", c.Entry.DisplayName)
		}
		if c.Type == resource.ChangeModified {
			for _, field := range slices.Sorted(maps.Keys(c.Fields)) {
				change := c.Fields[field]
				ev = ev.
					Str(field+".from", change.Previous).
					Str(field+".to", change.Current)
			}
		}

		ev.Msg("resource changed")
	}
}

// Close is a no-op.
func (e *LogEmitter) Close() error {
	return nil
}
