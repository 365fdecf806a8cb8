package sim

import (
	"github.com/sirupsen/logrus"
)

// A LogHook is a circuit hook that writes a log record for every output
// change, event delivery, block evaluation and circuit state change. Attach
// it with Circuit.AcceptHook to trace a simulation.
type LogHook struct {
	log *logrus.Logger
}

// NewLogHook creates a LogHook writing to the given logger.
func NewLogHook(logger *logrus.Logger) *LogHook {
	return &LogHook{log: logger}
}

// Func writes the log record for one hook invocation.
func (h *LogHook) Func(ctx HookCtx) {
	switch ctx.Pos {
	case HookPosOutputChange:
		b := ctx.Item.(Block)
		h.log.WithFields(logrus.Fields{
			"block": blockString(b),
			"value": ctx.Detail,
		}).Debug("output changed")
	case HookPosEventDeliver:
		b := ctx.Item.(Block)
		h.log.WithFields(logrus.Fields{
			"block": blockString(b),
			"event": ctx.Detail,
		}).Debug("event delivered")
	case HookPosBlockEvaluate:
		b := ctx.Item.(Block)
		h.log.WithFields(logrus.Fields{
			"block":   blockString(b),
			"changed": ctx.Detail,
		}).Trace("block evaluated")
	case HookPosCircuitState:
		h.log.WithField("state", ctx.Item).Debug("circuit state changed")
	}
}
