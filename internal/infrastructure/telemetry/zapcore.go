package telemetry

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap/zapcore"
)

// ZapCore returns a core that forwards entries at or above level to the
// collector. Pass it to logger.New as an extra core. Without exported logs
// it is a no-op core.
func (p *Providers) ZapCore(level zapcore.Level) zapcore.Core {
	if p.logs == nil {
		return zapcore.NewNopCore()
	}
	core := otelzap.NewCore(p.settings.ServiceName, otelzap.WithLoggerProvider(p.logs))
	// otelzap has no minimum level of its own
	filtered, err := zapcore.NewIncreaseLevelCore(core, level)
	if err != nil {
		return core
	}
	return filtered
}
