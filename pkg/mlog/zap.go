package mlog

import "go.uber.org/zap"

// zapLogger adapts *zap.SugaredLogger to the Logger interface. This is the
// production implementation wired by internal/bootstrap.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap builds a production Logger backed by zap, using the zap production
// JSON encoder config in prod environments and the console encoder in dev.
func NewZap(development bool) (Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &zapLogger{s: base.Sugar()}, nil
}

func (l *zapLogger) Info(args ...any)      { l.s.Info(args...) }
func (l *zapLogger) Infof(f string, a ...any)  { l.s.Infof(f, a...) }
func (l *zapLogger) Error(args ...any)     { l.s.Error(args...) }
func (l *zapLogger) Errorf(f string, a ...any) { l.s.Errorf(f, a...) }
func (l *zapLogger) Warn(args ...any)      { l.s.Warn(args...) }
func (l *zapLogger) Warnf(f string, a ...any)  { l.s.Warnf(f, a...) }
func (l *zapLogger) Debug(args ...any)     { l.s.Debug(args...) }
func (l *zapLogger) Debugf(f string, a ...any) { l.s.Debugf(f, a...) }

func (l *zapLogger) WithFields(fields ...any) Logger {
	return &zapLogger{s: l.s.With(fields...)}
}

func (l *zapLogger) Sync() error { return l.s.Sync() }
