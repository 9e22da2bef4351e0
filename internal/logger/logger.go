package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new structured logger
func New(env string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.Encoding = "json"
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	// Always log to stdout for container compatibility
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// WithCaller returns a child logger that tags every entry with the identity and
// role of the user an operation runs on behalf of. Anonymous callers are tagged
// as such.
func WithCaller(l *zap.Logger, userID, name, role string) *zap.Logger {
	if userID == "" {
		return l.With(zap.String("user_id", "anonymous"))
	}
	fields := []zap.Field{zap.String("user_id", userID)}
	if name != "" {
		fields = append(fields, zap.String("user", name))
	}
	if role != "" {
		fields = append(fields, zap.String("role", role))
	}
	return l.With(fields...)
}
