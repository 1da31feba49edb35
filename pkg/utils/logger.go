package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logLevels = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

// NewLogger returns a JSON logger writing to stderr. The debug level
// enables the V(1) messages.
func NewLogger(level string) (logr.Logger, error) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		return logr.Discard(), fmt.Errorf("invalid log level '%s', use one of debug|info|warn|error", level)
	}

	configLog := zap.NewProductionEncoderConfig()
	configLog.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339Nano))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(configLog), zapcore.Lock(os.Stderr), lvl)
	z := zap.New(core, zap.AddCaller())
	return zapr.NewLogger(z), nil
}
