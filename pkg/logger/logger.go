package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOption 日志初始化参数（与配置文件中的 logger 段一一对应）
type LogOption struct {
	Format   string // "console" 或 "json"
	LogDir   string // 日志目录，为空则只输出到 stdout
	Level    string // debug / info / warn / error
	Compress bool   // 是否压缩旧日志文件
}

var sugar = newDefault()

func newDefault() *zap.SugaredLogger {
	l, _ := zap.NewProduction(zap.AddCallerSkip(1))
	return l.Sugar()
}

// Init 按配置重建全局 logger，进程启动时调用一次。
func Init(opt LogOption) error {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(opt.Level)); err != nil && opt.Level != "" {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opt.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if opt.LogDir != "" {
		if err := os.MkdirAll(opt.LogDir, 0o755); err != nil {
			return err
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opt.LogDir, "service.log"),
			MaxSize:    256, // MB
			MaxBackups: 10,
			MaxAge:     7, // days
			Compress:   opt.Compress,
		}))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return nil
}

func Sync() {
	_ = sugar.Sync()
}

func Debugf(format string, args ...any) { sugar.Debugf(format, args...) }
func Infof(format string, args ...any)  { sugar.Infof(format, args...) }
func Warnf(format string, args ...any)  { sugar.Warnf(format, args...) }
func Errorf(format string, args ...any) { sugar.Errorf(format, args...) }
