package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 定义日志级别类型
type LogLevel int

// 日志级别常量定义
const (
	DEBUG   LogLevel = iota // 调试信息
	INFO                    // 普通信息
	WARNING                 // 警告信息
	ERROR                   // 错误信息
	FATAL                   // 致命错误，记录后退出进程
)

const subscriberBuffer = 100

// Logger 日志记录器：zap 负责编码，自身作为 io.Writer 写文件并推送给订阅者
type Logger struct {
	mu          sync.Mutex
	file        *os.File
	filename    string
	subscribers []chan string

	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// NewLogger 创建新的日志记录器
// 参数:
//
//	filename: 日志文件路径，为空时只推送给订阅者
//
// 返回值:
//
//	*Logger: 日志记录器实例
//	error: 创建过程中的错误
func NewLogger(filename string) (*Logger, error) {
	l := &Logger{
		filename: filename,
		level:    zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}

	if filename != "" {
		file, err := openLogFile(filename)
		if err != nil {
			return nil, err
		}
		l.file = file
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), logSink{l}, l.level)
	l.sugar = zap.New(core).Sugar()
	return l, nil
}

// NewNopLogger 不落盘的记录器，订阅仍然可用
func NewNopLogger() *Logger {
	l, _ := NewLogger("")
	return l
}

func openLogFile(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// SetLevel 调整最低输出级别
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Write 实现 io.Writer，由 zap core 调用
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := string(p)
	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default: // 通道已满则跳过
		}
	}

	if l.file == nil {
		return len(p), nil
	}
	return l.file.Write(p)
}

// Log 按级别记录一条日志，keysAndValues 为成对的键值
func (l *Logger) Log(level LogLevel, msg string, keysAndValues ...interface{}) {
	switch level {
	case DEBUG:
		l.sugar.Debugw(msg, keysAndValues...)
	case INFO:
		l.sugar.Infow(msg, keysAndValues...)
	case WARNING:
		l.sugar.Warnw(msg, keysAndValues...)
	case ERROR:
		l.sugar.Errorw(msg, keysAndValues...)
	case FATAL:
		l.sugar.Fatalw(msg, keysAndValues...)
	default:
		l.sugar.Infow(msg, append(keysAndValues, "level", level.String())...)
	}
}

// 以下是快捷日志方法
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) { l.Log(DEBUG, msg, keysAndValues...) }
func (l *Logger) Info(msg string, keysAndValues ...interface{})  { l.Log(INFO, msg, keysAndValues...) }
func (l *Logger) Warning(msg string, keysAndValues ...interface{}) {
	l.Log(WARNING, msg, keysAndValues...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) { l.Log(ERROR, msg, keysAndValues...) }
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) { l.Log(FATAL, msg, keysAndValues...) }

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// logSink zap 的输出端，Sync 只刷文件，避免回调 Logger.Sync
type logSink struct{ l *Logger }

func (s logSink) Write(p []byte) (int, error) { return s.l.Write(p) }

func (s logSink) Sync() error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	if s.l.file == nil {
		return nil
	}
	return s.l.file.Sync()
}

// Close 刷新缓冲、关闭文件并关闭所有订阅通道
func (l *Logger) Close() error {
	_ = l.sugar.Sync()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.subscribers {
		close(ch)
	}
	l.subscribers = nil

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Reopen 关闭当前文件并打开 filename，供 SIGHUP 与外部 logrotate 配合使用
func (l *Logger) Reopen(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	file, err := openLogFile(filename)
	if err != nil {
		return err
	}
	l.file = file
	l.filename = filename
	return nil
}

// CheckRotate 文件超过 maxSize（如 "10 * 1024 * 1024"）时轮转，返回是否发生了轮转
func (l *Logger) CheckRotate(maxSize string) (bool, error) {
	limit := eval(maxSize)
	if limit <= 0 {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return false, nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return false, fmt.Errorf("读取日志文件信息失败: %w", err)
	}
	if info.Size() <= limit {
		return false, nil
	}
	return true, l.rotateLog()
}

// rotateLog 调用方需持有锁；app.log -> app.20060102150405.log
func (l *Logger) rotateLog() error {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	ext := filepath.Ext(l.filename)
	archived := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(l.filename, ext), time.Now().Format("20060102150405"), ext)
	if err := os.Rename(l.filename, archived); err != nil {
		return fmt.Errorf("日志归档失败: %w", err)
	}

	file, err := openLogFile(l.filename)
	if err != nil {
		return err
	}
	l.file = file
	return nil
}

// Subscribe 订阅日志消息
// 返回值:
//
//	<-chan string: 只读通道，用于接收格式化后的日志行
func (l *Logger) Subscribe() <-chan string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan string, subscriberBuffer)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Unsubscribe 取消订阅并关闭通道
func (l *Logger) Unsubscribe(sub <-chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, ch := range l.subscribers {
		if ch == sub {
			close(ch)
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			return
		}
	}
}

// String 实现LogLevel的String方法
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 配置里的级别名转 LogLevel，无法识别时为 INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARNING
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARNING:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// eval 计算形如 "10 * 1024 * 1024" 的乘法表达式，非法输入返回0
func eval(expr string) int64 {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0
	}
	var result int64 = 1
	for _, part := range strings.Split(expr, "*") {
		num, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0
		}
		result *= num
	}
	return result
}

var _ io.Writer = (*Logger)(nil)
