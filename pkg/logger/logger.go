package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/InterNations/DataGridBundle/pkg/errortracking"
)

var Logger *zap.SugaredLogger
var errorTracker errortracking.Provider

// Init builds a development or production logger writing to stderr
func Init(dev bool) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	UpdateLogger(&cfg)
}

// UpdateLoggerPath redirects output to path
func UpdateLoggerPath(path string, dev bool) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{path}
	UpdateLogger(&cfg)
}

func UpdateLogger(config *zap.Config) {
	if config == nil {
		defaultConfig := zap.NewProductionConfig()
		defaultConfig.OutputPaths = []string{"datagrid.log"}
		config = &defaultConfig
	}

	built, err := config.Build()
	if err != nil {
		log.Print(err)
		return
	}

	Logger = built.Sugar()
	Info("DataGrid logger initialized")
}

// InitErrorTracking routes Warn, Error and panics to provider
func InitErrorTracking(provider errortracking.Provider) {
	errorTracker = provider
	if errorTracker != nil {
		Info("Error tracking initialized")
	}
}

func GetErrorTracker() errortracking.Provider {
	return errorTracker
}

// CloseErrorTracking flushes and closes the error tracking provider
func CloseErrorTracking() error {
	if errorTracker == nil {
		return nil
	}
	errorTracker.Flush(5)
	return errorTracker.Close()
}

// Sync flushes buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

func Info(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Infow(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func Warn(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Warnw(message, "process_id", os.Getpid())
	}
	track(context.Background(), message, errortracking.SeverityWarning)
}

func Error(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Errorw(message, "process_id", os.Getpid())
	}
	track(context.Background(), message, errortracking.SeverityError)
}

// ErrorCtx logs like Error and reports err with the tags carried by ctx
func ErrorCtx(ctx context.Context, err error, template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Errorw(message, "process_id", os.Getpid(), "tags", errortracking.TagsFromContext(ctx))
	}
	if errorTracker == nil {
		return
	}
	errorTracker.CaptureError(ctx, err, errortracking.SeverityError, map[string]interface{}{
		"message":    message,
		"process_id": os.Getpid(),
	})
}

func Debug(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Debugw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func track(ctx context.Context, message string, severity errortracking.Severity) {
	if errorTracker == nil {
		return
	}
	errorTracker.CaptureMessage(ctx, message, severity, map[string]interface{}{
		"process_id": os.Getpid(),
	})
}

// CatchPanicCallback must be deferred. It logs and reports a panic and
// hands the recovered value to cb.
func CatchPanicCallback(location string, cb func(err any)) {
	if err := recover(); err != nil {
		stack := debug.Stack()
		Error("Panic in %s : %v", location, err)

		if errorTracker != nil {
			errorTracker.CapturePanic(context.Background(), err, stack, map[string]interface{}{
				"location":   location,
				"process_id": os.Getpid(),
			})
		}

		if cb != nil {
			cb(err)
		}
	}
}

// CatchPanic must be deferred
func CatchPanic(location string) {
	CatchPanicCallback(location, nil)
}

// HandlePanic logs a recovered value and converts it into an error:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        err = logger.HandlePanic("BunSelectQuery.Scan", r)
//	    }
//	}()
func HandlePanic(methodName string, r any) error {
	stack := debug.Stack()
	Error("Panic in %s: %v\nStack trace:\n%s", methodName, r, string(stack))

	if errorTracker != nil {
		errorTracker.CapturePanic(context.Background(), r, stack, map[string]interface{}{
			"method":     methodName,
			"process_id": os.Getpid(),
		})
	}

	return fmt.Errorf("panic in %s: %v", methodName, r)
}
