// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"net/url"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

var logger *zap.Logger

func init() {
	var err error
	logger, err = zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
}

// Logger get current logger
func Logger() *zap.Logger {
	return logger
}

// TaskLogger returns a logger tagged with a pipeline run and one of its tasks.
func TaskLogger(runID, task string) *zap.Logger {
	return logger.With(zap.String("run_id", runID), zap.String("task", task))
}

func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.Bool("debug", false, "use debug log mode")
	flagSet.String("log-format", FormatJSON, "log encoding: json or console")
	flagSet.String("log-path", "", "path of log file")
	flagSet.Int("log-max-size", 100, "maximum size in megabytes of the log file")
	flagSet.Int("log-max-age", 0, "maximum number of days to retain old log files")
	flagSet.Int("log-max-backups", 0, "maximum number of old log files to retain")
	flagSet.Bool("log-compress", false, "compress rotated log files")
}

// SetLogger replaces the global logger. Debug mode logs debug messages to
// the console; otherwise the encoding follows --log-format.
func SetLogger(flagSet *pflag.FlagSet, debug bool) {
	core, err := newCore(flagSet, debug)
	if err != nil {
		logger.Fatal("failed to create logger", zap.Error(err))
	}
	logger = zap.New(core)
}

func newCore(flagSet *pflag.FlagSet, debug bool) (zapcore.Core, error) {
	timeEncoder := zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999999")
	format := FormatJSON
	if flag := flagSet.Lookup("log-format"); flag != nil {
		format = flag.Value.String()
	}
	level := zap.InfoLevel
	if debug {
		format = FormatConsole
		level = zap.DebugLevel
	}
	var encoder zapcore.Encoder
	switch format {
	case FormatJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = timeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	case FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = timeEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, errors.NotValidf("log format %q", format)
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if flagSet.Changed("log-path") {
		path, _ := flagSet.GetString("log-path")
		maxSize, _ := flagSet.GetInt("log-max-size")
		maxAge, _ := flagSet.GetInt("log-max-age")
		maxBackups, _ := flagSet.GetInt("log-max-backups")
		compress, _ := flagSet.GetBool("log-compress")
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   compress,
		}))
	}
	return zapcore.NewCore(encoder, zap.CombineWriteSyncers(writers...), level), nil
}

// query parameters carrying credentials in signed object URLs
var secretParams = []string{"sig", "X-Amz-Signature", "X-Amz-Credential", "X-Goog-Signature", "X-Goog-Credential", "token"}

// RedactURI hides credentials embedded in a storage or service URI.
func RedactURI(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return rawURL
	}
	if parsed.User != nil {
		username := parsed.User.Username()
		if password, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(strings.Repeat("x", len(username)), strings.Repeat("x", len(password)))
		} else {
			parsed.User = url.User(strings.Repeat("x", len(username)))
		}
	}
	if parsed.RawQuery != "" {
		query := parsed.Query()
		for _, name := range secretParams {
			if query.Has(name) {
				query.Set(name, "xxxxx")
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
