package telemetry

import (
	"fmt"
	"log/slog"
)

// SlogAPI implements API on a slog.Logger, a nil Logger logs through slog.Default().
type SlogAPI struct {
	Logger *slog.Logger
}

func (s SlogAPI) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// With returns a SlogAPI whose reports all carry attrs.
func (s SlogAPI) With(attrs ...any) API {
	return SlogAPI{Logger: s.logger().With(attrs...)}
}

// logPairs appends params to out as slog key/value pairs. Params passed as name, value pairs keep
// their names ("descriptor", d.String()), anything else is logged as params.0, params.1 and so on.
func logPairs(out []any, params []any) []any {
	named := len(params)%2 == 0
	for i := 0; named && i < len(params); i += 2 {
		_, named = params[i].(string)
	}
	if named {
		return append(out, params...)
	}
	for i, p := range params {
		out = append(out, fmt.Sprintf("params.%d", i), p)
	}
	return out
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	s.logger().Error("broken component", logPairs([]any{"id", id}, params)...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	s.logger().Warn("warning", logPairs([]any{"id", id}, params)...)
}

func (s SlogAPI) ReportDebug(message string, params ...any) {
	s.logger().Debug(message, logPairs(nil, params)...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.logger().Info("count", "id", id, "n", count)
}
