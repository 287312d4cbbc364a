package utils

import (
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/rs/zerolog"
	"github.com/vgarvardt/gue/v5/adapter"
)

// GueLogAdapter routes gue pool logging into goapp's zerolog.
type GueLogAdapter struct {
	fields []adapter.Field
}

func NewGueLoggerAdapter() *GueLogAdapter {
	return &GueLogAdapter{}
}

func (l *GueLogAdapter) Debug(msg string, fields ...adapter.Field) {
	l.emit(goapp.Log.Debug(), fields).Msg(msg)
}

func (l *GueLogAdapter) Info(msg string, fields ...adapter.Field) {
	l.emit(goapp.Log.Info(), fields).Msg(msg)
}

func (l *GueLogAdapter) Error(msg string, fields ...adapter.Field) {
	l.emit(goapp.Log.Error(), fields).Str(zerolog.ErrorFieldName, msg).Send()
}

// With keeps the parent's bound fields alongside the new ones.
func (l *GueLogAdapter) With(fields ...adapter.Field) adapter.Logger {
	merged := make([]adapter.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &GueLogAdapter{fields: merged}
}

func (l *GueLogAdapter) emit(le *zerolog.Event, fields []adapter.Field) *zerolog.Event {
	for _, f := range l.fields {
		le = le.Interface(f.Key, f.Value)
	}
	for _, f := range fields {
		le = le.Interface(f.Key, f.Value)
	}
	return le
}
