// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillLogger adapts zerolog to watermill.LoggerAdapter so that the
// event bus publishers, subscribers and router log alongside everything else.
type WatermillLogger struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)

// NewWatermillLogger returns a watermill logger tagged with component=eventbus.
func NewWatermillLogger() *WatermillLogger {
	return &WatermillLogger{logger: WithComponent("eventbus")}
}

// NewWatermillLoggerWithLogger wraps a specific zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewWatermillLoggerWithLogger(logger zerolog.Logger) *WatermillLogger {
	return &WatermillLogger{logger: logger}
}

// Error implements watermill.LoggerAdapter.
func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	withFields(w.logger.Error().Err(err), fields).Msg(msg)
}

// Info implements watermill.LoggerAdapter.
func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	withFields(w.logger.Info(), fields).Msg(msg)
}

// Debug implements watermill.LoggerAdapter.
func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	withFields(w.logger.Debug(), fields).Msg(msg)
}

// Trace implements watermill.LoggerAdapter.
func (w *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	withFields(w.logger.Trace(), fields).Msg(msg)
}

// With implements watermill.LoggerAdapter.
func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

func withFields(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	if len(fields) == 0 {
		return e
	}
	return e.Fields(map[string]interface{}(fields))
}
