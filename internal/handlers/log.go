package handlers

import (
	"context"
	"strings"

	"maintenance-automation/internal/action"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/rule"
)

// Log writes a message to the service log. Useful for dry runs.
//
// Parameters: message (required), level (debug, info, warn, error).
type Log struct {
	logger *logger.Logger
}

func NewLog(log *logger.Logger) *Log {
	return &Log{logger: log}
}

func (h *Log) Execute(ctx context.Context, params map[string]interface{}, _ rule.EventContext) action.Result {
	message, err := stringParam(params, "message", true)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	level, err := stringParam(params, "level", false)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}

	fields := []interface{}{"action", TypeLog}
	if inv, ok := action.InvocationFrom(ctx); ok {
		fields = append(fields, "ruleId", inv.RuleID, "companyId", inv.CompanyID)
	}

	switch strings.ToLower(level) {
	case "debug":
		h.logger.Debug(message, fields...)
	case "", "info":
		h.logger.Info(message, fields...)
	case "warn", "warning":
		h.logger.Warn(message, fields...)
	case "error":
		h.logger.Error(message, fields...)
	default:
		return action.PermanentFailure("parameter \"level\" must be debug, info, warn or error, got %q", level)
	}
	return action.Succeeded("logged")
}
