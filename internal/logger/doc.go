// Package logger wraps go.uber.org/zap with a process-wide sugared logger
// and helpers to carry named loggers through context.Context.
//
// Components call WithName once to tag their context and then use the
// package-level leveled functions (Info, Errorf, InfoKV, ...) everywhere else.
package logger
