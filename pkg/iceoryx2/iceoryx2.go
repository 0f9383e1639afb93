// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package iceoryx2

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iox2go/iceoryx2/internal/logx"
)

// ServiceType defines the communication domain for services.
type ServiceType int

const (
	// ServiceTypeLocal restricts communication to the same process.
	ServiceTypeLocal ServiceType = iota
	// ServiceTypeIpc enables inter-process communication across multiple processes.
	ServiceTypeIpc
)

// String implements fmt.Stringer for ServiceType.
func (s ServiceType) String() string {
	switch s {
	case ServiceTypeLocal:
		return "Local"
	case ServiceTypeIpc:
		return "IPC"
	default:
		return fmt.Sprintf("ServiceType(%d)", int(s))
	}
}

// LogLevel defines the logging verbosity level.
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

// String implements fmt.Stringer for LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "Trace"
	case LogLevelDebug:
		return "Debug"
	case LogLevelInfo:
		return "Info"
	case LogLevelWarn:
		return "Warn"
	case LogLevelError:
		return "Error"
	case LogLevelFatal:
		return "Fatal"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LogLevelTrace:
		return logrus.TraceLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelInfo:
		return logrus.InfoLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// CallbackProgression controls the iteration flow in callback functions.
type CallbackProgression int

const (
	// CallbackProgressionStop stops the iteration.
	CallbackProgressionStop CallbackProgression = iota
	// CallbackProgressionContinue continues the iteration.
	CallbackProgressionContinue
)

// String implements fmt.Stringer for CallbackProgression.
func (c CallbackProgression) String() string {
	switch c {
	case CallbackProgressionStop:
		return "Stop"
	case CallbackProgressionContinue:
		return "Continue"
	default:
		return fmt.Sprintf("CallbackProgression(%d)", int(c))
	}
}

// TypeVariant defines how payload size is determined.
type TypeVariant int

const (
	// TypeVariantFixedSize means the payload has a fixed size.
	TypeVariantFixedSize TypeVariant = iota
	// TypeVariantDynamic means the payload has a dynamic size.
	TypeVariantDynamic
)

// String implements fmt.Stringer for TypeVariant.
func (t TypeVariant) String() string {
	switch t {
	case TypeVariantFixedSize:
		return "FixedSize"
	case TypeVariantDynamic:
		return "Dynamic"
	default:
		return fmt.Sprintf("TypeVariant(%d)", int(t))
	}
}

// UnableToDeliverStrategy defines behavior when a subscriber's buffer is full.
type UnableToDeliverStrategy int

const (
	// UnableToDeliverStrategyBlock blocks until space is available.
	UnableToDeliverStrategyBlock UnableToDeliverStrategy = iota
	// UnableToDeliverStrategyDiscardSample never blocks: a subscriber whose
	// buffer is full does not receive the new sample. With safe overflow
	// enabled the oldest queued sample is displaced instead, under either
	// strategy.
	UnableToDeliverStrategyDiscardSample
)

// String implements fmt.Stringer for UnableToDeliverStrategy.
func (u UnableToDeliverStrategy) String() string {
	switch u {
	case UnableToDeliverStrategyBlock:
		return "Block"
	case UnableToDeliverStrategyDiscardSample:
		return "DiscardSample"
	default:
		return fmt.Sprintf("UnableToDeliverStrategy(%d)", int(u))
	}
}

// EventId represents an event identifier used in the event messaging pattern.
type EventId uint64

// String implements fmt.Stringer for EventId.
func (e EventId) String() string {
	return fmt.Sprintf("EventId(%d)", uint64(e))
}

// SignalHandlingMode defines how signals are handled.
type SignalHandlingMode int

const (
	// SignalHandlingModeHandleTerminationRequests is the default mode. Nodes
	// and waitsets store and report the mode; neither installs a signal
	// handler in either mode.
	SignalHandlingModeHandleTerminationRequests SignalHandlingMode = iota
	// SignalHandlingModeDisabled is the mode without termination handling.
	SignalHandlingModeDisabled
)

// String implements fmt.Stringer for SignalHandlingMode.
func (s SignalHandlingMode) String() string {
	switch s {
	case SignalHandlingModeHandleTerminationRequests:
		return "HandleTerminationRequests"
	case SignalHandlingModeDisabled:
		return "Disabled"
	default:
		return fmt.Sprintf("SignalHandlingMode(%d)", int(s))
	}
}

// AllocationStrategy defines the memory allocation strategy.
type AllocationStrategy int

const (
	// AllocationStrategyPowerOfTwo allocates memory in power of two sizes.
	AllocationStrategyPowerOfTwo AllocationStrategy = iota
	// AllocationStrategyBestFit allocates the smallest fitting block.
	AllocationStrategyBestFit
)

// String implements fmt.Stringer for AllocationStrategy.
func (a AllocationStrategy) String() string {
	switch a {
	case AllocationStrategyPowerOfTwo:
		return "PowerOfTwo"
	case AllocationStrategyBestFit:
		return "BestFit"
	default:
		return fmt.Sprintf("AllocationStrategy(%d)", int(a))
	}
}

// Constants for string length limits, matching the teacher's C core values.
const (
	ServiceNameMaxLength = 255
	NodeNameMaxLength    = 128
)

// durationToSecsNanos splits a time.Duration into whole seconds and the
// remaining nanoseconds.
func durationToSecsNanos(d time.Duration) (secs uint64, nanos uint32) {
	secs = uint64(d / time.Second)
	nanos = uint32((d % time.Second).Nanoseconds())
	return
}

// SetLogLevelFromEnvOr sets the log level from environment variable IOX2_LOG_LEVEL,
// or uses the provided default if the environment variable is not set.
func SetLogLevelFromEnvOr(defaultLevel LogLevel) {
	logx.SetLevelFromEnvOr(defaultLevel.logrusLevel())
}

// SetLogLevel sets the global log level.
func SetLogLevel(level LogLevel) {
	logx.SetLevel(level.logrusLevel())
}
