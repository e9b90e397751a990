// Package engine defines the contract of an IP-intelligence detection
// engine and provides a reference implementation of it.
//
// An Engine is loaded once per benchmark configuration and shared by every
// worker of that configuration. Implementations must allow concurrent calls
// to NewSession and to the methods of distinct sessions.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/ipibench/internal/evidence"
)

// Profile trades memory for detection speed.
type Profile string

const (
	LowMemory       Profile = "LowMemory"
	Balanced        Profile = "Balanced"
	BalancedTemp    Profile = "BalancedTemp"
	HighPerformance Profile = "HighPerformance"
	MaxPerformance  Profile = "MaxPerformance"
)

var profiles = []Profile{LowMemory, Balanced, BalancedTemp, HighPerformance, MaxPerformance}

// ParseProfile matches a profile name case-insensitively.
func ParseProfile(name string) (Profile, error) {
	for _, p := range profiles {
		if strings.EqualFold(string(p), name) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown performance profile: %s", name)
}

// Property names understood by the reference engine.
const (
	PropRegisteredName    = "RegisteredName"
	PropRegisteredOwner   = "RegisteredOwner"
	PropRegisteredCountry = "RegisteredCountry"
	PropIPRangeStart      = "IpRangeStart"
	PropIPRangeEnd        = "IpRangeEnd"
)

var AllProperties = []string{
	PropRegisteredName,
	PropRegisteredOwner,
	PropRegisteredCountry,
	PropIPRangeStart,
	PropIPRangeEnd,
}

// Options select how an engine is built. An empty Properties list selects
// every property.
type Options struct {
	Profile          Profile  `json:"profile"`
	Properties       []string `json:"properties,omitempty"`
	PerformanceGraph bool     `json:"performance_graph"`
	PredictiveGraph  bool     `json:"predictive_graph"`
	// Concurrency hints how many goroutines will share the engine.
	Concurrency int `json:"concurrency"`
}

// Engine is a loaded detection engine.
type Engine interface {
	NewSession() (Session, error)
	Info() DataFileInfo
	Close() error
}

// Session is one detection request. Callers must Close every session they
// open, on every path, so the resources backing its result are released.
type Session interface {
	Submit(rec evidence.Record) error
	Process() error
	Property(name string) (string, bool)
	Close() error
}

// Loader opens an engine for a data file.
type Loader func(dataFile string, opts Options) (Engine, error)

var (
	ErrClosed    = errors.New("engine closed")
	ErrNoAddress = errors.New("no usable IP address in evidence")
)

// EngineLoadError reports an engine that could not be built for a data file.
type EngineLoadError struct {
	Path string
	Err  error
}

func (e *EngineLoadError) Error() string {
	return fmt.Sprintf("load engine from %q: %v", e.Path, e.Err)
}

func (e *EngineLoadError) Unwrap() error {
	return e.Err
}

// DetectionError reports a failure processing one evidence record.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection: %v", e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
