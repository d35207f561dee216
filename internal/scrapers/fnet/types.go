package fnet

import (
	"strings"
	"time"

	"fnet-dataget/internal/components/chrono"
)

type Format string

const (
	FORMAT_SAC  Format = "SAC"
	FORMAT_SEED Format = "SEED"
)

// TimeReference is the clock the service interprets the window fields in.
type TimeReference string

const (
	TIME_UT  TimeReference = "UT"
	TIME_JST TimeReference = "JST"
)

// Location returns the zone window timestamps are rendered in, false if the
// reference is unknown.
func (r TimeReference) Location() (*time.Location, bool) {
	switch r {
	case TIME_UT:
		return time.UTC, true
	case TIME_JST:
		return chrono.JST(), true
	}
	return nil, false
}

const (
	StationAll = "ALL"

	// the service rejects '?' in component codes, it expects 'X' in its place
	componentWildcard    = "?"
	componentPlaceholder = "X"
)

// Filters selects what the service should put in the archive.
type Filters struct {
	Format        Format
	Station       string
	Component     string
	TimeReference TimeReference
}

// DefaultFilters returns SAC files for all stations' LH? channels in UT.
func DefaultFilters() Filters {
	return Filters{
		Format:        FORMAT_SAC,
		Station:       StationAll,
		Component:     "LH?",
		TimeReference: TIME_UT,
	}
}

// NormalizeComponent replaces wildcard characters with the placeholder the
// service expects, "BH?" becomes "BHX".
func NormalizeComponent(component string) string {
	return strings.ReplaceAll(component, componentWildcard, componentPlaceholder)
}

type WindowMode int

const (
	WINDOW_END_TIME WindowMode = iota
	WINDOW_DURATION
)

func (m WindowMode) String() string {
	switch m {
	case WINDOW_END_TIME:
		return "time"
	case WINDOW_DURATION:
		return "duration"
	}
	return "unknown"
}

// Window is the requested time range, either [start, end] or start plus a
// number of seconds. Construct it with UntilTime or ForDuration.
type Window struct {
	mode    WindowMode
	start   time.Time
	end     time.Time
	seconds int
}

// UntilTime requests data from start to end. A zero end is replaced with the
// current time when the request is made.
func UntilTime(start, end time.Time) Window {
	return Window{mode: WINDOW_END_TIME, start: start, end: end}
}

// ForDuration requests `seconds` seconds of data beginning at start.
func ForDuration(start time.Time, seconds int) Window {
	return Window{mode: WINDOW_DURATION, start: start, seconds: seconds}
}

func (w Window) Mode() WindowMode {
	return w.mode
}

func (w Window) Start() time.Time {
	return w.start
}

// End returns the end instant, only meaningful for WINDOW_END_TIME.
func (w Window) End() (time.Time, bool) {
	return w.end, w.mode == WINDOW_END_TIME
}

// Seconds returns the duration, only meaningful for WINDOW_DURATION.
func (w Window) Seconds() (int, bool) {
	return w.seconds, w.mode == WINDOW_DURATION
}

// Proxies maps a URL scheme ("http", "https") to a proxy URL.
type Proxies map[string]string

type FetchRequest struct {
	Window  Window
	Filters Filters
	// SaveDir must already exist, "" means the working directory.
	SaveDir string
	// Proxies apply to every request of a single FetchWaveform call,
	// schemes missing from the map fall back to the environment.
	Proxies Proxies
}

// DataHandle identifies a prepared archive on the service, ex. "NIED_12345.zip".
type DataHandle string

type NoDataReason int

const (
	NO_DATA_NONE NoDataReason = iota
	NO_DATA_BUSY
	NO_DATA_SIZE_LIMIT
	NO_DATA_UNAVAILABLE
)

func (r NoDataReason) String() string {
	switch r {
	case NO_DATA_NONE:
		return "none"
	case NO_DATA_BUSY:
		return "busy"
	case NO_DATA_SIZE_LIMIT:
		return "size-limit"
	case NO_DATA_UNAVAILABLE:
		return "unavailable"
	}
	return "unknown"
}

// Result is the outcome of a FetchWaveform call that did not fail.
//
// Either Path is set and the archive is on disk, or NoData explains why the
// service produced nothing and Message carries the human readable reason.
type Result struct {
	Handle    DataHandle
	Path      string
	NoData    NoDataReason
	Message   string
	FetchedAt time.Time
}

func (r Result) Downloaded() bool {
	return r.NoData == NO_DATA_NONE && r.Path != ""
}
