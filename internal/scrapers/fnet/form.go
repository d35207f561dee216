package fnet

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

const minimumYear = 1995

// request is a FetchRequest that passed validation, with defaults resolved.
type request struct {
	window    Window
	filters   Filters
	location  *time.Location
	saveDir   string
	proxies   map[string]*url.URL
	component string
}

func validate(req FetchRequest, now time.Time) (request, error) {
	location, ok := req.Filters.TimeReference.Location()
	if !ok {
		return request{}, &ValidationError{
			Field: "time reference",
			Value: req.Filters.TimeReference,
			Err:   ErrInvalidFilter,
		}
	}

	window := req.Window
	start := window.Start().In(location)
	if start.Year() < minimumYear {
		return request{}, &ValidationError{
			Field: "start",
			Value: start.Format(time.DateTime),
			Err:   ErrUnsupportedTimeRange,
		}
	}

	switch window.Mode() {
	case WINDOW_END_TIME:
		end, _ := window.End()
		if end.IsZero() {
			window = UntilTime(window.Start(), now)
			end = now
		}
		if end.Before(window.Start()) {
			return request{}, &ValidationError{
				Field: "end",
				Value: end.In(location).Format(time.DateTime),
				Err:   fmt.Errorf("%w: end precedes start", ErrInvalidWindow),
			}
		}
	case WINDOW_DURATION:
		seconds, _ := window.Seconds()
		if seconds <= 0 {
			return request{}, &ValidationError{
				Field: "duration",
				Value: seconds,
				Err:   fmt.Errorf("%w: duration must be positive", ErrInvalidWindow),
			}
		}
	default:
		return request{}, &ValidationError{
			Field: "window mode",
			Value: int(window.Mode()),
			Err:   ErrInvalidWindow,
		}
	}

	if req.Filters.Format == "" {
		return request{}, &ValidationError{Field: "format", Value: req.Filters.Format, Err: ErrInvalidFilter}
	}
	if req.Filters.Station == "" {
		return request{}, &ValidationError{Field: "station", Value: req.Filters.Station, Err: ErrInvalidFilter}
	}
	component := NormalizeComponent(req.Filters.Component)
	if len(component) != 3 {
		return request{}, &ValidationError{
			Field: "component",
			Value: req.Filters.Component,
			Err:   fmt.Errorf("%w: component must be 3 characters", ErrInvalidFilter),
		}
	}

	proxies := map[string]*url.URL{}
	for scheme, raw := range req.Proxies {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			if err == nil {
				err = fmt.Errorf("missing host")
			}
			return request{}, &ValidationError{Field: "proxy", Value: raw, Err: err}
		}
		proxies[scheme] = parsed
	}

	saveDir := req.SaveDir
	if saveDir == "" {
		saveDir = "."
	}
	info, err := os.Stat(saveDir)
	if err != nil {
		return request{}, &InvalidPathError{Path: saveDir, Err: err}
	}
	if !info.IsDir() {
		return request{}, &InvalidPathError{Path: saveDir, Err: fmt.Errorf("not a directory")}
	}

	return request{
		window:    window,
		filters:   req.Filters,
		location:  location,
		saveDir:   saveDir,
		proxies:   proxies,
		component: component,
	}, nil
}

// timestampFields renders t as the six zero padded fields the form expects,
// prefixed with "s_" or "e_".
func timestampFields(out map[string]string, prefix string, t time.Time) {
	out[prefix+"year"] = t.Format("2006")
	out[prefix+"month"] = t.Format("01")
	out[prefix+"day"] = t.Format("02")
	out[prefix+"hour"] = t.Format("15")
	out[prefix+"min"] = t.Format("04")
	out[prefix+"sec"] = t.Format("05")
}

// formData builds the submit payload.
func (r request) formData() map[string]string {
	data := map[string]string{
		"end": r.window.Mode().String(),
	}

	switch r.window.Mode() {
	case WINDOW_END_TIME:
		end, _ := r.window.End()
		timestampFields(data, "e_", end.In(r.location))
	case WINDOW_DURATION:
		seconds, _ := r.window.Seconds()
		data["sec"] = strconv.Itoa(seconds)
	}

	timestampFields(data, "s_", r.window.Start().In(r.location))
	data["format"] = string(r.filters.Format)
	// always request zip, the downloader saves the archive as-is
	data["archive"] = "zip"
	data["station"] = r.filters.Station
	data["component"] = r.component
	data["time"] = string(r.filters.TimeReference)

	return data
}
