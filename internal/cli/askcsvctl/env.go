package askcsvctl

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/askcsv/askcsv/internal/config"
)

const (
	defaultBaseURL = "http://localhost:8001"
	defaultTimeout = 60 * time.Second
)

// OptionsFromEnv reads ASKCSV_API_URL, ASKCSV_API_KEY and ASKCSV_CLI_TIMEOUT.
// A malformed timeout is reported on stderr and replaced by the default.
func OptionsFromEnv(lookup config.LookupFunc, stdout, stderr io.Writer) Options {
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	options := Options{
		BaseURL: firstNonEmpty(get("ASKCSV_API_URL"), defaultBaseURL),
		APIKey:  get("ASKCSV_API_KEY"),
		Timeout: defaultTimeout,
		Stdout:  stdout,
		Stderr:  stderr,
	}
	if raw := get("ASKCSV_CLI_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			_, _ = fmt.Fprintf(stderr, "invalid ASKCSV_CLI_TIMEOUT %q; using %s\n", raw, defaultTimeout)
		} else {
			options.Timeout = timeout
		}
	}
	return options
}
