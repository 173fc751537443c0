// Package buildinfo carries the version identity stamped into the binary at
// link time. The version command and the /version endpoint both read it.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// Stamped by the release build, e.g.
//
//	go build -ldflags "-X github.com/petalo/mailsift/pkg/buildinfo.Version=v0.3.0 \
//	  -X github.com/petalo/mailsift/pkg/buildinfo.Commit=b806fe7 \
//	  -X github.com/petalo/mailsift/pkg/buildinfo.BuildTime=2026-08-30T10:30:00Z"
//
// Unstamped builds report "dev".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build identity reported for one named binary.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	GoVersion   string `json:"go_version"`
}

// Get assembles the stamped identity under the given service name.
func Get(serviceName string) Info {
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// String renders the identity on one line, "v0.3.0 (b806fe7, 2026-08-30T10:30:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// Handler serves the identity as JSON, for the metrics mux's /version route.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := Get(serviceName)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}
