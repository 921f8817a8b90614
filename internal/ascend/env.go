// Package ascend computes the runtime environment required by the Ascend
// CANN stack and the vLLM-Ascend plugin.
//
// The environment is returned as an explicit value instead of being written
// into the current process. The launcher merges it into the child process
// environment, so nothing here mutates global state.
package ascend

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

const (
	// EnvHome is the Ascend installation root variable.
	EnvHome = "ASCEND_HOME"

	// DefaultHome is the installation root used when ASCEND_HOME is unset.
	DefaultHome = "/usr/local/Ascend"

	// EnvDeviceID selects the NPU used by the server process.
	EnvDeviceID = "ASCEND_DEVICE_ID"

	EnvLibraryPath = "LD_LIBRARY_PATH"
	EnvPythonPath  = "PYTHONPATH"
	EnvPath        = "PATH"
)

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Environment is the set of variables a vLLM-Ascend process needs.
type Environment struct {
	// Home is the resolved Ascend installation root.
	Home string

	vars map[string]string
}

// NewEnvironment resolves the Ascend installation root and computes the
// search-path variables by prepending Ascend directories to the values
// currently visible through lookup:
//
//	LD_LIBRARY_PATH  $ASCEND_HOME/driver/lib64
//	PYTHONPATH       $ASCEND_HOME/python/site-packages
//	PATH             $ASCEND_HOME/bin
//	ASCEND_HOME      $ASCEND_HOME
//
// A nil lookup uses os.LookupEnv.
func NewEnvironment(lookup LookupFunc) *Environment {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	home := DefaultHome
	if v, ok := lookup(EnvHome); ok && v != "" {
		home = v
	}

	current := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	env := &Environment{
		Home: home,
		vars: map[string]string{
			EnvHome:        home,
			EnvLibraryPath: PrependPath(filepath.Join(home, "driver", "lib64"), current(EnvLibraryPath)),
			EnvPythonPath:  PrependPath(filepath.Join(home, "python", "site-packages"), current(EnvPythonPath)),
			EnvPath:        PrependPath(filepath.Join(home, "bin"), current(EnvPath)),
		},
	}

	for _, key := range env.Keys() {
		logger.Debug("Set %s=%s", key, env.vars[key])
	}
	logger.Info("Ascend environment variables configured (ASCEND_HOME=%s)", home)

	return env
}

// WithDeviceID returns a copy of the environment that also exports
// ASCEND_DEVICE_ID.
func (e *Environment) WithDeviceID(id int) *Environment {
	out := &Environment{Home: e.Home, vars: make(map[string]string, len(e.vars)+1)}
	for k, v := range e.vars {
		out.vars[k] = v
	}
	out.vars[EnvDeviceID] = strconv.Itoa(id)
	return out
}

// Get returns the value of key and whether it is set.
func (e *Environment) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Keys returns the variable names in sorted order.
func (e *Environment) Keys() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge overlays the Ascend variables onto base, a list of KEY=VALUE pairs
// such as os.Environ(). Entries of base whose key is overridden are
// dropped; the result is sorted by key.
func (e *Environment) Merge(base []string) []string {
	merged := make(map[string]string, len(base)+len(e.vars))
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		merged[key] = value
	}
	for k, v := range e.vars {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// PrependPath puts dir in front of a colon-separated search list.
//
// If dir is already the first element the list is returned unchanged, so
// repeated calls do not stack duplicates. Empty elements are dropped.
//
// Example:
//
//	PrependPath("/a", "/b:/c") // "/a:/b:/c"
//	PrependPath("/a", "/a:/b") // "/a:/b"
//	PrependPath("/a", "")      // "/a"
func PrependPath(dir, list string) string {
	parts := []string{dir}
	for i, p := range filepath.SplitList(list) {
		if p == "" {
			continue
		}
		if i == 0 && p == dir {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}
