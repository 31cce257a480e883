// Package filemount translates file path options into container bind mounts.
//
// The utility usually runs inside a container launched by a product
// installer. File arguments name paths on the host, so the launcher needs to
// know which host directories to bind-mount into the container and what the
// in-container paths are. This package computes both from a raw argument
// list without invoking the normal flag parser, since it runs on the host
// side before the container exists.
package filemount

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// InputDir is the in-container mount point for the directory holding the
	// base file.
	InputDir = "/data/input"
	// OutputDir is the in-container mount point for the directory holding the
	// output file.
	OutputDir = "/data/output"
)

// Mount describes one bind mount the container launcher must create.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Option renders the mount in the format accepted by podman's --mount flag.
func (m Mount) Option() string {
	opt := fmt.Sprintf("type=bind,src=%s,target=%s", m.Source, m.Target)
	if m.ReadOnly {
		opt += ",ro=true"
	}
	return opt
}

// Result holds the computed mounts and the argument list rewritten to use
// in-container paths.
type Result struct {
	Mounts         []Mount
	TranslatedArgs []string
}

// MountOpts renders all mounts as a single podman option string.
func (r *Result) MountOpts() string {
	opts := make([]string, len(r.Mounts))
	for i, mount := range r.Mounts {
		opts[i] = "--mount " + mount.Option()
	}
	return strings.Join(opts, " ")
}

// ProcessFileOptions scans args for file path options and computes the bind
// mounts needed to make those paths reachable inside the container.
//
// The directory containing a --base-file path is mounted at InputDir,
// read-only unless --save is also given, since an in-place save writes back
// to the base file. The directory containing a --save-to-file path is
// mounted read-write at OutputDir. All other arguments pass through
// unchanged.
func ProcessFileOptions(args []string) (*Result, error) {
	var baseFile, saveToFile string
	var baseFileIndex, saveToFileIndex int
	saveInPlace := false

	translated := append([]string(nil), args...)

	for i := 0; i < len(translated); i++ {
		flag, value, inline := splitArg(translated[i])
		switch flag {
		case "--save":
			saveInPlace = true
			continue
		case "--base-file", "--save-to-file":
		default:
			continue
		}

		if !inline {
			if i+1 >= len(translated) {
				return nil, fmt.Errorf("option %s requires a value", flag)
			}
			i++
			value = translated[i]
		}

		if flag == "--base-file" {
			baseFile = value
			baseFileIndex = i
		} else {
			saveToFile = value
			saveToFileIndex = i
		}
	}

	result := &Result{TranslatedArgs: translated}

	if baseFile != "" {
		hostDir, containerPath, err := translatePath(baseFile, InputDir)
		if err != nil {
			return nil, err
		}
		result.Mounts = append(result.Mounts, Mount{
			Source:   hostDir,
			Target:   InputDir,
			ReadOnly: !saveInPlace,
		})
		setArgValue(translated, baseFileIndex, "--base-file", containerPath)
	}

	if saveToFile != "" {
		hostDir, containerPath, err := translatePath(saveToFile, OutputDir)
		if err != nil {
			return nil, err
		}
		result.Mounts = append(result.Mounts, Mount{
			Source: hostDir,
			Target: OutputDir,
		})
		setArgValue(translated, saveToFileIndex, "--save-to-file", containerPath)
	}

	return result, nil
}

// splitArg separates an argument into flag and inline value. For "--flag=v"
// it returns ("--flag", "v", true); otherwise the argument itself and no
// value.
func splitArg(arg string) (flag, value string, inline bool) {
	if !strings.HasPrefix(arg, "--") {
		return arg, "", false
	}
	if eq := strings.Index(arg, "="); eq >= 0 {
		return arg[:eq], arg[eq+1:], true
	}
	return arg, "", false
}

// translatePath maps a host file path into the container directory and
// returns the host directory to mount along with the in-container path.
func translatePath(hostPath, containerDir string) (hostDir, containerPath string, err error) {
	absolute, err := filepath.Abs(hostPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", hostPath, err)
	}
	return filepath.Dir(absolute), filepath.Join(containerDir, filepath.Base(absolute)), nil
}

// setArgValue rewrites the value at index, which is either a standalone
// value following its flag or an inline "--flag=value" argument.
func setArgValue(args []string, index int, flag, value string) {
	if strings.HasPrefix(args[index], flag+"=") {
		args[index] = flag + "=" + value
		return
	}
	args[index] = value
}
