package fxrunner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"fxpanel/internal/domain"
)

// osExit is replaced in tests to observe fatal paths.
var osExit = os.Exit

// Platform is one of the two host platforms FXServer can be supervised on.
// The set is closed: only Linux and Windows implement it.
type Platform interface {
	Name() string
	launch(in LaunchInput, bootstrap []string) (LaunchSpec, error)
}

var (
	// Linux runs FXServer through the bundled musl loader.
	Linux Platform = linuxPlatform{}
	// Windows runs FXServer.exe directly.
	Windows Platform = windowsPlatform{}
)

// DetectPlatform maps a GOOS (or os.type style) name to a Platform.
func DetectPlatform(goos string) (Platform, error) {
	switch strings.ToLower(goos) {
	case "linux":
		return Linux, nil
	case "windows", "windows_nt":
		return Windows, nil
	}
	return nil, domain.NewSubSystemError("fxrunner", "DetectPlatform", domain.ErrUnsupportedPlatform, goos)
}

// MustDetectPlatform resolves goos or terminates the process. Supervision on
// any other OS is impossible, so there is nothing to fall back to.
func MustDetectPlatform(goos string, logger *slog.Logger) Platform {
	p, err := DetectPlatform(goos)
	if err != nil {
		logger.Error("OS type not supported", "os", goos)
		osExit(1)
	}
	return p
}

// LaunchInput is the configuration the launch spec is derived from.
type LaunchInput struct {
	InstallPath string // directory that holds the FXServer binary
	DataPath    string // server data directory, used as working directory
	CfgPath     string
	CommandLine string
	Onesync     bool
	Version     string
	APIPort     int
	APIToken    string
}

// LaunchSpec is the resolved executable, argument vector and working directory.
type LaunchSpec struct {
	Path string   `json:"path"`
	Args []string `json:"args"`
	Dir  string   `json:"dir"`
	Env  []string `json:"-"`
}

// BuildLaunchSpec produces the launch spec for p. It fails only when the
// extra command line cannot be tokenized.
func BuildLaunchSpec(p Platform, in LaunchInput) (LaunchSpec, error) {
	if p == nil {
		return LaunchSpec{}, domain.NewSubSystemError("fxrunner", "BuildLaunchSpec", domain.ErrUnsupportedPlatform, "nil platform")
	}
	extra, err := SplitCommandLine(in.CommandLine)
	if err != nil {
		return LaunchSpec{}, domain.NewSubSystemError("fxrunner", "BuildLaunchSpec", domain.ErrInvalidInput, err.Error())
	}
	spec, err := p.launch(in, bootstrapArgs(in, extra))
	if err != nil {
		return LaunchSpec{}, err
	}
	spec.Dir = in.DataPath
	return spec, nil
}

// SplitCommandLine tokenizes extra launch arguments with shell quoting rules.
func SplitCommandLine(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return []string{}, nil
	}
	args, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	return args, nil
}

func bootstrapArgs(in LaunchInput, extra []string) []string {
	args := []string{
		"+sets", "txAdmin-version", in.Version,
		"+set", "txAdmin-apiPort", strconv.Itoa(in.APIPort),
		"+set", "txAdmin-apiToken", in.APIToken,
		"+set", "txAdminServerMode", "true",
		"+set", "onesync_enabled", strconv.FormatBool(in.Onesync),
	}
	args = append(args, extra...)
	return append(args, "+exec", in.CfgPath)
}

type linuxPlatform struct{}

func (linuxPlatform) Name() string { return "linux" }

func (linuxPlatform) launch(in LaunchInput, bootstrap []string) (LaunchSpec, error) {
	root, err := filepath.Abs(filepath.Join(in.InstallPath, "..", ".."))
	if err != nil {
		return LaunchSpec{}, fmt.Errorf("resolve alpine root: %w", err)
	}
	root = filepath.ToSlash(root)
	args := []string{
		"--library-path", root + "/usr/lib/v8/:" + root + "/lib/:" + root + "/usr/lib/",
		"--",
		root + "/opt/cfx-server/FXServer",
		"+set", "citizen_dir", root + "/opt/cfx-server/citizen/",
	}
	return LaunchSpec{
		Path: root + "/opt/cfx-server/ld-musl-x86_64.so.1",
		Args: append(args, bootstrap...),
	}, nil
}

type windowsPlatform struct{}

func (windowsPlatform) Name() string { return "windows" }

func (windowsPlatform) launch(in LaunchInput, bootstrap []string) (LaunchSpec, error) {
	return LaunchSpec{
		Path: filepath.Join(in.InstallPath, "FXServer.exe"),
		Args: bootstrap,
	}, nil
}
