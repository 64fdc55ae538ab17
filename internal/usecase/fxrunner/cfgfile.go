package fxrunner

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"fxpanel/internal/domain"
)

// ResolveCfgPath returns cfgPath unchanged when absolute, otherwise joined to dataPath.
func ResolveCfgPath(cfgPath, dataPath string) string {
	if filepath.IsAbs(cfgPath) {
		return filepath.Clean(cfgPath)
	}
	return filepath.Join(dataPath, cfgPath)
}

// ReadCfgFile reads the server cfg file.
func ReadCfgFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cfg file not found: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cfg path %q is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read cfg file: %w", err)
	}
	return string(data), nil
}

var endpointRe = regexp.MustCompile(`(?i)^\s*endpoint_add_(tcp|udp)\s+["']?([^"'\s]+)["']?`)

// DetectPort scans a server cfg for endpoint_add_tcp/udp lines and returns the
// port they share. At least one tcp endpoint is required and every endpoint
// must use the same port.
func DetectPort(cfg string) (int, error) {
	var tcp, udp []int
	sc := bufio.NewScanner(strings.NewReader(cfg))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		m := endpointRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		_, portStr, err := net.SplitHostPort(m[2])
		if err != nil {
			return 0, domain.NewDomainError("DetectPort", domain.ErrPortDetection, fmt.Sprintf("invalid endpoint %q", m[2]))
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return 0, domain.NewDomainError("DetectPort", domain.ErrPortDetection, fmt.Sprintf("invalid port %q", portStr))
		}
		if strings.EqualFold(m[1], "tcp") {
			tcp = append(tcp, port)
		} else {
			udp = append(udp, port)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, domain.NewDomainError("DetectPort", domain.ErrPortDetection, err.Error())
	}

	if len(tcp) == 0 {
		return 0, domain.NewDomainError("DetectPort", domain.ErrPortDetection, "no endpoint_add_tcp found")
	}
	port := tcp[0]
	for _, p := range append(tcp[1:], udp...) {
		if p != port {
			return 0, domain.NewDomainError("DetectPort", domain.ErrPortDetection, "endpoints must all use the same port")
		}
	}
	return port, nil
}
