package backend

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ErrNoBackends is returned when a backend list contains no entries.
var ErrNoBackends = errors.New("backend list is empty")

// LoadFile reads the backend list at path. See Parse for the format.
func LoadFile(path string) ([]*Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backend list: %w", err)
	}
	defer f.Close()

	backends, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return backends, nil
}

// Parse reads one host:port per line, keeping file order. Blank lines and
// lines starting with '#' are skipped.
func Parse(r io.Reader) ([]*Backend, error) {
	var backends []*Backend

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := ValidateAddress(line); err != nil {
			return nil, fmt.Errorf("line %d: %q: %w", lineNo, line, err)
		}
		backends = append(backends, New(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read backend list: %w", err)
	}

	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	return backends, nil
}

// ValidateAddress checks that addr is a dialable host:port.
func ValidateAddress(addr string) error {
	return validateHostPort(addr, true)
}

// ValidateListenAddress checks a host:port to listen on. The host may be
// empty to bind every interface.
func ValidateListenAddress(addr string) error {
	return validateHostPort(addr, false)
}

func validateHostPort(addr string, hostRequired bool) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if host == "" && hostRequired {
		return validation.NewError("validation_invalid_host", "host cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	if err := is.Port.Validate(port); err != nil || port == "" {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	return nil
}
