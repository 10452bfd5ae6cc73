package middleware

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var fingerprintPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ValidateURL validates document URLs before the service downloads them
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	// Parse URL
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	// Check scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (allowed: http, https)", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	// SSRF protection
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("localhost/internal IPs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() {
			return fmt.Errorf("private IP ranges are not allowed")
		}
		if IsInternalIP(ip) {
			return fmt.Errorf("localhost/internal IPs are not allowed")
		}
	}

	return nil
}

// IsInternalIP reports whether ip is loopback, private, link-local, multicast or unspecified.
// The fetcher re-checks resolved addresses with it at dial time.
func IsInternalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast()
}

// ValidateFingerprint checks the 64 lowercase hex SHA-256 format
func ValidateFingerprint(fp string) error {
	if !fingerprintPattern.MatchString(fp) {
		return fmt.Errorf("invalid fingerprint format (64 lowercase hex characters)")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidateOffset clamps negative offsets to 0
func ValidateOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
