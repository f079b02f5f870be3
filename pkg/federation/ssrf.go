package federation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// cgnatBlock is 100.64.0.0/10, used by cloud NAT layers and not covered by
// net.IP.IsPrivate.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// CheckURL rejects dispatch and callback targets that could reach internal
// infrastructure: loopback, link-local (including cloud metadata services),
// RFC 1918 and ULA ranges, and carrier-grade NAT. Hostnames are resolved
// and every address must pass.
func CheckURL(raw string) error {
	if raw == "" {
		return errors.New("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("url has no host")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("host %q is loopback", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(host, ip)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := checkIP(host, ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(host string, ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("host %q is loopback", host)
	case ip.IsUnspecified():
		return fmt.Errorf("host %q is unspecified", host)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("host %q is link-local", host)
	case ip.IsPrivate():
		return fmt.Errorf("host %q is in a private range", host)
	case cgnatBlock.Contains(ip):
		return fmt.Errorf("host %q is in the carrier-grade NAT range", host)
	}
	return nil
}
