package config

import (
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validIPPort accepts "host:port" where host is empty or a literal IP
// (bracketed for IPv6) and port is 1..65535. Hostnames are rejected on
// purpose: a listen address should never depend on a resolver.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return false
	}
	return true
}

// validSafePath accepts relative or absolute directory paths that cannot
// climb out of their anchor: no empty value, no bare root, no ".." segment.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" || p == "." {
		return false
	}
	if strings.Trim(p, "/") == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
