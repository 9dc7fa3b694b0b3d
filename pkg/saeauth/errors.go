package saeauth

import "errors"

var (
	errNoCertificate = errors.New("no client certificate presented")
	errSAEInactive   = errors.New("sae is not active")
)
