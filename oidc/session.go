// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Session is a single session on top of a ClientAuthentication.
type Session struct {
	ca *ClientAuthentication

	mu       sync.RWMutex
	info     SessionInfo
	onLogin  []func(SessionInfo)
	onLogout []func()
}

// NewSession creates a logged out Session. An empty sessionID generates one.
func NewSession(ca *ClientAuthentication, sessionID string) (*Session, error) {
	const op = "oidc.NewSession"
	if ca == nil {
		return nil, fmt.Errorf("%s: client authentication is nil: %w", op, ErrNilParameter)
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return &Session{ca: ca, info: SessionInfo{SessionID: sessionID}}, nil
}

// Info returns a copy of the session's information.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// OnLogin registers fn to run after the session logged in.
func (s *Session) OnLogin(fn func(SessionInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogin = append(s.onLogin, fn)
}

// OnLogout registers fn to run after the session logged out.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Login logs the session in. The session id of opts is ignored.
func (s *Session) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	const op = "Session.Login"
	opts.SessionID = s.Info().SessionID
	res, err := s.ca.Login(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.Session != nil && res.Session.IsLoggedIn {
		s.loggedIn(*res.Session)
	}
	return res, nil
}

// HandleIncomingRedirect hands rawURL to the ClientAuthentication. The
// session's information only changes when the redirect logged it in.
func (s *Session) HandleIncomingRedirect(ctx context.Context, rawURL string) (*SessionInfo, error) {
	const op = "Session.HandleIncomingRedirect"
	res, err := s.ca.HandleIncomingRedirect(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res == nil || res.Session == nil || !res.Session.IsLoggedIn {
		return nil, nil
	}
	s.loggedIn(*res.Session)
	info := s.Info()
	return &info, nil
}

// Logout clears the session locally.
func (s *Session) Logout(ctx context.Context) error {
	const op = "Session.Logout"
	s.mu.Lock()
	id := s.info.SessionID
	s.mu.Unlock()
	if err := s.ca.Logout(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	s.info = SessionInfo{SessionID: id}
	callbacks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Fetch sends req with the session's credentials, or unauthenticated while
// the session is logged out.
func (s *Session) Fetch(req *http.Request) (*http.Response, error) {
	info := s.Info()
	if info.IsLoggedIn {
		if fetch, ok := s.ca.SessionFetch(info.SessionID); ok {
			return fetch(req)
		}
	}
	if req == nil {
		return nil, fmt.Errorf("Session.Fetch: request is nil: %w", ErrNilParameter)
	}
	return s.ca.config.Fetcher.Do(req)
}

func (s *Session) loggedIn(info SessionInfo) {
	s.mu.Lock()
	s.info = info
	callbacks := append([]func(SessionInfo){}, s.onLogin...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(info)
	}
}
