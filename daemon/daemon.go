// Package daemon is a small keybase daemon that serves the keybase1 service protocols from an in-memory
// account set, driving the login flow through callbacks into the caller's UI protocols.
package daemon

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"duplex-rpc/config"
	"duplex-rpc/keybase1"
	"duplex-rpc/message"
	"duplex-rpc/registry"
	"duplex-rpc/rpc"
)

type account struct {
	user       keybase1.User
	passphrase string
	devices    []keybase1.Device
}

// Service implements the config, session, login and device protocols. Login state is daemon-wide:
// every connection sees the same current user.
type Service struct {
	serverURI   string
	maxAttempts int
	logger      *zap.Logger

	accounts map[string]*account // By username

	mu      sync.Mutex
	current *account
}

var (
	_ keybase1.ConfigInterface  = (*Service)(nil)
	_ keybase1.SessionInterface = (*Service)(nil)
	_ keybase1.LoginInterface   = (*Service)(nil)
	_ keybase1.DeviceInterface  = (*Service)(nil)
)

func New(cfg config.DaemonConfig, logger *zap.Logger) (*Service, error) {
	s := &Service{
		serverURI:   cfg.ServerURI,
		maxAttempts: cfg.MaxLoginAttempts,
		logger:      logger,
		accounts:    make(map[string]*account, len(cfg.Accounts)),
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	for _, ac := range cfg.Accounts {
		uid, err := keybase1.UIDFromHex(ac.UID)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", ac.Username, err)
		}
		acct := &account{
			user:       keybase1.User{UID: uid, Username: ac.Username},
			passphrase: ac.Passphrase,
		}
		for _, d := range ac.Devices {
			acct.devices = append(acct.devices, keybase1.Device{Type: d.Type, Name: d.Name, DeviceID: d.ID})
		}
		s.accounts[ac.Username] = acct
	}
	return s, nil
}

// Register adds the service protocols to r.
func (s *Service) Register(r *registry.Registry) {
	r.RegisterProtocol(keybase1.ConfigProtocol(s))
	r.RegisterProtocol(keybase1.SessionProtocol(s))
	r.RegisterProtocol(keybase1.LoginProtocol(s))
	r.RegisterProtocol(keybase1.DeviceProtocol(s))
}

func (s *Service) GetCurrentStatus(ctx context.Context) (keybase1.GetCurrentStatusRes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := keybase1.GetCurrentStatusRes{
		Configured: len(s.accounts) > 0,
		Registered: len(s.accounts) > 0,
		LoggedIn:   s.current != nil,
		ServerURI:  s.serverURI,
	}
	if s.current != nil {
		u := s.current.user
		res.User = &u
	}
	return res, nil
}

func (s *Service) CurrentSession(ctx context.Context) (keybase1.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return keybase1.Session{}, keybase1.NoSession()
	}
	return keybase1.Session{UID: s.current.user.UID, Username: s.current.user.Username}, nil
}

// PassphraseLogin logs a user in. A missing username is asked for through loginUi, a missing or wrong
// passphrase through secretUi, up to the configured number of attempts.
func (s *Service) PassphraseLogin(ctx context.Context, arg keybase1.PassphraseLoginArg) error {
	caller, err := callerOf(ctx)
	if err != nil {
		return err
	}

	username := arg.Username
	if username == "" {
		username, err = keybase1.LoginUiClient{Cli: caller}.GetEmailOrUsername(ctx, arg.SessionID)
		if err != nil {
			return fmt.Errorf("asking for username: %w", err)
		}
	}
	acct, ok := s.accounts[username]
	if !ok {
		return keybase1.BadLoginUserNotFound(username)
	}

	passphrase := arg.Passphrase
	for attempt := 1; ; attempt++ {
		if passphrase == "" {
			prompt := keybase1.GetKeybasePassphraseArg{SessionID: arg.SessionID, Username: username}
			if attempt > 1 {
				prompt.Retry = "Wrong passphrase, please try again"
			}
			passphrase, err = keybase1.SecretUiClient{Cli: caller}.GetKeybasePassphrase(ctx, prompt)
			if err != nil {
				return fmt.Errorf("asking for passphrase: %w", err)
			}
			if passphrase == "" {
				return keybase1.Canceled("passphrase entry canceled")
			}
		}
		if passphrase == acct.passphrase {
			break
		}
		s.logger.Info("bad passphrase", zap.String("username", username), zap.Int("attempt", attempt))
		if attempt >= s.maxAttempts {
			return keybase1.BadLoginPassword(attempt)
		}
		passphrase = ""
	}

	s.mu.Lock()
	s.current = acct
	s.mu.Unlock()
	s.logger.Info("logged in", zap.String("username", username))
	s.tell(ctx, caller, arg.SessionID, keybase1.LogLevel_INFO, "Logged in as "+username)
	return nil
}

func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.logger.Info("logged out", zap.String("username", s.current.user.Username))
	}
	s.current = nil
	return nil
}

// SwitchUser makes arg.Username the current user, asking the caller to confirm when someone else is
// logged in.
func (s *Service) SwitchUser(ctx context.Context, arg keybase1.SwitchUserArg) error {
	acct, ok := s.accounts[arg.Username]
	if !ok {
		return keybase1.BadLoginUserNotFound(arg.Username)
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current != nil && current != acct {
		caller, err := callerOf(ctx)
		if err != nil {
			return err
		}
		ok, err := keybase1.UiClient{Cli: caller}.PromptYesNo(ctx, keybase1.PromptYesNoArg{
			SessionID: arg.SessionID,
			Text:      keybase1.Text{Data: fmt.Sprintf("Log out %s and switch to %s?", current.user.Username, arg.Username)},
			Def:       true,
		})
		if err != nil {
			return fmt.Errorf("confirming switch: %w", err)
		}
		if !ok {
			return keybase1.Canceled("switch user declined")
		}
	}

	s.mu.Lock()
	s.current = acct
	s.mu.Unlock()
	s.logger.Info("switched user", zap.String("username", arg.Username))
	return nil
}

func (s *Service) DeviceList(ctx context.Context, sessionID int) ([]keybase1.Device, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return nil, keybase1.NoSession()
	}

	if caller, err := callerOf(ctx); err == nil {
		s.tell(ctx, caller, sessionID, keybase1.LogLevel_DEBUG,
			fmt.Sprintf("%d devices for %s", len(current.devices), current.user.Username))
	}
	devices := make([]keybase1.Device, len(current.devices))
	copy(devices, current.devices)
	return devices, nil
}

// tell sends a logUi message to the caller. Failures only get logged locally.
func (s *Service) tell(ctx context.Context, caller *rpc.Conn, sessionID int, level keybase1.LogLevel, text string) {
	err := keybase1.LogUiClient{Cli: caller}.Log(ctx, keybase1.LogArg{
		SessionID: sessionID,
		Level:     level,
		Text:      keybase1.Text{Data: text},
	})
	if err != nil {
		s.logger.Debug("logUi.log failed", zap.Error(err))
	}
}

func callerOf(ctx context.Context) (*rpc.Conn, error) {
	conn, ok := rpc.ConnFromContext(ctx)
	if !ok {
		return nil, message.Internal("handler has no caller connection")
	}
	return conn, nil
}
