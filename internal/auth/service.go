package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"worksuite.app/internal/ids"
	"worksuite.app/internal/obs"
	"worksuite.app/internal/session"
)

const (
	defaultTokenTTL     = 30 * 24 * time.Hour
	defaultSessionTTL   = 30 * 24 * time.Hour
	defaultMagicLinkTTL = 15 * time.Minute
	defaultLinkBaseURL  = "http://localhost:8080/auth/verify"

	sessionIDBytes = 32
	magicLinkBytes = 48
)

var errMissingMailer = errors.New("auth: mailer is required")

// Service orchestrates registration, credential exchange and request
// authentication over the credential store and the session store.
type Service struct {
	store    Store
	sessions session.Store
	mailer   Mailer
	logger   *slog.Logger
	now      func() time.Time

	secret       []byte
	tokenTTL     time.Duration
	sessionTTL   time.Duration
	magicLinkTTL time.Duration
	linkBaseURL  string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HMAC secret used to sign and verify tokens.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errMissingSecret
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithTokenTTL configures signed token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
		return nil
	}
}

// WithSessionTTL configures how long a session entry lives in the session store.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithMagicLinkTTL configures magic link lifetime.
func WithMagicLinkTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.magicLinkTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithMailer sets the magic link delivery channel.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

// WithLinkBaseURL sets the URL magic link tokens are appended to.
func WithLinkBaseURL(raw string) ServiceOption {
	return func(s *Service) error {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("auth: link base url: %w", err)
		}
		s.linkBaseURL = raw
		return nil
	}
}

// WithLogger sets the logger used for server-side diagnostics.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service. A token secret and a mailer are mandatory.
func NewService(store Store, sessions session.Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if sessions == nil {
		return nil, errors.New("auth: session store is required")
	}
	svc := &Service{
		store:        store,
		sessions:     sessions,
		logger:       slog.Default(),
		now:          time.Now,
		tokenTTL:     defaultTokenTTL,
		sessionTTL:   defaultSessionTTL,
		magicLinkTTL: defaultMagicLinkTTL,
		linkBaseURL:  defaultLinkBaseURL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errMissingSecret
	}
	if svc.mailer == nil {
		return nil, errMissingMailer
	}
	return svc, nil
}

// SessionTTL is the lifetime applied to new sessions.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// Register creates an active account. It does not log the account in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.ClientID = strings.TrimSpace(in.ClientID)

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Password, validation.By(passwordRule)),
		validation.Field(&in.Role, validation.By(roleRule)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Role == "" {
		in.Role = RoleClient
	}

	accounts := s.store.Accounts(ctx)
	if _, err := accounts.FindByEmail(ctx, in.Email); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	acct := &Account{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      in.Role,
		ClientID:  in.ClientID,
		Active:    true,
	}
	if in.Password != "" {
		hash, err := HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		acct.PasswordHash = hash
	}
	if err := accounts.Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Login exchanges email and password for a signed token backed by a new
// session. Unknown, inactive and mismatched credentials are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	acct, err := s.store.Accounts(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			VerifyPassword(password, dummyHash)
			obs.ObserveLogin("password", "rejected")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !acct.Active {
		VerifyPassword(password, dummyHash)
		obs.ObserveLogin("password", "rejected")
		return LoginResult{}, ErrInvalidCredentials
	}
	if !acct.HasPassword() {
		VerifyPassword(password, dummyHash)
		obs.ObserveLogin("password", "rejected")
		return LoginResult{}, ErrPasswordNotSet
	}
	if !VerifyPassword(password, acct.PasswordHash) {
		obs.ObserveLogin("password", "rejected")
		return LoginResult{}, ErrInvalidCredentials
	}
	res, err := s.startSession(ctx, acct)
	if err != nil {
		return LoginResult{}, err
	}
	obs.ObserveLogin("password", "success")
	return res, nil
}

// RequestMagicLink issues a single-use login link for an active account.
// Unknown and inactive addresses succeed silently without creating a link.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	acct, err := s.store.Accounts(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !acct.Active {
		return nil
	}

	raw, err := GenerateToken(magicLinkBytes)
	if err != nil {
		return err
	}
	link := &MagicLink{
		AccountID: acct.ID,
		TokenHash: hashToken(raw),
		ExpiresAt: s.now().UTC().Add(s.magicLinkTTL),
	}
	if err := s.store.MagicLinks(ctx).Create(ctx, link); err != nil {
		return err
	}
	obs.MagicLinkIssued()

	msg := MagicLinkMessage{
		AccountID: acct.ID,
		Email:     acct.Email,
		Link:      s.linkURL(raw),
		ExpiresAt: link.ExpiresAt,
	}
	if err := s.mailer.SendMagicLink(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "magic link delivery failed", "account_id", acct.ID, "error", err)
	}
	return nil
}

// VerifyMagicLink redeems a magic link token. A link can be redeemed once.
func (s *Service) VerifyMagicLink(ctx context.Context, rawToken string) (LoginResult, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return LoginResult{}, ErrInvalidMagicLink
	}
	links := s.store.MagicLinks(ctx)
	link, err := links.FindByToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.rejectLink(ctx, "unknown")
		}
		return LoginResult{}, err
	}
	if link.Used {
		return s.rejectLink(ctx, "used")
	}
	if link.Expired(s.now()) {
		return s.rejectLink(ctx, "expired")
	}
	consumed, err := links.MarkUsed(ctx, link.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if !consumed {
		return s.rejectLink(ctx, "used")
	}

	acct, err := s.store.Accounts(ctx).Find(ctx, link.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.rejectLink(ctx, "account_missing")
		}
		return LoginResult{}, err
	}
	if !acct.Active {
		return s.rejectLink(ctx, "account_inactive")
	}
	res, err := s.startSession(ctx, acct)
	if err != nil {
		return LoginResult{}, err
	}
	obs.ObserveLogin("magic_link", "success")
	return res, nil
}

func (s *Service) rejectLink(ctx context.Context, reason string) (LoginResult, error) {
	s.logger.DebugContext(ctx, "magic link rejected", "reason", reason)
	obs.ObserveLogin("magic_link", "rejected")
	return LoginResult{}, ErrInvalidMagicLink
}

// Logout deletes the session named by token. Tokens that are expired still
// locate their session; malformed or forged tokens are ignored. It reports
// whether a session delete was issued.
func (s *Service) Logout(ctx context.Context, token string) bool {
	claims, err := ParseTokenIgnoringExpiry(token, s.secret)
	if err != nil {
		return false
	}
	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil {
		s.logger.WarnContext(ctx, "session delete failed", "account_id", claims.AccountID, "error", err)
		return false
	}
	obs.SessionRevoked()
	return true
}

// Authenticate resolves token to a principal. The checks run in a fixed
// order and the first failure ends the chain: token present, signature and
// expiry, live session, active account.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrNoToken
	}
	claims, err := verifyTokenAt(token, s.secret, s.now)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Principal{}, ErrSessionExpired
		}
		return Principal{}, fmt.Errorf("load session: %w", err)
	}
	if sess.AccountID != claims.AccountID {
		return Principal{}, ErrSessionExpired
	}
	acct, err := s.store.Accounts(ctx).Find(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrAccountInactive
		}
		return Principal{}, err
	}
	if !acct.Active {
		return Principal{}, ErrAccountInactive
	}
	return Principal{
		ID:        acct.ID,
		Email:     acct.Email,
		Role:      acct.Role,
		ClientID:  acct.ClientID,
		SessionID: claims.SessionID,
	}, nil
}

// Account loads the full account row.
func (s *Service) Account(ctx context.Context, id string) (*Account, error) {
	if !ids.Valid(id) {
		return nil, ErrNotFound
	}
	return s.store.Accounts(ctx).Find(ctx, id)
}

// ListAccounts returns every account, active or not.
func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.store.Accounts(ctx).List(ctx)
}

// Deactivate marks an account inactive. Outstanding tokens stop working on
// their next request because Authenticate re-reads the account.
func (s *Service) Deactivate(ctx context.Context, actor Principal, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if id == actor.ID {
		return fmt.Errorf("%w: cannot deactivate own account", ErrInvalidInput)
	}
	if !ids.Valid(id) {
		return ErrNotFound
	}
	return s.store.Accounts(ctx).SetActive(ctx, id, false)
}

// EnsureAdmin creates an administrator with the given credentials unless an
// account with that email already exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*Account, error) {
	acct, err := s.store.Accounts(ctx).FindByEmail(ctx, email)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: bootstrap admin requires a password", ErrInvalidInput)
	}
	return s.Register(ctx, RegisterInput{
		Email:     email,
		FirstName: "Admin",
		LastName:  "Account",
		Password:  password,
		Role:      RoleAdmin,
	})
}

func (s *Service) startSession(ctx context.Context, acct *Account) (LoginResult, error) {
	sid, err := GenerateToken(sessionIDBytes)
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	rec := session.Session{
		AccountID: acct.ID,
		Email:     acct.Email,
		Role:      string(acct.Role),
		ClientID:  acct.ClientID,
		CreatedAt: now,
	}
	if err := s.sessions.Put(ctx, sid, rec, s.sessionTTL); err != nil {
		return LoginResult{}, fmt.Errorf("store session: %w", err)
	}
	if err := s.store.Accounts(ctx).TouchLastLogin(ctx, acct.ID, now); err != nil {
		_ = s.sessions.Delete(ctx, sid)
		return LoginResult{}, fmt.Errorf("update last login: %w", err)
	}
	acct.LastLogin = &now

	token, err := signTokenAt(Claims{
		AccountID: acct.ID,
		Email:     acct.Email,
		Role:      acct.Role,
		ClientID:  acct.ClientID,
		SessionID: sid,
	}, s.secret, s.tokenTTL, now)
	if err != nil {
		_ = s.sessions.Delete(ctx, sid)
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: now.Add(s.tokenTTL), Account: acct}, nil
}

func (s *Service) linkURL(raw string) string {
	u, err := url.Parse(s.linkBaseURL)
	if err != nil {
		return s.linkBaseURL + "?token=" + url.QueryEscape(raw)
	}
	q := u.Query()
	q.Set("token", raw)
	u.RawQuery = q.Encode()
	return u.String()
}

func passwordRule(value any) error {
	p, _ := value.(string)
	if p == "" {
		return nil
	}
	return ValidatePasswordStrength(p)
}

func roleRule(value any) error {
	r, _ := value.(Role)
	if r == "" || r.Valid() {
		return nil
	}
	return fmt.Errorf("unknown role %q", string(r))
}
