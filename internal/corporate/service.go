// Package corporate manages the corporate/franchise accounts that define scoped tenants.
package corporate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/internal/session"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

var (
	ErrNotFound       = errors.New("corporate: account not found")
	ErrDuplicateEmail = errors.New("corporate: email already used by another account")
	ErrForbidden      = errors.New("corporate: head office only")

	ErrInvalidCredentials = errors.New("corporate: invalid credentials")
	ErrInactive           = errors.New("corporate: account is inactive")
)

// Service stores accounts in the head-office corporate_accounts collection.
type Service struct {
	accounts *storage.Collection[model.CorporateAccount]
	log      *zap.Logger
	now      func() time.Time
}

func NewService(accounts *storage.Collection[model.CorporateAccount], log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{accounts: accounts, log: log, now: time.Now}
}

// List returns every account in stored order.
func (s *Service) List(ctx context.Context, tc session.TenantContext) ([]model.CorporateAccount, error) {
	if !tc.IsSuperAdmin {
		return nil, ErrForbidden
	}
	return s.accounts.Read(ctx, session.SuperAdmin()), nil
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, tc session.TenantContext, id string) (model.CorporateAccount, error) {
	all, err := s.List(ctx, tc)
	if err != nil {
		return model.CorporateAccount{}, err
	}
	for _, acct := range all {
		if acct.ID == id {
			return acct, nil
		}
	}
	return model.CorporateAccount{}, ErrNotFound
}

// Create validates and appends a new account. The id and creation time are assigned here.
func (s *Service) Create(ctx context.Context, tc session.TenantContext, acct model.CorporateAccount) (model.CorporateAccount, error) {
	all, err := s.List(ctx, tc)
	if err != nil {
		return model.CorporateAccount{}, err
	}

	acct.ID = uuid.NewString()
	acct.CreatedAt = s.now().UTC().Format(time.RFC3339)
	acct.Normalize()
	if err := s.validate(all, acct); err != nil {
		return model.CorporateAccount{}, err
	}
	if err := hashPassword(&acct); err != nil {
		return model.CorporateAccount{}, err
	}

	if err := s.save(ctx, append(all, acct)); err != nil {
		return model.CorporateAccount{}, err
	}
	s.log.Info("Corporate account created", zap.String("corporate_id", acct.ID), zap.String("email", acct.Email))
	return acct, nil
}

// Update replaces the account with id. The id and creation time are kept.
// Changing the email does not move data already stored under the old email.
func (s *Service) Update(ctx context.Context, tc session.TenantContext, id string, acct model.CorporateAccount) (model.CorporateAccount, error) {
	all, err := s.List(ctx, tc)
	if err != nil {
		return model.CorporateAccount{}, err
	}

	idx := indexOf(all, id)
	if idx < 0 {
		return model.CorporateAccount{}, ErrNotFound
	}
	prev := all[idx]

	acct.ID = prev.ID
	acct.CreatedAt = prev.CreatedAt
	acct.Normalize()

	others := make([]model.CorporateAccount, 0, len(all)-1)
	others = append(others, all[:idx]...)
	others = append(others, all[idx+1:]...)
	if err := s.validate(others, acct); err != nil {
		return model.CorporateAccount{}, err
	}
	if acct.Password == "" {
		acct.Password = prev.Password
	} else if err := hashPassword(&acct); err != nil {
		return model.CorporateAccount{}, err
	}

	next := make([]model.CorporateAccount, len(all))
	copy(next, all)
	next[idx] = acct
	if err := s.save(ctx, next); err != nil {
		return model.CorporateAccount{}, err
	}

	if !strings.EqualFold(prev.Email, acct.Email) {
		s.log.Warn("Corporate email changed; data stored under the old email is no longer aggregated",
			zap.String("corporate_id", id),
			zap.String("old_email", prev.Email),
			zap.String("new_email", acct.Email))
	}
	return acct, nil
}

// Delete removes the account with id. Its scoped collections are left in place.
func (s *Service) Delete(ctx context.Context, tc session.TenantContext, id string) error {
	all, err := s.List(ctx, tc)
	if err != nil {
		return err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return ErrNotFound
	}

	next := append(all[:idx:idx], all[idx+1:]...)
	if len(next) == 0 {
		// removing the last account is an explicit delete, not an accidental empty write
		if err := s.accounts.Clear(ctx, session.SuperAdmin()); err != nil {
			return err
		}
	} else if err := s.save(ctx, next); err != nil {
		return err
	}
	s.log.Info("Corporate account deleted", zap.String("corporate_id", id))
	return nil
}

// Authenticate checks email and password against the stored accounts and
// returns the matching active account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (model.CorporateAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, acct := range s.accounts.Read(ctx, session.SuperAdmin()) {
		if acct.Email != email {
			continue
		}
		if acct.Password == "" || bcrypt.CompareHashAndPassword([]byte(acct.Password), []byte(password)) != nil {
			return model.CorporateAccount{}, ErrInvalidCredentials
		}
		if acct.Status == model.StatusInactive {
			return model.CorporateAccount{}, ErrInactive
		}
		return acct, nil
	}
	return model.CorporateAccount{}, ErrInvalidCredentials
}

// CheckSession rejects corporate sessions whose account no longer exists or is
// inactive. Head office and employee sessions are not tied to an account.
func (s *Service) CheckSession(ctx context.Context, tc session.TenantContext) error {
	if tc.IsSuperAdmin || tc.Role != session.RoleCorporate {
		return nil
	}
	for _, acct := range s.accounts.Read(ctx, session.SuperAdmin()) {
		if acct.Email != tc.TenantID {
			continue
		}
		if acct.Status == model.StatusInactive {
			return ErrInactive
		}
		return nil
	}
	return ErrNotFound
}

func (s *Service) validate(others []model.CorporateAccount, acct model.CorporateAccount) error {
	if err := model.Check(acct); err != nil {
		return err
	}
	if err := acct.ValidatePartners(); err != nil {
		return err
	}
	if len(acct.Password) > MaxPasswordBytes {
		return fmt.Errorf("%w: password exceeds %d bytes", model.ErrInvalidRecord, MaxPasswordBytes)
	}
	for _, other := range others {
		if strings.EqualFold(other.Email, acct.Email) {
			return fmt.Errorf("%w: %s", ErrDuplicateEmail, acct.Email)
		}
	}
	return nil
}

func (s *Service) save(ctx context.Context, all []model.CorporateAccount) error {
	written, err := s.accounts.Write(ctx, session.SuperAdmin(), all)
	if err != nil {
		return fmt.Errorf("corporate: save accounts: %w", err)
	}
	if !written {
		return fmt.Errorf("corporate: save accounts: refused by persistence guard")
	}
	return nil
}

func hashPassword(acct *model.CorporateAccount) error {
	if acct.Password == "" {
		return nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(acct.Password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return fmt.Errorf("%w: %v", model.ErrInvalidRecord, err)
	}
	if err != nil {
		return fmt.Errorf("corporate: hash password: %w", err)
	}
	acct.Password = string(hashed)
	return nil
}

func indexOf(all []model.CorporateAccount, id string) int {
	for i, acct := range all {
		if acct.ID == id {
			return i
		}
	}
	return -1
}
