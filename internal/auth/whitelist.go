package auth

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/xu-registrar/doctrack/internal/rbac"
)

// User is a whitelisted identity.
type User struct {
	Email        string
	Role         rbac.Role
	PasswordHash []byte
	// Provisioned marks identities synthesized for the student domain rather than seeded.
	Provisioned bool
}

// CheckPassword reports whether password matches. OAuth-only users never match.
func (u User) CheckPassword(password string) bool {
	if len(u.PasswordHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}

// SeedUser is one whitelist entry as read from configuration.
type SeedUser struct {
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
	Password string `yaml:"password,omitempty"`
	// PasswordHash is a bcrypt hash; preferred over Password when both are set.
	PasswordHash string `yaml:"password_hash,omitempty"`
}

type seedFile struct {
	Users []SeedUser `yaml:"users"`
}

// DefaultSeed returns the built-in demo accounts.
func DefaultSeed() []SeedUser {
	return []SeedUser{
		{Email: "sysadmin@xu.edu.ph", Role: string(rbac.RoleSystemAdministrator), Password: "SysAdmin123!"},
		{Email: "registrar@xu.edu.ph", Role: string(rbac.RoleUniversityRegistrar), Password: "Registrar456!"},
		{Email: "evaluator@xu.edu.ph", Role: string(rbac.RoleEvaluator), Password: "Evaluator789!"},
		{Email: "assistant@my.xu.edu.ph", Role: string(rbac.RoleStudentAssistant), Password: "Assistant000!"},
		{Email: "intern@my.xu.edu.ph", Role: string(rbac.RoleIntern), Password: "Intern111!"},
	}
}

// LoadSeedFile reads whitelist entries from a YAML file.
func LoadSeedFile(path string) ([]SeedUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read whitelist: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("auth: parse whitelist: %w", err)
	}
	if len(file.Users) == 0 {
		return nil, errors.New("auth: whitelist file has no users")
	}
	return file.Users, nil
}

// Whitelist holds the identities allowed to sign in.
type Whitelist struct {
	mu                 sync.RWMutex
	users              map[string]User
	defaultStudentRole rbac.Role
	decoy              []byte
}

// NewWhitelist constructs an empty whitelist. Unlisted student-domain emails resolve to
// defaultStudentRole.
func NewWhitelist(defaultStudentRole rbac.Role) *Whitelist {
	if !defaultStudentRole.Known() {
		defaultStudentRole = rbac.RoleStudentAssistant
	}
	return &Whitelist{
		users:              make(map[string]User),
		defaultStudentRole: defaultStudentRole,
	}
}

// Seed adds entries, hashing plain passwords with cost.
func (w *Whitelist) Seed(entries []SeedUser, cost int) error {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	decoy, err := bcrypt.GenerateFromPassword([]byte("unlisted-account"), cost)
	if err != nil {
		return fmt.Errorf("auth: hash decoy password: %w", err)
	}
	w.mu.Lock()
	w.decoy = decoy
	w.mu.Unlock()
	for _, entry := range entries {
		email := normalizeEmail(entry.Email)
		if email == "" {
			return errors.New("auth: whitelist entry without email")
		}
		role := rbac.ParseRole(entry.Role)
		if !role.Known() {
			return fmt.Errorf("auth: whitelist entry %s: unknown role %q", email, entry.Role)
		}
		user := User{Email: email, Role: role}
		switch {
		case entry.PasswordHash != "":
			user.PasswordHash = []byte(entry.PasswordHash)
		case entry.Password != "":
			hash, err := bcrypt.GenerateFromPassword([]byte(entry.Password), cost)
			if err != nil {
				return fmt.Errorf("auth: hash password for %s: %w", email, err)
			}
			user.PasswordHash = hash
		}
		w.mu.Lock()
		w.users[email] = user
		w.mu.Unlock()
	}
	return nil
}

// Decoy runs a bcrypt comparison against a throwaway hash so unlisted accounts cost the
// same as listed ones. It is a no-op before the first Seed.
func (w *Whitelist) Decoy(password string) {
	w.mu.RLock()
	decoy := w.decoy
	w.mu.RUnlock()
	if decoy != nil {
		_ = bcrypt.CompareHashAndPassword(decoy, []byte(password))
	}
}

// Lookup resolves email. Unlisted student-domain emails are synthesized with the default
// role; unlisted staff emails are never resolved.
func (w *Whitelist) Lookup(email string) (User, bool) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, false
	}
	w.mu.RLock()
	user, ok := w.users[email]
	w.mu.RUnlock()
	if ok {
		return user, true
	}
	if strings.HasSuffix(email, rbac.DomainStudent) {
		return User{Email: email, Role: w.defaultStudentRole, Provisioned: true}, true
	}
	return User{}, false
}

// Listed reports whether email is stored in the whitelist.
func (w *Whitelist) Listed(email string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.users[normalizeEmail(email)]
	return ok
}

// Provision stores a synthesized user unless the email is already listed.
func (w *Whitelist) Provision(user User) {
	email := normalizeEmail(user.Email)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.users[email]; exists {
		return
	}
	user.Email = email
	user.Provisioned = true
	w.users[email] = user
}

// SetRole changes a stored user's role, provisioning synthesized users first.
func (w *Whitelist) SetRole(email string, role rbac.Role) (User, error) {
	email = normalizeEmail(email)
	w.mu.Lock()
	defer w.mu.Unlock()
	user, ok := w.users[email]
	if !ok {
		if !strings.HasSuffix(email, rbac.DomainStudent) {
			return User{}, ErrUserNotFound
		}
		user = User{Email: email, Provisioned: true}
	}
	user.Role = role
	w.users[email] = user
	return user, nil
}

// Users returns every stored user ordered by email.
func (w *Whitelist) Users() []User {
	w.mu.RLock()
	out := make([]User, 0, len(w.users))
	for _, u := range w.users {
		out = append(out, u)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// Len returns the number of stored users.
func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.users)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
