package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/repositories"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewManager("test-secret", "domainalert")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	userID := uuid.New()
	token, err := m.GenerateAccessToken(userID, "a@example.com", true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != userID.String() || claims.Email != "a@example.com" || !claims.IsAdmin {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	signer, _ := NewManager("secret-a", "domainalert")
	verifier, _ := NewManager("secret-b", "domainalert")

	token, err := signer.GenerateAccessToken(uuid.New(), "a@example.com", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.ValidateAccessToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m, _ := NewManager("test-secret", "domainalert")

	past := time.Now().Add(-time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "domainalert",
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
		UserID: uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ValidateAccessToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestValidateRejectsUnsignedAlg(t *testing.T) {
	m, _ := NewManager("test-secret", "domainalert")
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "domainalert",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ValidateAccessToken(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword("hunter22", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("hunter23", hash) {
		t.Error("wrong password accepted")
	}
}

// staticUserRepo serves a single user by email.
type staticUserRepo struct {
	user *db.User
}

func (r *staticUserRepo) Create(context.Context, *db.User) error { return nil }
func (r *staticUserRepo) GetByID(context.Context, uuid.UUID) (*db.User, error) {
	return nil, repositories.ErrNotFound
}
func (r *staticUserRepo) GetByEmail(_ context.Context, email string) (*db.User, error) {
	if r.user != nil && r.user.Email == email {
		return r.user, nil
	}
	return nil, repositories.ErrNotFound
}
func (r *staticUserRepo) Update(context.Context, *db.User) error  { return nil }
func (r *staticUserRepo) Delete(context.Context, uuid.UUID) error { return nil }
func (r *staticUserRepo) List(context.Context, repositories.ListOptions) ([]db.User, int64, error) {
	return nil, 0, nil
}

func TestLogin(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &db.User{Email: "o@example.com", PasswordHash: hash}
	user.ID = uuid.New()

	m, _ := NewManager("test-secret", "domainalert")
	svc := NewService(&staticUserRepo{user: user}, m)
	ctx := context.Background()

	token, got, err := svc.Login(ctx, "o@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("user = %v", got.ID)
	}
	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if claims.UserID != user.ID.String() {
		t.Errorf("token uid = %q", claims.UserID)
	}

	if _, _, err := svc.Login(ctx, "o@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, _, err := svc.Login(ctx, "missing@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, must not reveal enumeration", err)
	}
}
