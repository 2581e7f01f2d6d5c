package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/usdtpay/settlement/internal/audit"
	"github.com/usdtpay/settlement/internal/models"
	"github.com/usdtpay/settlement/internal/tron"
)

const depositAddressTTL = 30 * time.Minute

// KeyVault encrypts deposit private keys at rest.
type KeyVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, bool)
}

// IssuedAddress is a deposit address with its QR code as a base64 PNG.
type IssuedAddress struct {
	models.DepositAddress
	QRCode string `json:"qr_code"`
}

type DepositService struct {
	db         *sql.DB
	vault      KeyVault
	compliance *ComplianceService
	audit      *audit.Logger
	logger     zerolog.Logger
	generate   func() (*tron.Account, error)
	now        func() time.Time
}

func NewDepositService(db *sql.DB, vault KeyVault, compliance *ComplianceService, auditLog *audit.Logger, logger zerolog.Logger) *DepositService {
	return &DepositService{
		db:         db,
		vault:      vault,
		compliance: compliance,
		audit:      auditLog,
		logger:     logger,
		generate:   tron.GenerateAccount,
		now:        time.Now,
	}
}

// IssueAddress returns the user's live deposit address, creating one if the
// last has expired or been used.
func (s *DepositService) IssueAddress(ctx context.Context, userID string) (*IssuedAddress, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if s.compliance.IsPaused(ctx, models.ClassDeposits) {
		return nil, fmt.Errorf("deposits: %w", ErrPaused)
	}

	now := s.now()
	addr, err := scanDepositAddress(s.db.QueryRowContext(ctx, `
		SELECT `+depositColumns+` FROM deposit_addresses
		WHERE user_id = $1 AND is_used = FALSE AND expires_at > $2
		ORDER BY created_at DESC LIMIT 1`, userID, now))
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if err == sql.ErrNoRows {
		addr, err = s.createAddress(ctx, userID, now)
		if err != nil {
			return nil, err
		}
	}

	qr, err := qrPNG(addr.Address)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return &IssuedAddress{DepositAddress: *addr, QRCode: qr}, nil
}

func (s *DepositService) createAddress(ctx context.Context, userID string, now time.Time) (*models.DepositAddress, error) {
	acct, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate deposit key: %w", err)
	}
	encrypted, err := s.vault.Encrypt(acct.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt deposit key: %w", err)
	}

	addr := &models.DepositAddress{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Address:             acct.Address,
		PrivateKeyEncrypted: encrypted,
		ExpiresAt:           now.Add(depositAddressTTL),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO deposit_addresses (id, user_id, address, private_key_encrypted, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		addr.ID, addr.UserID, addr.Address, addr.PrivateKeyEncrypted, addr.ExpiresAt,
	).Scan(&addr.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save deposit address: %w", err)
	}

	s.audit.Log(ctx, models.AuditEntry{
		ActorType:   audit.ActorUser,
		ActorID:     userID,
		Action:      "deposit_address_issued",
		ReferenceID: addr.ID,
		Metadata:    map[string]any{"address": addr.Address},
	})
	s.logger.Info().Str("user_id", userID).Str("address", addr.Address).Msg("deposit address issued")
	return addr, nil
}

func qrPNG(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

const depositColumns = `id, user_id, address, private_key_encrypted, expires_at, is_used,
		last_observed_balance::text, sweep_tx_hash, created_at`

func scanDepositAddress(row rowScanner) (*models.DepositAddress, error) {
	var a models.DepositAddress
	var observed string
	var sweep sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Address, &a.PrivateKeyEncrypted, &a.ExpiresAt, &a.IsUsed,
		&observed, &sweep, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if a.LastObservedBalance, err = decimal.NewFromString(observed); err != nil {
		return nil, fmt.Errorf("parse last_observed_balance: %w", err)
	}
	if sweep.Valid {
		a.SweepTxHash = &sweep.String
	}
	return &a, nil
}

// ListUnused returns every unused address, expired ones included: a late
// deposit to an expired address is still credited.
func (s *DepositService) ListUnused(ctx context.Context) ([]models.DepositAddress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+depositColumns+` FROM deposit_addresses
		WHERE is_used = FALSE ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DepositAddress
	for rows.Next() {
		a, err := scanDepositAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *DepositService) Get(ctx context.Context, id string) (*models.DepositAddress, error) {
	a, err := scanDepositAddress(s.db.QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM deposit_addresses WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deposit address %w", ErrNotFound)
	}
	return a, err
}

// MarkUsed flips is_used once. It reports false if another tick got there first.
func (s *DepositService) MarkUsed(ctx context.Context, id string, observed decimal.Decimal) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deposit_addresses SET is_used = TRUE, last_observed_balance = $2
		WHERE id = $1 AND is_used = FALSE`, id, observed.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *DepositService) RecordSweep(ctx context.Context, id, txHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deposit_addresses SET sweep_tx_hash = $2, swept_at = NOW()
		WHERE id = $1`, id, txHash)
	return err
}

// DecryptKey returns the deposit private key, or false if it cannot be recovered.
func (s *DepositService) DecryptKey(addr *models.DepositAddress) (string, bool) {
	return s.vault.Decrypt(addr.PrivateKeyEncrypted)
}
