package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"attendance.client/internal/core/model"
	"attendance.client/internal/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// undefinedTable is the SQLSTATE of a missing relation.
const undefinedTable = "42P01"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidInviteCode = errors.New("invite code does not match any company")
	ErrAlreadyMember     = errors.New("account already belongs to a company")
	ErrNotMember         = errors.New("account does not belong to the company")
)

// DocumentReader reads the documents the client follows. Missing documents
// are reported as nil without an error.
type DocumentReader interface {
	GetAccount(ctx context.Context, uid string) (*model.Account, error)
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	FindLatestAttendance(ctx context.Context, uid, companyID string) (*model.AttendanceRecord, error)
}

// Repository adds the writes the callable backend performs.
type Repository interface {
	DocumentReader
	CreateCompany(ctx context.Context, uid, companyName, userName string) (*model.Company, error)
	JoinCompany(ctx context.Context, uid, inviteCode, userName string) (*model.Company, error)
	RecordAttendance(ctx context.Context, uid, companyID string, kind model.AttendanceType, at time.Time) (*model.AttendanceRecord, error)
	DeleteAccountAndCompany(ctx context.Context, uid string) (*Deletion, error)
}

// Deletion describes what DeleteAccountAndCompany removed.
type Deletion struct {
	CompanyID      string
	CompanyDeleted bool
	DeletedUIDs    []string
}

// DocumentRepository is the PostgreSQL implementation.
type DocumentRepository struct {
	DB *sql.DB
}

// NewDocumentRepository create new instance
func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func tagUID(ctx context.Context, uid string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.uid", uid))
}

// GetAccount reads users/{uid}.
func (r *DocumentRepository) GetAccount(ctx context.Context, uid string) (*model.Account, error) {
	tagUID(ctx, uid)

	query := `SELECT user_name, COALESCE(company_id, ''), COALESCE(role, '')
              FROM users
              WHERE uid = $1`

	acct := &model.Account{}
	err := r.DB.QueryRowContext(ctx, query, uid).Scan(&acct.UserName, &acct.CompanyID, &acct.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// GetCompany reads companies/{id}.
func (r *DocumentRepository) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	query := `SELECT id, name, invite_code, owner_uid, created_at
              FROM companies
              WHERE id = $1`

	c := &model.Company{}
	err := r.DB.QueryRowContext(ctx, query, companyID).Scan(&c.ID, &c.Name, &c.InviteCode, &c.OwnerUID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindLatestAttendance get the most recent record of a user in a company
func (r *DocumentRepository) FindLatestAttendance(ctx context.Context, uid, companyID string) (*model.AttendanceRecord, error) {
	tagUID(ctx, uid)

	rec := &model.AttendanceRecord{UID: uid, CompanyID: companyID}

	query := `SELECT id, type, timestamp
              FROM attendance
              WHERE uid = $1 AND company_id = $2
              ORDER BY timestamp DESC
              LIMIT 1`

	err := r.DB.QueryRowContext(ctx, query, uid, companyID).Scan(&rec.ID, &rec.Type, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryError(err)
	}
	return rec, nil
}

// queryError reports a query against schema objects that were never
// created as ports.ErrIndexRequired.
func queryError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", ports.ErrIndexRequired, pgErr.Message)
	}
	return err
}

// CreateCompany creates a company owned by uid and makes uid its admin.
func (r *DocumentRepository) CreateCompany(ctx context.Context, uid, companyName, userName string) (*model.Company, error) {
	tagUID(ctx, uid)

	company := &model.Company{
		ID:         uuid.NewString(),
		Name:       companyName,
		InviteCode: newInviteCode(),
		OwnerUID:   uid,
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureNotMember(ctx, tx, uid); err != nil {
			return err
		}

		query := `INSERT INTO companies (id, name, invite_code, owner_uid, created_at)
                  VALUES ($1, $2, $3, $4, now())
                  RETURNING created_at`
		if err := tx.QueryRowContext(ctx, query, company.ID, company.Name, company.InviteCode, uid).Scan(&company.CreatedAt); err != nil {
			return fmt.Errorf("insert company: %w", err)
		}

		return upsertMember(ctx, tx, uid, userName, company.ID, model.RoleAdmin)
	})
	if err != nil {
		return nil, err
	}
	return company, nil
}

// JoinCompany adds uid to the company holding inviteCode.
func (r *DocumentRepository) JoinCompany(ctx context.Context, uid, inviteCode, userName string) (*model.Company, error) {
	tagUID(ctx, uid)

	company := &model.Company{}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureNotMember(ctx, tx, uid); err != nil {
			return err
		}

		query := `SELECT id, name, invite_code, owner_uid, created_at
                  FROM companies
                  WHERE invite_code = $1`
		err := tx.QueryRowContext(ctx, query, inviteCode).Scan(&company.ID, &company.Name, &company.InviteCode, &company.OwnerUID, &company.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidInviteCode
		}
		if err != nil {
			return fmt.Errorf("find company by invite code: %w", err)
		}

		return upsertMember(ctx, tx, uid, userName, company.ID, model.RoleUser)
	})
	if err != nil {
		return nil, err
	}
	return company, nil
}

// RecordAttendance stores a clock-in or clock-out for a member of companyID.
func (r *DocumentRepository) RecordAttendance(ctx context.Context, uid, companyID string, kind model.AttendanceType, at time.Time) (*model.AttendanceRecord, error) {
	tagUID(ctx, uid)

	var member string
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(company_id, '') FROM users WHERE uid = $1`, uid).Scan(&member)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if member != companyID {
		return nil, ErrNotMember
	}

	rec := &model.AttendanceRecord{UID: uid, CompanyID: companyID, Type: kind, Timestamp: at}
	query := `INSERT INTO attendance (uid, company_id, type, timestamp)
              VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.DB.QueryRowContext(ctx, query, uid, companyID, kind, at).Scan(&rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteAccountAndCompany removes uid. An admin takes the whole company with
// them: every member account and all attendance records.
func (r *DocumentRepository) DeleteAccountAndCompany(ctx context.Context, uid string) (*Deletion, error) {
	tagUID(ctx, uid)

	result := &Deletion{}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var companyID, role string
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(company_id, ''), COALESCE(role, '') FROM users WHERE uid = $1`, uid).Scan(&companyID, &role)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		result.CompanyID = companyID

		if companyID == "" || role != model.RoleAdmin {
			if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE uid = $1`, uid); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE uid = $1`, uid); err != nil {
				return err
			}
			result.DeletedUIDs = []string{uid}
			return nil
		}

		rows, err := tx.QueryContext(ctx, `SELECT uid FROM users WHERE company_id = $1`, companyID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var member string
			if err := rows.Scan(&member); err != nil {
				return err
			}
			result.DeletedUIDs = append(result.DeletedUIDs, member)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
		result.CompanyDeleted = true

		for _, stmt := range []string{
			`DELETE FROM attendance WHERE company_id = $1`,
			`DELETE FROM users WHERE company_id = $1`,
			`DELETE FROM companies WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, companyID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *DocumentRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ensureNotMember(ctx context.Context, tx *sql.Tx, uid string) error {
	var companyID string
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(company_id, '') FROM users WHERE uid = $1`, uid).Scan(&companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if companyID != "" {
		return ErrAlreadyMember
	}
	return nil
}

func upsertMember(ctx context.Context, tx *sql.Tx, uid, userName, companyID, role string) error {
	query := `INSERT INTO users (uid, user_name, company_id, role, updated_at)
              VALUES ($1, $2, $3, $4, now())
              ON CONFLICT (uid) DO UPDATE
              SET user_name = EXCLUDED.user_name,
                  company_id = EXCLUDED.company_id,
                  role = EXCLUDED.role,
                  updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, query, uid, userName, companyID, role); err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// newInviteCode returns an 8 character upper-case code.
func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
