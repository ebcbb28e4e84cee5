package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db  *sql.DB
	log *zap.Logger
}

const maxBusyRetries = 10

const (
	sqlInsertUser = `INSERT INTO accounts(id, username, display_name, summary, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectUser = `SELECT id, username, display_name, summary, web_public_key, web_private_key, created_at FROM accounts`

	sqlSelectUserById       = sqlSelectUser + ` WHERE id = ?`
	sqlSelectUserByUsername = sqlSelectUser + ` WHERE username = ?`
	sqlSelectAllUsers       = sqlSelectUser + ` ORDER BY created_at ASC`
	sqlCountUsers           = `SELECT COUNT(*) FROM accounts`
)

// Open opens (or creates) the SQLite database at path and runs the schema
// migrations. ":memory:" gives a private in-memory database, pinned to a
// single connection so every query sees the same data.
func Open(path string) (*DB, error) {
	return OpenWithLogger(path, zap.NewNop())
}

// OpenWithLogger is Open with transaction and migration problems reported
// to logger.
func OpenWithLogger(path string, logger *zap.Logger) (*DB, error) {
	dsn := path
	inMemory := path == ":memory:"
	if !inMemory {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	database := &DB{db: sqlDB, log: logger}
	if err := database.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// CreateAccount stores a new local actor with the given keypair.
func (db *DB) CreateAccount(username string, displayName string, keyPair *util.RsaKeyPair) (*domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username must not be empty")
	}

	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		DisplayName:   displayName,
		WebPublicKey:  keyPair.Public,
		WebPrivateKey: keyPair.Private,
		CreatedAt:     time.Now().UTC(),
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.WebPublicKey,
			acc.WebPrivateKey,
			acc.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (db *DB) ReadAccById(id uuid.UUID) (*domain.Account, error) {
	return scanAccount(db.db.QueryRow(sqlSelectUserById, id.String()))
}

func (db *DB) ReadAccByUsername(username string) (*domain.Account, error) {
	return scanAccount(db.db.QueryRow(sqlSelectUserByUsername, username))
}

func (db *DB) ReadAllAccounts() ([]domain.Account, error) {
	rows, err := db.db.Query(sqlSelectAllUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return accounts, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

func (db *DB) CountAccounts() (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountUsers).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var acc domain.Account
	var idStr string
	var displayName, summary sql.NullString
	err := row.Scan(&idStr, &acc.Username, &displayName, &summary, &acc.WebPublicKey, &acc.WebPrivateKey, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	acc.Id, _ = uuid.Parse(idStr)
	acc.DisplayName = displayName.String
	acc.Summary = summary.String
	return &acc, nil
}

// wrapTransaction runs the given function within a transaction. The whole
// transaction is retried when SQLite reports the database as busy.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = db.runTransaction(f)
		if !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	db.log.Error("Transaction failed, database stayed busy", zap.Error(err))
	return err
}

func (db *DB) runTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		db.log.Error("Failed to start transaction", zap.Error(err))
		return err
	}
	if err = f(tx); err != nil {
		tx.Rollback()
		if !isBusy(err) {
			db.log.Warn("Transaction rolled back", zap.Error(err))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		if !isBusy(err) {
			db.log.Error("Failed to commit transaction", zap.Error(err))
		}
		return err
	}
	return nil
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
	}
	return false
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
