// Package sasqlite is a SQLite-backed implementation of the sastore interfaces.
//
// Building with cgo enabled uses github.com/mattn/go-sqlite3;
// building with the purego tag, or without cgo, uses modernc.org/sqlite.
package sasqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync/atomic"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saregistry"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// Store is a SQLite [sastore.AttestationStore].
type Store struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	// Separate pools for reads and the single writer,
	// so readers never wait on sqlite's write lock.
	ro, rw *sql.DB

	codec sacodec.MarshalCodec
	reg   *gcrypto.Registry
}

// NewOnDiskStore opens or creates the database at dbPath,
// in WAL journal mode.
func NewOnDiskStore(
	ctx context.Context,
	dbPath string,
	codec sacodec.MarshalCodec,
	reg *gcrypto.Registry,
) (*Store, error) {
	dbPath = filepath.Clean(dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %q: %w", dbPath, err)
		}

		// Startup pragmas fail without an existing file.
		f, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create empty database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close new empty database file: %w", err)
		}
	}

	uri := "file:" + dbPath + "?mode=rw"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}

	// A single writer; other writers block on the pool
	// instead of failing with "database is locked".
	rw.SetMaxOpenConns(1)

	if _, err := rw.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	// mode=rw is the final query parameter.
	uri = uri[:len(uri)-1] + "o"
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}

	return &Store{
		BuildType: sqliteBuildType,

		rw: rw,
		ro: ro,

		codec: codec,
		reg:   reg,
	}, nil
}

var inMemNameCounter uint32

// NewInMemStore returns a Store backed by a uniquely named in-memory database.
func NewInMemStore(
	ctx context.Context,
	codec sacodec.MarshalCodec,
	reg *gcrypto.Registry,
) (*Store, error) {
	dbName := fmt.Sprintf("sadb%d", atomic.AddUint32(&inMemNameCounter, 1))
	uri := "file:" + dbName +
		// Connections in this process share the named database
		// only through a shared cache.
		"?mode=memory&cache=shared" +
		// Take the write lock at the start of every transaction.
		"&_txlock=immediate"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}
	rw.SetMaxOpenConns(1)

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	var ok bool
	uri, ok = strings.CutSuffix(uri, "&_txlock=immediate")
	if !ok {
		panic(fmt.Errorf("BUG: failed to cut _txlock suffix from uri %q", uri))
	}
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}

	return &Store{
		BuildType: sqliteBuildType,

		rw: rw,
		ro: ro,

		codec: codec,
		reg:   reg,
	}, nil
}

func (s *Store) Close() error {
	errRO := s.ro.Close()
	if errRO != nil {
		errRO = fmt.Errorf("error closing read-only database: %w", errRO)
	}
	errRW := s.rw.Close()
	if errRW != nil {
		errRW = fmt.Errorf("error closing read-write database: %w", errRW)
	}

	return errors.Join(errRO, errRW)
}

func (s *Store) SaveFailAttestation(
	ctx context.Context,
	round uint64, iteration uint8,
	att saconsensus.Attestation, generator gcrypto.PubKey,
) error {
	defer trace.StartRegion(ctx, "SaveFailAttestation").End()

	if generator == nil {
		return errors.New("cannot save fail attestation without generator")
	}

	b, err := s.codec.MarshalAttestation(att)
	if err != nil {
		return fmt.Errorf("failed to marshal attestation: %w", err)
	}

	_, err = s.rw.ExecContext(
		ctx,
		`INSERT INTO fail_attestations(round, iteration, generator_type, generator_key, att)
VALUES (?, ?, ?, ?, ?)`,
		round, iteration, generator.TypeName(), generator.PubKeyBytes(), b,
	)
	if err != nil {
		if isPrimaryKeyConstraintError(err) {
			return sastore.AttestationExistsError{Round: round, Iteration: iteration}
		}
		return fmt.Errorf("failed to insert fail attestation: %w", err)
	}

	return nil
}

func (s *Store) LoadFailAttestations(
	ctx context.Context, round uint64,
) (map[uint8]saregistry.StoredAttestation, error) {
	defer trace.StartRegion(ctx, "LoadFailAttestations").End()

	rows, err := s.ro.QueryContext(
		ctx,
		`SELECT iteration, generator_type, generator_key, att FROM fail_attestations
WHERE round = ? ORDER BY iteration`,
		round,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fail attestations: %w", err)
	}
	defer rows.Close()

	out := make(map[uint8]saregistry.StoredAttestation)
	for rows.Next() {
		var (
			iteration      uint8
			typ            string
			key, encodedAt []byte
		)
		if err := rows.Scan(&iteration, &typ, &key, &encodedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fail attestation: %w", err)
		}

		generator, err := s.reg.Decode(typ, key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode generator of iteration %d: %w", iteration, err)
		}

		var att saconsensus.Attestation
		if err := s.codec.UnmarshalAttestation(encodedAt, &att); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attestation of iteration %d: %w", iteration, err)
		}

		out[iteration] = saregistry.StoredAttestation{Att: att, Generator: generator}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fail attestations: %w", err)
	}

	return out, nil
}

func (s *Store) PruneBefore(ctx context.Context, round uint64) error {
	defer trace.StartRegion(ctx, "PruneBefore").End()

	if _, err := s.rw.ExecContext(
		ctx, `DELETE FROM fail_attestations WHERE round < ?`, round,
	); err != nil {
		return fmt.Errorf("failed to prune fail attestations: %w", err)
	}
	return nil
}

func pragmasRW(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRW").End()

	// https://www.sqlite.org/lang_analyze.html#periodically_run_pragma_optimize_
	if _, err := db.ExecContext(ctx, `PRAGMA optimize(0x10002);`); err != nil {
		return fmt.Errorf("failed to run startup PRAGMA optimize: %w", err)
	}

	return nil
}
