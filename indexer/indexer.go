package indexer

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"bdnprotocol/core/types"
)

var (
	// ErrDSNRequired is returned by Open when no DSN is configured.
	ErrDSNRequired = errors.New("indexer: dsn must be configured")
	// ErrChainBroken is returned by Verify when a stored digest does not
	// match its recomputed value.
	ErrChainBroken = errors.New("indexer: digest chain broken")
)

const defaultLimit = 100

// Index persists published events in SQL and chains them with blake3 so a
// tampered row is detectable.
type Index struct {
	db *gorm.DB
}

// Filter narrows an event listing. Zero values match everything.
type Filter struct {
	Type     string
	Op       string
	Height   *uint64
	AfterSeq uint64
	Limit    int
}

func dialectorFor(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Open connects to the database named by dsn and migrates the schema.
// postgres:// and postgresql:// DSNs use Postgres, anything else SQLite.
func Open(dsn string) (*Index, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	db, err := gorm.Open(dialectorFor(trimmed), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Index{db: db}, nil
}

// New wraps an already open connection. The schema must be migrated.
func New(db *gorm.DB) *Index {
	return &Index{db: db}
}

// Close releases the underlying connection pool.
func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func digest(prev string, seq, height uint64, op, typ, attrs string) string {
	h := blake3.New(32, nil)
	var scratch [8]byte
	h.Write([]byte(prev))
	binary.BigEndian.PutUint64(scratch[:], seq)
	h.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], height)
	h.Write(scratch[:])
	for _, part := range []string{op, typ, attrs} {
		binary.BigEndian.PutUint64(scratch[:], uint64(len(part)))
		h.Write(scratch[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (ix *Index) head(tx *gorm.DB) (*EventRecord, error) {
	var last EventRecord
	err := tx.Order("seq desc").Limit(1).Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &last, nil
}

// Append stores the events of one applied request. It satisfies the
// protocol's event sink.
func (ix *Index) Append(ctx context.Context, height uint64, op string, evts []*types.Event) error {
	if len(evts) == 0 {
		return nil
	}
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		last, err := ix.head(tx)
		if err != nil {
			return err
		}
		var seq uint64
		var prev string
		if last != nil {
			seq, prev = last.Seq, last.Digest
		}
		records := make([]EventRecord, 0, len(evts))
		for _, evt := range evts {
			if evt == nil {
				continue
			}
			attrs, err := json.Marshal(evt.Attributes)
			if err != nil {
				return err
			}
			seq++
			rec := EventRecord{
				Seq:        seq,
				Height:     height,
				Op:         op,
				Type:       evt.Type,
				Attributes: string(attrs),
				PrevDigest: prev,
			}
			rec.Digest = digest(prev, rec.Seq, rec.Height, rec.Op, rec.Type, rec.Attributes)
			prev = rec.Digest
			records = append(records, rec)
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
}

// Events lists records in sequence order.
func (ix *Index) Events(ctx context.Context, f Filter) ([]EventRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultLimit
	}
	q := ix.db.WithContext(ctx).Model(&EventRecord{}).Where("seq > ?", f.AfterSeq)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Op != "" {
		q = q.Where("op = ?", f.Op)
	}
	if f.Height != nil {
		q = q.Where("height = ?", *f.Height)
	}
	var out []EventRecord
	if err := q.Order("seq asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Head returns the latest digest and sequence number. An empty index
// reports an empty digest.
func (ix *Index) Head(ctx context.Context) (string, uint64, error) {
	last, err := ix.head(ix.db.WithContext(ctx))
	if err != nil || last == nil {
		return "", 0, err
	}
	return last.Digest, last.Seq, nil
}

// Verify walks the whole chain and returns the number of records checked.
func (ix *Index) Verify(ctx context.Context) (uint64, error) {
	var (
		prev    string
		checked uint64
		batch   []EventRecord
	)
	err := ix.db.WithContext(ctx).Order("seq asc").FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
		for _, rec := range batch {
			if rec.PrevDigest != prev {
				return fmt.Errorf("%w: seq %d links to %s, want %s", ErrChainBroken, rec.Seq, rec.PrevDigest, prev)
			}
			want := digest(prev, rec.Seq, rec.Height, rec.Op, rec.Type, rec.Attributes)
			if rec.Digest != want {
				return fmt.Errorf("%w: seq %d", ErrChainBroken, rec.Seq)
			}
			prev = rec.Digest
			checked++
		}
		return nil
	}).Error
	return checked, err
}
