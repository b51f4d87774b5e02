package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xKoRx/echo-bridge/sdk/domain"
)

const commandBucketName = "commands"

// BoltJournal persiste los comandos no resueltos de la cola en un archivo bbolt.
type BoltJournal struct {
	db *bolt.DB
}

// journalRecord es el valor guardado por comando.
// El comando viaja en su wire format; el estado de entrega va aparte.
type journalRecord struct {
	Command         json.RawMessage `json:"command"`
	Status          string          `json:"status"`
	EnqueuedAt      int64           `json:"enqueued_at"`
	DeliveryCount   int             `json:"delivery_count"`
	LastDeliveredAt int64           `json:"last_delivered_at"`
}

// OpenBoltJournal abre (o crea) el journal en path.
func OpenBoltJournal(path string) (*BoltJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(commandBucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

// Close cierra el archivo.
func (j *BoltJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *BoltJournal) Put(ctx context.Context, cmd *domain.Command) error {
	if cmd == nil || cmd.CommandID == "" {
		return fmt.Errorf("journal put: command id required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeRecord(cmd)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(commandBucketName)).Put([]byte(cmd.CommandID), data)
	})
}

func (j *BoltJournal) UpdateMany(ctx context.Context, cmds []*domain.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := make(map[string][]byte, len(cmds))
	for _, cmd := range cmds {
		if cmd == nil || cmd.CommandID == "" {
			continue
		}
		data, err := encodeRecord(cmd)
		if err != nil {
			return err
		}
		records[cmd.CommandID] = data
	}
	if len(records) == 0 {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(commandBucketName))
		for id, data := range records {
			if b.Get([]byte(id)) == nil {
				continue
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeRecord(cmd *domain.Command) ([]byte, error) {
	wire, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	data, err := json.Marshal(journalRecord{
		Command:         wire,
		Status:          string(cmd.Status),
		EnqueuedAt:      cmd.EnqueuedAt.UnixNano(),
		DeliveryCount:   cmd.DeliveryCount,
		LastDeliveredAt: unixNanoOrZero(cmd.LastDeliveredAt),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal journal record: %w", err)
	}
	return data, nil
}

func (j *BoltJournal) Delete(ctx context.Context, commandID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(commandBucketName)).Delete([]byte(commandID))
	})
}

// LoadAll retorna los comandos ordenados por enqueued_at (y command_id para empates).
// Registros corruptos se omiten.
func (j *BoltJournal) LoadAll(ctx context.Context) ([]*domain.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var commands []*domain.Command
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(commandBucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) == 0 {
				continue
			}
			var rec journalRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			var cmd domain.Command
			if err := json.Unmarshal(rec.Command, &cmd); err != nil {
				continue
			}
			cmd.Status = domain.CommandStatus(rec.Status)
			cmd.EnqueuedAt = time.Unix(0, rec.EnqueuedAt).UTC()
			cmd.DeliveryCount = rec.DeliveryCount
			if rec.LastDeliveredAt != 0 {
				cmd.LastDeliveredAt = time.Unix(0, rec.LastDeliveredAt).UTC()
			}
			commands = append(commands, &cmd)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	sort.SliceStable(commands, func(a, b int) bool {
		if commands[a].EnqueuedAt.Equal(commands[b].EnqueuedAt) {
			return commands[a].CommandID < commands[b].CommandID
		}
		return commands[a].EnqueuedAt.Before(commands[b].EnqueuedAt)
	})
	return commands, nil
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
