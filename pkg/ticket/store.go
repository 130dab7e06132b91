// Package ticket persists remediation tickets and their audit trails in
// BoltDB. A ticket is opened for every accepted alert; every decision
// and outcome appends an audit entry, so the decision trail survives a
// restart even though breaker state does not.
package ticket

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/pipeheal/pipeheal/pkg/types"
)

var (
	// Bucket names
	bucketTickets = []byte("tickets")
	bucketByRunID = []byte("tickets_by_run_id")
	bucketAudit   = []byte("audit")
)

// Store is a BoltDB-backed ticket and audit store
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the ticket database in dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "pipeheal.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTickets, bucketByRunID, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Create opens a new ticket. A missing ID is generated; timestamps are
// stamped here.
func (s *Store) Create(ticket *types.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	if ticket.Status == "" {
		ticket.Status = types.TicketOpen
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ticket)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTickets).Put([]byte(ticket.ID), data); err != nil {
			return err
		}
		if ticket.RunID != "" {
			if err := tx.Bucket(bucketByRunID).Put([]byte(ticket.RunID), []byte(ticket.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get fetches a ticket by id
func (s *Store) Get(id string) (*types.Ticket, error) {
	var ticket types.Ticket
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTickets).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("ticket %s not found", id)
		}
		return json.Unmarshal(data, &ticket)
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetByRunID fetches the ticket opened for a platform run, if any
func (s *Store) GetByRunID(runID string) (*types.Ticket, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketByRunID).Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("no ticket for run %s", runID)
		}
		id = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// List returns all tickets, newest first
func (s *Store) List() ([]*types.Ticket, error) {
	var tickets []*types.Ticket
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTickets).ForEach(func(_, data []byte) error {
			var ticket types.Ticket
			if err := json.Unmarshal(data, &ticket); err != nil {
				return err
			}
			tickets = append(tickets, &ticket)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
	return tickets, nil
}

// UpdateStatus moves a ticket to a new status
func (s *Store) UpdateStatus(id string, status types.TicketStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTickets)
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("ticket %s not found", id)
		}
		var ticket types.Ticket
		if err := json.Unmarshal(data, &ticket); err != nil {
			return err
		}
		ticket.Status = status
		ticket.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&ticket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), updated)
	})
}

// AppendAudit adds one audit entry to a ticket's trail
func (s *Store) AppendAudit(entry types.AuditEntry) error {
	if entry.TicketID == "" {
		return fmt.Errorf("audit entry needs a ticket id")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(bucketAudit).CreateBucketIfNotExists([]byte(entry.TicketID))
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(fmt.Sprintf("%016d", seq)), data)
	})
}

// Audit returns a ticket's audit trail in append order
func (s *Store) Audit(ticketID string) ([]types.AuditEntry, error) {
	var entries []types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketAudit).Bucket([]byte(ticketID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, data []byte) error {
			var entry types.AuditEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
