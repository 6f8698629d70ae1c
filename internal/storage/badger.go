package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"touchbase/internal/checkin"
	logx "touchbase/pkg/logx"
)

// Key layout:
//
//	c/<owner>/<id>   contact JSON
//	k/<owner>/<id>   check-in JSON
//	t/<owner>        feed token JSON
//	tk/<token>       owner id
const (
	prefixContact = "c/"
	prefixCheckIn = "k/"
	prefixToken   = "t/"
	prefixTokenIx = "tk/"
)

type badgerStore struct {
	db  *badger.DB
	log logx.Logger
}

// badgerLogger adapts logx.Logger to badger's Logger interface.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerStore{db: db, log: log}, nil
}

func (s *badgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func getJSON(txn *badger.Txn, k string, v any) error {
	item, err := txn.Get([]byte(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
}

func setJSON(txn *badger.Txn, k string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(k), b)
}

// scan calls fn for every value under prefix.
func scan(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *badgerStore) Owners(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			var rest string
			switch {
			case strings.HasPrefix(k, prefixContact):
				rest = strings.TrimPrefix(k, prefixContact)
			case strings.HasPrefix(k, prefixCheckIn):
				rest = strings.TrimPrefix(k, prefixCheckIn)
			default:
				continue
			}
			if owner, _, ok := strings.Cut(rest, "/"); ok {
				seen[owner] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}

func (s *badgerStore) ListContacts(ctx context.Context, owner string) ([]checkin.Contact, error) {
	out := make([]checkin.Contact, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixContact+owner+"/", func(val []byte) error {
			var c checkin.Contact
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

func (s *badgerStore) GetContact(ctx context.Context, owner, id string) (checkin.Contact, error) {
	var c checkin.Contact
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixContact+owner+"/"+id, &c)
	})
	return c, err
}

func (s *badgerStore) InsertContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error) {
	if err := validateContact(c); err != nil {
		return checkin.Contact{}, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixContact+c.OwnerID+"/"+c.ID, c)
	})
	return c, err
}

func (s *badgerStore) UpdateContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error) {
	if err := validateContact(c); err != nil {
		return checkin.Contact{}, err
	}
	k := prefixContact + c.OwnerID + "/" + c.ID
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev checkin.Contact
		if err := getJSON(txn, k, &prev); err != nil {
			return err
		}
		return setJSON(txn, k, c)
	})
	return c, err
}

func (s *badgerStore) DeleteContact(ctx context.Context, owner, id string) error {
	return s.deleteKey(prefixContact + owner + "/" + id)
}

func (s *badgerStore) deleteKey(k string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(k)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete([]byte(k))
	})
}

func (s *badgerStore) ListCheckIns(ctx context.Context, f CheckInFilter) ([]checkin.CheckIn, error) {
	prefix := prefixCheckIn
	if f.OwnerID != "" {
		prefix += f.OwnerID + "/"
	}
	out := make([]checkin.CheckIn, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefix, func(val []byte) error {
			var c checkin.CheckIn
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			if f.match(c) {
				out = append(out, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortCheckIns(out)
	return out, nil
}

func (s *badgerStore) GetCheckIn(ctx context.Context, owner, id string) (checkin.CheckIn, error) {
	var c checkin.CheckIn
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixCheckIn+owner+"/"+id, &c)
	})
	return c, err
}

func (s *badgerStore) InsertCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error) {
	if err := validateCheckIn(c); err != nil {
		return checkin.CheckIn{}, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixCheckIn+c.OwnerID+"/"+c.ID, c)
	})
	return c, err
}

func (s *badgerStore) UpdateCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error) {
	if err := validateCheckIn(c); err != nil {
		return checkin.CheckIn{}, err
	}
	k := prefixCheckIn + c.OwnerID + "/" + c.ID
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev checkin.CheckIn
		if err := getJSON(txn, k, &prev); err != nil {
			return err
		}
		return setJSON(txn, k, c)
	})
	return c, err
}

func (s *badgerStore) DeleteCheckIn(ctx context.Context, owner, id string) error {
	return s.deleteKey(prefixCheckIn + owner + "/" + id)
}

// ApplyBulk runs in one read-write transaction. Badger's optimistic
// concurrency aborts the commit with ErrConflict if another writer touched a
// key we read; the caller sees the error and nothing is applied.
func (s *badgerStore) ApplyBulk(ctx context.Context, u BulkUpdate) (map[checkin.Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := map[checkin.Status]int{}
	cond := CheckInFilter{OwnerID: u.OwnerID, Statuses: []checkin.Status{u.From}, Before: u.Before}
	err := s.db.Update(func(txn *badger.Txn) error {
		var rows []checkin.CheckIn
		if err := scan(txn, prefixCheckIn+u.OwnerID+"/", func(val []byte) error {
			var c checkin.CheckIn
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			if cond.match(c) {
				rows = append(rows, c)
			}
			return nil
		}); err != nil {
			return err
		}
		moved := map[string]bool{}
		for _, tr := range u.Transitions {
			ids := idSet(tr.IDs)
			for _, c := range rows {
				if moved[c.ID] {
					continue
				}
				if ids != nil {
					if _, ok := ids[c.ID]; !ok {
						continue
					}
				}
				c.Status = tr.To
				if !u.At.IsZero() {
					c.UpdatedAt = u.At
				}
				if err := setJSON(txn, prefixCheckIn+c.OwnerID+"/"+c.ID, c); err != nil {
					return err
				}
				moved[c.ID] = true
				res[tr.To]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *badgerStore) GetFeedToken(ctx context.Context, owner string) (checkin.FeedToken, error) {
	var t checkin.FeedToken
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixToken+owner, &t)
	})
	return t, err
}

func (s *badgerStore) PutFeedToken(ctx context.Context, t checkin.FeedToken) error {
	if t.OwnerID == "" || t.Token == "" {
		return ErrInvalid
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var prev checkin.FeedToken
		err := getJSON(txn, prefixToken+t.OwnerID, &prev)
		switch {
		case err == nil:
			if err := txn.Delete([]byte(prefixTokenIx + prev.Token)); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if err := setJSON(txn, prefixToken+t.OwnerID, t); err != nil {
			return err
		}
		return txn.Set([]byte(prefixTokenIx+t.Token), []byte(t.OwnerID))
	})
}

func (s *badgerStore) AddFeedToken(ctx context.Context, t checkin.FeedToken) (checkin.FeedToken, error) {
	if t.OwnerID == "" || t.Token == "" {
		return checkin.FeedToken{}, ErrInvalid
	}
	out := t
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev checkin.FeedToken
		err := getJSON(txn, prefixToken+t.OwnerID, &prev)
		switch {
		case err == nil:
			out = prev
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if err := setJSON(txn, prefixToken+t.OwnerID, t); err != nil {
			return err
		}
		return txn.Set([]byte(prefixTokenIx+t.Token), []byte(t.OwnerID))
	})
	if errors.Is(err, badger.ErrConflict) {
		// a concurrent writer issued first
		return s.GetFeedToken(ctx, t.OwnerID)
	}
	if err != nil {
		return checkin.FeedToken{}, err
	}
	return out, nil
}

func (s *badgerStore) OwnerForFeedToken(ctx context.Context, token string) (string, error) {
	var owner string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixTokenIx + token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			owner = string(val)
			return nil
		})
	})
	return owner, err
}
