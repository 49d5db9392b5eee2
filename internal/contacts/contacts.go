// Package contacts resolves phone numbers to display names using the
// address book KDE Connect syncs to disk, with a SQLite cache for the
// stretches where the sync is absent.
package contacts

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/connectd/connectd/internal/session"
	"github.com/connectd/connectd/internal/sms"
)

// Contact is one address-book entry.
type Contact struct {
	Name      string
	Addresses []string
}

// Book holds the resolved contacts of one device. Lookups try the
// exact canonical number first, then the 10-digit suffix.
type Book struct {
	log *zap.Logger
	db  *DB

	mu       sync.RWMutex
	device   string
	contacts []Contact
	exact    map[string]string
	suffix   map[string]string
}

// NewBook creates an empty book backed by the given cache. db may be
// nil; lookups then rely on vCards alone.
func NewBook(log *zap.Logger, db *DB) *Book {
	b := &Book{log: log.Named("contacts"), db: db}
	b.reset("")
	return b
}

func (b *Book) reset(device string) {
	b.device = device
	b.contacts = nil
	b.exact = make(map[string]string)
	b.suffix = make(map[string]string)
}

// LoadForDevice reads the device's synced vCard directory and indexes
// it. When the directory is missing or empty, the last cached import
// is used instead.
func (b *Book) LoadForDevice(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset(deviceID)

	loaded, err := LoadVCardDir(session.VCardDir(deviceID))
	if err != nil || len(loaded) == 0 {
		if err != nil {
			b.log.Debug("vcard directory unavailable", zap.String("device", deviceID), zap.Error(err))
		}
		b.loadFromCache(deviceID)
		return
	}

	b.index(loaded)
	if b.db != nil {
		if err := b.db.ReplaceContacts(deviceID, loaded); err != nil {
			b.log.Warn("contact cache write failed", zap.Error(err))
		}
	}
	b.log.Info("contacts loaded",
		zap.String("device", deviceID),
		zap.Int("count", len(loaded)))
}

func (b *Book) loadFromCache(deviceID string) {
	if b.db == nil {
		return
	}
	cached, err := b.db.ContactsForDevice(deviceID)
	if err != nil {
		b.log.Warn("contact cache read failed", zap.Error(err))
		return
	}
	b.index(cached)
	if len(cached) > 0 {
		b.log.Info("contacts loaded from cache",
			zap.String("device", deviceID),
			zap.Int("count", len(cached)))
	}
}

func (b *Book) index(contacts []Contact) {
	b.contacts = contacts
	for _, c := range contacts {
		for _, addr := range c.Addresses {
			canonical := sms.CanonicalizeNumber(addr)
			if canonical == "" {
				continue
			}
			if _, ok := b.exact[canonical]; !ok {
				b.exact[canonical] = c.Name
			}
			sfx := sms.PhoneSuffix(addr)
			if _, ok := b.suffix[sfx]; !ok {
				b.suffix[sfx] = c.Name
			}
		}
	}
}

// NameFor resolves an address to a contact name.
func (b *Book) NameFor(address string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name, ok := b.exact[sms.CanonicalizeNumber(address)]; ok {
		return name, true
	}
	if name, ok := b.suffix[sms.PhoneSuffix(address)]; ok {
		return name, true
	}
	return "", false
}

// All returns the loaded contacts.
func (b *Book) All() []Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Contact(nil), b.contacts...)
}

// SortByRecency orders contacts so those with recent conversations
// come first, in conversation order, followed by the rest
// alphabetically. Useful for recipient pickers.
func SortByRecency(contacts []Contact, summaries []sms.ConversationSummary) []Contact {
	rank := make(map[string]int)
	for _, c := range contacts {
		for pos, s := range summaries {
			if matchesSummary(c, s) {
				if cur, ok := rank[c.Name]; !ok || pos < cur {
					rank[c.Name] = pos
				}
			}
		}
	}

	out := append([]Contact(nil), contacts...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Name]
		rj, jok := rank[out[j].Name]
		if iok != jok {
			return iok
		}
		if iok && ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func matchesSummary(c Contact, s sms.ConversationSummary) bool {
	for _, addr := range c.Addresses {
		for _, other := range s.Addresses {
			if sms.SameNumber(addr, other) {
				return true
			}
		}
	}
	return false
}
