package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"gate-checkin/models"
	"gate-checkin/security"
	"gate-checkin/utils"
)

// SeedFile is the YAML fixture the reference backend can start from.
type SeedFile struct {
	Events    []SeedEvent    `yaml:"events"`
	Operators []SeedOperator `yaml:"operators"`
}

type SeedEvent struct {
	ID      int64        `yaml:"id"`
	Name    string       `yaml:"name"`
	Venue   string       `yaml:"venue"`
	Date    string       `yaml:"date"`
	Tickets []SeedTicket `yaml:"tickets"`
}

type SeedTicket struct {
	ID       string          `yaml:"id"`
	Category string          `yaml:"category"`
	Price    decimal.Decimal `yaml:"price"`
	Email    string          `yaml:"email"`
	// Sold defaults to true.
	Sold *bool `yaml:"sold"`
}

type SeedOperator struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// SeedSummary reports what Apply wrote.
type SeedSummary struct {
	Events    int
	Tickets   int
	Operators int
}

// ParseSeed decodes a seed file, fills generated ids and validates it.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f SeedFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	seen := make(map[string]struct{})
	for i := range f.Events {
		ev := &f.Events[i]
		if ev.ID <= 0 || strings.TrimSpace(ev.Name) == "" {
			return nil, fmt.Errorf("parse seed: event %d needs a positive id and a name", i)
		}
		for j := range ev.Tickets {
			t := &ev.Tickets[j]
			if t.ID == "" {
				code, err := utils.GenerateTicketCode()
				if err != nil {
					return nil, fmt.Errorf("parse seed: %w", err)
				}
				t.ID = code
			}
			if _, dup := seen[t.ID]; dup {
				return nil, fmt.Errorf("parse seed: duplicate ticket id %q", t.ID)
			}
			seen[t.ID] = struct{}{}
			if t.Category == "" {
				t.Category = "GA"
			}
		}
	}
	for i, op := range f.Operators {
		if op.Email == "" || op.Password == "" {
			return nil, fmt.Errorf("parse seed: operator %d needs an email and a password", i)
		}
		if op.Role != models.RoleAgent && op.Role != models.RoleAdmin {
			return nil, fmt.Errorf("parse seed: operator %s has unknown role %q", op.Email, op.Role)
		}
	}
	return &f, nil
}

func (t SeedTicket) sold() bool {
	return t.Sold == nil || *t.Sold
}

// Totals returns the sold count and revenue of an event.
func (e SeedEvent) Totals() (int64, decimal.Decimal) {
	var sold int64
	revenue := decimal.Zero
	for _, t := range e.Tickets {
		if t.sold() {
			sold++
			revenue = revenue.Add(t.Price)
		}
	}
	return sold, revenue
}

// Apply writes the seed in one transaction. Check-in state already in Redis
// survives a re-seed.
func (f *SeedFile) Apply(ctx context.Context, rdb redis.Cmdable) (SeedSummary, error) {
	ops := make([]models.Operator, 0, len(f.Operators))
	hashes := make([]string, 0, len(f.Operators))
	for _, op := range f.Operators {
		hash, err := security.HashPassword(op.Password)
		if err != nil {
			return SeedSummary{}, err
		}
		ops = append(ops, models.Operator{ID: uuid.NewString(), Email: normalizeEmail(op.Email), Name: op.Name, Role: op.Role})
		hashes = append(hashes, hash)
	}

	var sum SeedSummary
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range f.Events {
			sold, revenue := ev.Totals()
			key := eventKey(ev.ID)
			pipe.SAdd(ctx, eventsKey, strconv.FormatInt(ev.ID, 10))
			pipe.HSet(ctx, key,
				"name", ev.Name,
				"venue", ev.Venue,
				"date", ev.Date,
				"sold", strconv.FormatInt(sold, 10),
				"revenue", revenue.StringFixed(2),
			)
			pipe.HSetNX(ctx, key, "scanned", "0")
			sum.Events++

			for _, t := range ev.Tickets {
				soldFlag := "0"
				if t.sold() {
					soldFlag = "1"
				}
				pipe.HSet(ctx, ticketKey(models.TicketID(t.ID)),
					"event_id", strconv.FormatInt(ev.ID, 10),
					"category", t.Category,
					"price", t.Price.StringFixed(2),
					"email", normalizeEmail(t.Email),
					"sold", soldFlag,
				)
				if t.Email != "" {
					pipe.SAdd(ctx, holderKey(t.Email), t.ID)
				}
				sum.Tickets++
			}
		}
		for i, op := range ops {
			pipe.HSet(ctx, operatorKey(op.Email),
				"id", op.ID,
				"name", op.Name,
				"role", op.Role,
				"password_hash", hashes[i],
			)
			sum.Operators++
		}
		return nil
	})
	if err != nil {
		return SeedSummary{}, fmt.Errorf("apply seed: %w", err)
	}

	slog.Info("seed applied", "events", sum.Events, "tickets", sum.Tickets, "operators", sum.Operators)
	return sum, nil
}
