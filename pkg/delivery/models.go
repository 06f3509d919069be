package delivery

import (
	"time"

	"github.com/uptrace/bun"
)

// Result is an immutable record of one delivery attempt.
type Result struct {
	bun.BaseModel `bun:"table:delivery_log,alias:dl"`

	ID          int64     `bun:",pk,autoincrement" json:"id"`
	Success     bool      `json:"success"`
	BookTitle   string    `bun:",nullzero" json:"book_title"`
	Destination string    `bun:",nullzero" json:"destination"`
	Message     string    `bun:",nullzero" json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}
