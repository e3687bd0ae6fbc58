package members

import (
	"database/sql"
	"time"
)

// Member is a row of the users table plus the derived open-loan count.
type Member struct {
	MemberID    int64
	Username    string
	Role        string
	IsActive    bool
	PhoneNumber sql.NullString
	Address     sql.NullString
	CreatedAt   time.Time
	OpenLoans   int
}
