package models

import "time"

// User represents an account that can own decks and assignments (teacher)
// or open submissions (student).
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	// RoleTeacher marks users that upload decks and create assignments.
	RoleTeacher = "teacher"
	// RoleStudent marks users that answer assignments.
	RoleStudent = "student"
)

// IsTeacher reports whether the user holds the teacher role.
func (u User) IsTeacher() bool {
	return u.Role == RoleTeacher
}
