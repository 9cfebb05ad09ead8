package domain

import "time"

// UsageCounts are row totals across all users.
type UsageCounts struct {
	Users    int `json:"users"`
	Plans    int `json:"plans"`
	Research int `json:"research"`
}

// PlanActivity is one recently generated plan.
type PlanActivity struct {
	ID        string    `json:"id"`
	Company   string    `json:"company"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageStats summarises service usage for operators.
type UsageStats struct {
	Counts         UsageCounts    `json:"counts"`
	RecentActivity []PlanActivity `json:"recentActivity"`
}
