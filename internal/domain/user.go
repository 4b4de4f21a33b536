package domain

import "time"

// User represents the person running outreach. Identified by email on
// upsert; the numeric ID is assigned by the server store.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Company        string    `json:"company,omitempty"`
	CompanyDetails string    `json:"company_details,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AppConfig is the display configuration fetched once at session
// creation to seed the transcript with a welcome entry.
type AppConfig struct {
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	InputPlaceholder string `json:"input_placeholder"`
	WelcomeMessage   string `json:"welcome_message"`
}
