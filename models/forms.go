package models

type ContactRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"omitempty,max=40"`
	Subject   string `json:"subject" validate:"omitempty,max=200"`
	Message   string `json:"message" validate:"required,max=5000"`
	ListingID string `json:"listing_id" validate:"omitempty,max=64"` // set when sent from a listing page
}

type JobApplication struct {
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"omitempty,max=40"`
	Message     string `json:"message" validate:"required,max=5000"`
	ResumeURL   string `json:"resume_url" validate:"omitempty,url"`
	LinkedInURL string `json:"linkedin_url" validate:"omitempty,url"`
}
