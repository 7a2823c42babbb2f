package models

import "time"

type InstagramMedia struct {
	ID           string    `json:"id"`
	Caption      string    `json:"caption,omitempty"`
	MediaType    string    `json:"media_type"` // IMAGE, VIDEO, CAROUSEL_ALBUM
	MediaURL     string    `json:"media_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Permalink    string    `json:"permalink"`
	Timestamp    time.Time `json:"timestamp"`
}

type InstagramEmbed struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}
