package model

// ConvertRequest is the inbound body of the conversion endpoints.
type ConvertRequest struct {
	Name   string `json:"name"`
	Source string `json:"source" binding:"required"`
}
