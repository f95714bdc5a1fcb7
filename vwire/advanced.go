package vwire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SetProperty changes a widget property on the dashboard, e.g. its color
// or label:
//
//	client.SetProperty(0, "color", "#FF0000")
func (c *Client) SetProperty(pin int, name string, value any) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: property name is required", ErrInvalidValue)
	}

	payload, err := json.Marshal(map[string]any{name: value})
	if err != nil {
		return fmt.Errorf("%w: encoding property: %w", ErrInvalidValue, err)
	}
	return c.publish(c.topics.property(pin), payload)
}

// LogEvent adds an entry to the device event log.
func (c *Client) LogEvent(event, description string) error {
	if strings.TrimSpace(event) == "" {
		return fmt.Errorf("%w: event name is required", ErrInvalidValue)
	}

	payload, err := json.Marshal(struct {
		Event       string  `json:"event"`
		Description string  `json:"description"`
		Timestamp   float64 `json:"timestamp"`
	}{
		Event:       event,
		Description: description,
		Timestamp:   unixSeconds(c.now()),
	})
	if err != nil {
		return err
	}
	return c.publish(c.topics.log(), payload)
}

// SendNotification sends a push notification to the device owner.
func (c *Client) SendNotification(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: notification message is required", ErrInvalidValue)
	}
	return c.publish(c.topics.notify(), []byte(message))
}

// SendEmail asks the server to email the device owner.
func (c *Client) SendEmail(subject, body string) error {
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("%w: email subject is required", ErrInvalidValue)
	}

	payload, err := json.Marshal(struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}{
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}
	return c.publish(c.topics.email(), payload)
}
